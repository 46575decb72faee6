// Package nostr authors and signs the decentralized publication plane's
// events: stream announcements, segment metadata, blob authorization, and
// the legacy NIP-53 bridge event. Signing composes SHA-256 and Schnorr
// signatures over secp256k1; it does not implement either primitive.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by the publication plane.
const (
	KindStreamAnnounce  = 1053
	KindSegmentMetadata = 1063
	KindBlobAuth        = 24242
	KindMirrorList      = 10063
	KindNIP53Bridge     = 30313
)

// Tag is an ordered list of strings, the wire form of one Nostr tag.
type Tag []string

// Event is the signed domain tuple published to relays.
type Event struct {
	Pubkey    [32]byte `json:"-"`
	CreatedAt int64    `json:"created_at"`
	Kind      int      `json:"kind"`
	Tags      []Tag    `json:"tags"`
	Content   string   `json:"content"`
	ID        [32]byte `json:"-"`
	Sig       [64]byte `json:"-"`
}

// Signer holds a secp256k1 keypair used to author events.
type Signer struct {
	priv   *btcec.PrivateKey
	pubkey [32]byte
}

// NewSigner constructs a Signer from a 32-byte secp256k1 private key.
func NewSigner(privKey []byte) (*Signer, error) {
	if len(privKey) != 32 {
		return nil, fmt.Errorf("nostr: private key must be 32 bytes, got %d", len(privKey))
	}
	priv, pub := btcec.PrivKeyFromBytes(privKey)
	var xOnly [32]byte
	copy(xOnly[:], schnorr.SerializePubKey(pub))
	return &Signer{priv: priv, pubkey: xOnly}, nil
}

// PublicKey returns the 32-byte x-only public key.
func (s *Signer) PublicKey() [32]byte { return s.pubkey }

// serializedForID returns the canonical JSON array ID computation uses:
// [0, pubkey-hex, created_at, kind, tags, content].
func (e *Event) serializedForID() ([]byte, error) {
	arr := []interface{}{
		0,
		hex.EncodeToString(e.Pubkey[:]),
		e.CreatedAt,
		e.Kind,
		e.Tags,
		e.Content,
	}
	return json.Marshal(arr)
}

// ComputeID sets Event.ID to SHA-256 over the canonical serialization.
func (e *Event) ComputeID() error {
	raw, err := e.serializedForID()
	if err != nil {
		return err
	}
	e.ID = sha256.Sum256(raw)
	return nil
}

// Sign authors and signs an event with the given signer: sets Pubkey, ID,
// and Sig. CreatedAt and Kind/Tags/Content must already be populated by the
// caller.
func (s *Signer) Sign(e *Event) error {
	e.Pubkey = s.pubkey
	if err := e.ComputeID(); err != nil {
		return fmt.Errorf("nostr: computing event id: %w", err)
	}
	sig, err := schnorr.Sign(s.priv, e.ID[:])
	if err != nil {
		return fmt.Errorf("nostr: signing event: %w", err)
	}
	copy(e.Sig[:], sig.Serialize())
	return nil
}

// Verify checks an event's id and Schnorr signature against its own pubkey.
func (e *Event) Verify() (bool, error) {
	raw, err := e.serializedForID()
	if err != nil {
		return false, err
	}
	want := sha256.Sum256(raw)
	if want != e.ID {
		return false, nil
	}
	pub, err := schnorr.ParsePubKey(e.Pubkey[:])
	if err != nil {
		return false, fmt.Errorf("nostr: parsing pubkey: %w", err)
	}
	sig, err := schnorr.ParseSignature(e.Sig[:])
	if err != nil {
		return false, fmt.Errorf("nostr: parsing signature: %w", err)
	}
	return sig.Verify(e.ID[:], pub), nil
}

// JSON marshals the event into the relay wire format.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string `json:"id"`
		Pubkey    string `json:"pubkey"`
		CreatedAt int64  `json:"created_at"`
		Kind      int    `json:"kind"`
		Tags      []Tag  `json:"tags"`
		Content   string `json:"content"`
		Sig       string `json:"sig"`
	}{
		ID:        hex.EncodeToString(e.ID[:]),
		Pubkey:    hex.EncodeToString(e.Pubkey[:]),
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      e.Tags,
		Content:   e.Content,
		Sig:       hex.EncodeToString(e.Sig[:]),
	})
}
