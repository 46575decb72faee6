package nostr

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// EncodeNaddr builds a NIP-19 "naddr" bech32 coordinate for a replaceable
// event (identifier, author pubkey, kind), used in the stream-announce
// event's human-readable "alt" tag.
func EncodeNaddr(kind int, pubkey [32]byte, identifier string) (string, error) {
	var tlv []byte

	// type 0: special (d-tag identifier)
	tlv = append(tlv, 0, byte(len(identifier)))
	tlv = append(tlv, identifier...)

	// type 2: author pubkey
	tlv = append(tlv, 2, 32)
	tlv = append(tlv, pubkey[:]...)

	// type 3: kind, 4 bytes big-endian
	var kindBytes [4]byte
	binary.BigEndian.PutUint32(kindBytes[:], uint32(kind))
	tlv = append(tlv, 3, 4)
	tlv = append(tlv, kindBytes[:]...)

	converted, err := bech32.ConvertBits(tlv, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode("naddr", converted)
}
