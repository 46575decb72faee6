package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// ParsePrivateKey decodes a signing key given either as a bech32 nsec1...
// string or as 64 hex characters, returning the raw 32-byte key.
func ParsePrivateKey(s string) ([]byte, error) {
	if len(s) > 4 && s[:4] == "nsec" {
		hrp, data, err := bech32.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("nostr: decode nsec: %w", err)
		}
		if hrp != "nsec" {
			return nil, fmt.Errorf("nostr: unexpected bech32 prefix %q", hrp)
		}
		converted, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("nostr: convert nsec bits: %w", err)
		}
		if len(converted) != 32 {
			return nil, fmt.Errorf("nostr: nsec decodes to %d bytes, want 32", len(converted))
		}
		return converted, nil
	}

	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("nostr: decode hex private key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("nostr: hex private key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
