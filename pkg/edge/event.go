// Package edge implements the Edge Aggregator: a stateless-between-restarts
// view over the relay firehose that reassembles HLS playlists for viewers
// without ever touching the segment bytes themselves, trusting only what
// relays confirm.
package edge

import "github.com/bitriver/livepipe/pkg/nostr"

// wireEvent is the relay wire shape of a Nostr event, as received inside an
// "EVENT" frame. Unlike nostr.Event (built for signing, with binary id/
// pubkey/sig), this package only ever reads fields off events authored by
// someone else, so hex decoding of id/pubkey/sig is unnecessary.
type wireEvent struct {
	ID        string      `json:"id"`
	Pubkey    string      `json:"pubkey"`
	CreatedAt int64       `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      []nostr.Tag `json:"tags"`
	Content   string      `json:"content"`
	Sig       string      `json:"sig"`
}

// trimExt strips everything from the first '.' onward, e.g. turning
// "<event-id>.m3u8" into "<event-id>".
func trimExt(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i]
		}
	}
	return s
}

// isValidEventID reports whether s looks like a 32-byte hex event id.
func isValidEventID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
