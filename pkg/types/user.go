package types

import "time"

// User is the billing/identity record an Overseer resolves a stream key
// against. Persisted externally (self-hosted Overseer: Postgres).
type User struct {
	ID            string
	Pubkey        [32]byte
	Created       time.Time
	BalanceMsats  int64
	TOSAccepted   time.Time
	StreamKey     string
	IsAdmin       bool
	IsBlocked     bool
	DefaultStream StreamDefaults
}

// StreamDefaults holds a user's default metadata applied to new streams.
type StreamDefaults struct {
	Title           string
	Summary         string
	Image           string
	Tags            []string
	ContentWarning  string
	Goal            string
}

// ViewerRecord maps an opaque fingerprint token to the stream it is
// currently attributed to and when it was last seen.
type ViewerRecord struct {
	StreamID string
	Token    string
	LastSeen time.Time
}
