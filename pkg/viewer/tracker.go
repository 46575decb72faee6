// Package viewer maintains the opaque-token viewer set bound to each live
// stream: deterministic per-client fingerprinting, idle expiry, and
// read-many/write-one access for the playlist gateway.
package viewer

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/google/uuid"

	"github.com/bitriver/livepipe/pkg/cache"
	"github.com/bitriver/livepipe/pkg/logger"
)

// ExpiryWindow is how long a viewer may go unseen before a sweep removes it.
const ExpiryWindow = 600 * time.Second

// SweepInterval is how often the cleanup sweep runs.
const SweepInterval = 60 * time.Second

const tokenHRP = "vt"

type entry struct {
	streamID string
	lastSeen time.Time
}

// Tracker maps opaque viewer tokens to the stream they are currently
// attributed to. Safe for concurrent use: single writer, many readers via
// an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	viewers map[string]entry
	log     logger.Logger

	remote     *cache.RedisCache
	instanceID string

	stopOnce sync.Once
	stop     chan struct{}
}

// New constructs a Tracker and starts its background expiry sweep. Callers
// must call Close to stop the sweep goroutine.
func New(log logger.Logger) *Tracker {
	t := &Tracker{
		viewers: make(map[string]entry),
		log:     log,
		stop:    make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// GenerateToken derives a deterministic viewer token from an IP address and
// optional user agent: bech32("vt", SHA-256(ip++ua)[:8]). Falls back to a
// random UUID only if bech32 encoding itself fails, which cannot happen for
// a fixed 8-byte payload but mirrors the teacher's defensive fallback.
func GenerateToken(ip string, userAgent *string) string {
	input := ip
	if userAgent != nil {
		input += *userAgent
	}
	sum := sha256.Sum256([]byte(input))
	fingerprint := sum[:8]

	converted, err := bech32.ConvertBits(fingerprint, 8, 5, true)
	if err != nil {
		return uuid.NewString()
	}
	token, err := bech32.Encode(tokenHRP, converted)
	if err != nil {
		return uuid.NewString()
	}
	return token
}

// Track upserts the viewer's last-seen timestamp against the given stream.
func (t *Tracker) Track(token, streamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.viewers[token]; ok {
		t.log.Debug("viewer updated", logger.String("token", token), logger.String("stream_id", streamID))
	} else {
		t.log.Debug("viewer tracked", logger.String("token", token), logger.String("stream_id", streamID))
	}
	t.viewers[token] = entry{streamID: streamID, lastSeen: time.Now()}
}

// Count returns the number of non-expired viewers bound to a stream.
func (t *Tracker) Count(streamID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, v := range t.viewers {
		if v.streamID == streamID {
			n++
		}
	}
	return n
}

// Remove explicitly evicts a viewer token.
func (t *Tracker) Remove(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.viewers, token)
}

// Sweep removes any viewer whose last-seen is older than ExpiryWindow. It is
// exported for deterministic testing in addition to the background loop.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for token, v := range t.viewers {
		if now.Sub(v.lastSeen) > ExpiryWindow {
			delete(t.viewers, token)
			t.log.Debug("viewer expired", logger.String("token", token), logger.String("stream_id", v.streamID))
		}
	}
}

func (t *Tracker) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep(time.Now())
		case <-t.stop:
			return
		}
	}
}

// Close stops the background sweep goroutine.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
