package viewer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bitriver/livepipe/pkg/cache"
	"github.com/bitriver/livepipe/pkg/logger"
)

// RemoteCountTTL is how long a gateway instance's published per-stream
// count stays valid in Redis before being treated as stale. RefreshRemote
// must be called more often than this.
const RemoteCountTTL = 30 * time.Second

// EnableRemoteCount wires rc as the cross-process viewer-count backend: in
// a clustered deployment every gateway instance only sees the viewers
// hitting it directly, so a cluster-wide total (GlobalCount) sums every
// instance's published count rather than using the local Count. instanceID
// distinguishes this process's published counts from its peers'.
func (t *Tracker) EnableRemoteCount(rc *cache.RedisCache, instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = rc
	t.instanceID = instanceID
}

// RefreshRemote publishes this instance's local viewer count for every
// stream it currently tracks, keyed "<streamID>:<instanceID>" so a peer
// instance's count isn't overwritten. Intended to run on a short ticker
// alongside the expiry sweep.
func (t *Tracker) RefreshRemote(ctx context.Context) {
	t.mu.RLock()
	remote := t.remote
	instanceID := t.instanceID
	counts := make(map[string]int)
	for _, v := range t.viewers {
		counts[v.streamID]++
	}
	t.mu.RUnlock()

	if remote == nil {
		return
	}
	for streamID, n := range counts {
		key := streamID + ":" + instanceID
		if err := remote.SetString(ctx, key, strconv.Itoa(n), RemoteCountTTL); err != nil {
			t.log.Warn("viewer: failed to publish remote count", logger.String("stream_id", streamID), logger.Err(err))
		}
	}
}

// GlobalCount returns the cluster-wide viewer count for streamID by summing
// every instance's published count. Falls back to the local Count when no
// remote cache is configured.
func (t *Tracker) GlobalCount(ctx context.Context, streamID string) (int, error) {
	t.mu.RLock()
	remote := t.remote
	t.mu.RUnlock()

	if remote == nil {
		return t.Count(streamID), nil
	}

	keys, err := remote.Keys(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	prefix := streamID + ":"
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		s, err := remote.GetString(ctx, key)
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}
