package edge

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/nostr"
)

// CleanupInterval is how often the sweep drops stale streams and expired
// segments.
const CleanupInterval = 10 * time.Second

// StreamStaleAfter is how long a stream may go without a hit (a new segment
// or a playlist request) before the sweep drops it.
const StreamStaleAfter = 60 * time.Second

type trackedSegment struct {
	Index    int64
	Duration float64
	URL      string
	Expires  *int64
}

type trackedVariant struct {
	ID       string
	Width    int
	Height   int
	Bitrate  int
	MimeType string
	Segments []trackedSegment
}

type trackedStream struct {
	EventID  string
	LastHit  time.Time
	Variants map[string]*trackedVariant
}

// Aggregator maintains the firehose-derived view of every stream currently
// announced on the configured relays: one entry per stream event id,
// carrying its variant ladder and each variant's segment history.
type Aggregator struct {
	log  logger.Logger
	subs []*relaySub

	mu      sync.RWMutex
	streams map[string]*trackedStream
}

// NewAggregator constructs an Aggregator that will, once Run is called,
// dial every relay in relayURLs and subscribe to the stream-announce and
// segment-metadata firehose.
func NewAggregator(relayURLs []string, log logger.Logger) *Aggregator {
	a := &Aggregator{log: log, streams: map[string]*trackedStream{}}
	for _, u := range relayURLs {
		a.subs = append(a.subs, newRelaySub(u, log, a.handleEvent))
	}
	return a
}

// Run dials every configured relay and runs the cleanup sweep until ctx is
// canceled. Blocks until every relay goroutine and the sweep have returned.
func (a *Aggregator) Run(ctx context.Context) {
	baseFilters := []map[string]interface{}{
		{"kinds": []int{nostr.KindStreamAnnounce}, "limit": 10},
		{"kinds": []int{nostr.KindSegmentMetadata}, "#k": []string{"1053"}, "limit": 10},
	}

	var wg sync.WaitGroup
	for _, s := range a.subs {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx, baseFilters)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.cleanupLoop(ctx)
	}()
	wg.Wait()
}

func (a *Aggregator) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(time.Now())
		}
	}
}

// Sweep drops every stream whose last hit is older than StreamStaleAfter
// and, within surviving streams, every segment whose expiration has
// passed. Exported for deterministic testing alongside the background
// loop.
func (a *Aggregator) Sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nowUnix := now.Unix()
	removed := 0
	for id, s := range a.streams {
		if now.Sub(s.LastHit) > StreamStaleAfter {
			delete(a.streams, id)
			removed++
			continue
		}
		for _, v := range s.Variants {
			kept := v.Segments[:0]
			for _, seg := range v.Segments {
				if seg.Expires != nil && *seg.Expires <= nowUnix {
					continue
				}
				kept = append(kept, seg)
			}
			v.Segments = kept
		}
	}
	if removed > 0 {
		a.log.Info("edge: cleaned up expired streams", logger.Int("count", removed))
	}
}

func (a *Aggregator) handleEvent(ev wireEvent) {
	switch ev.Kind {
	case nostr.KindStreamAnnounce:
		a.handleStreamAnnounce(ev)
	case nostr.KindSegmentMetadata:
		a.handleSegment(ev)
	default:
		a.log.Debug("edge: unsupported event kind", logger.Int("kind", ev.Kind))
	}
}

func (a *Aggregator) handleStreamAnnounce(ev wireEvent) {
	a.mu.Lock()
	if _, exists := a.streams[ev.ID]; exists {
		a.mu.Unlock()
		return
	}

	variants := map[string]*trackedVariant{}
	for _, tag := range ev.Tags {
		if len(tag) == 0 || tag[0] != "variant" {
			continue
		}
		vd, err := nostr.ParseVariantTag(tag)
		if err != nil {
			a.log.Warn("edge: skipping malformed variant tag", logger.String("event_id", ev.ID), logger.Err(err))
			continue
		}
		variants[vd.ID] = &trackedVariant{ID: vd.ID, Width: vd.Width, Height: vd.Height, Bitrate: vd.Bitrate, MimeType: vd.MimeType}
	}

	a.streams[ev.ID] = &trackedStream{EventID: ev.ID, LastHit: time.Now(), Variants: variants}
	a.mu.Unlock()

	a.log.Info("edge: tracking stream", logger.String("event_id", ev.ID), logger.Int("variants", len(variants)))
	for _, s := range a.subs {
		s.Prime(ev.ID)
	}
}

func (a *Aggregator) handleSegment(ev wireEvent) {
	var streamID, variantID, url string
	var index int64
	var duration float64
	var expires *int64

	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "e":
			if streamID == "" {
				streamID = tag[1]
			}
		case "d":
			variantID = tag[1]
		case "index":
			if n, err := strconv.ParseInt(tag[1], 10, 64); err == nil {
				index = n
			}
		case "duration":
			if f, err := strconv.ParseFloat(tag[1], 64); err == nil {
				duration = f
			}
		case "url":
			if url == "" {
				url = tag[1]
			}
		case "expiration":
			if n, err := strconv.ParseInt(tag[1], 10, 64); err == nil {
				expires = &n
			}
		}
	}
	if streamID == "" || variantID == "" || url == "" {
		a.log.Warn("edge: segment event missing required tags", logger.String("event_id", ev.ID))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[streamID]
	if !ok {
		// Referenced stream isn't tracked; discard per the aggregator's
		// firehose contract.
		return
	}
	s.LastHit = time.Now()
	v, ok := s.Variants[variantID]
	if !ok {
		a.log.Warn("edge: unknown variant in stream", logger.String("variant_id", variantID), logger.String("stream_id", streamID))
		return
	}
	v.Segments = append(v.Segments, trackedSegment{Index: index, Duration: duration, URL: url, Expires: expires})
}

// VariantSnapshot is a read-only view of one tracked variant, for the HTTP
// layer and tests.
type VariantSnapshot struct {
	ID       string
	Width    int
	Height   int
	Bitrate  int
	MimeType string
}

// StreamSnapshot is a read-only view of one tracked stream.
type StreamSnapshot struct {
	EventID  string
	LastHit  time.Time
	Variants []VariantSnapshot
}

// Stream returns a snapshot of one tracked stream and touches its last-hit
// time, counting a playlist request as activity.
func (a *Aggregator) Stream(id string) (StreamSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[id]
	if !ok {
		return StreamSnapshot{}, false
	}
	s.LastHit = time.Now()
	return snapshotLocked(s), true
}

// Streams returns a snapshot of every currently tracked stream.
func (a *Aggregator) Streams() []StreamSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]StreamSnapshot, 0, len(a.streams))
	for _, s := range a.streams {
		out = append(out, snapshotLocked(s))
	}
	return out
}

func snapshotLocked(s *trackedStream) StreamSnapshot {
	snap := StreamSnapshot{EventID: s.EventID, LastHit: s.LastHit}
	for _, v := range s.Variants {
		snap.Variants = append(snap.Variants, VariantSnapshot{
			ID: v.ID, Width: v.Width, Height: v.Height, Bitrate: v.Bitrate, MimeType: v.MimeType,
		})
	}
	return snap
}

// ActiveSegment is a read-only view of one non-expired segment.
type ActiveSegment struct {
	Index    int64
	Duration float64
	URL      string
}

// ActiveSegments returns streamID/variantID's non-expired segments sorted
// by index, plus the media_sequence (lowest index) and target_duration
// (last segment's duration) the media playlist is rendered with. Also
// touches the stream's last-hit time.
func (a *Aggregator) ActiveSegments(streamID, variantID string) (segs []ActiveSegment, targetDuration float64, minIndex int64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, exists := a.streams[streamID]
	if !exists {
		return nil, 0, 0, false
	}
	v, exists := s.Variants[variantID]
	if !exists {
		return nil, 0, 0, false
	}
	s.LastHit = time.Now()

	now := time.Now().Unix()
	for _, seg := range v.Segments {
		if seg.Expires != nil && *seg.Expires <= now {
			continue
		}
		segs = append(segs, ActiveSegment{Index: seg.Index, Duration: seg.Duration, URL: seg.URL})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })

	targetDuration = 1.0
	if len(segs) > 0 {
		minIndex = segs[0].Index
		targetDuration = segs[len(segs)-1].Duration
	}
	return segs, targetDuration, minIndex, true
}
