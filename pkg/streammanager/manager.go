// Package streammanager tracks the set of currently-live streams and drives
// two derived behaviors: liveness staleness detection and viewer-count
// change detection that triggers stream-announce republication.
package streammanager

import (
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
)

const (
	// SweepInterval is how often the liveness sweep runs.
	SweepInterval = 5 * time.Second
	// SegmentStaleAfter marks a stream stale if no segment has arrived for
	// this long.
	SegmentStaleAfter = 60 * time.Second
	// FirstSegmentDeadline marks a stream stale if it produced no segment
	// at all within this long of starting.
	FirstSegmentDeadline = 30 * time.Second
	// RepublishInterval forces a stream-announce republish even when the
	// viewer count hasn't changed, once this much time has passed.
	RepublishInterval = 10 * time.Minute
)

type trackedStream struct {
	streamID             string
	startedAt            time.Time
	lastSegmentAt        time.Time
	hasFirstSegment      bool
	lastPublishedViewers int
	lastPublishedAt      time.Time
}

// Manager tracks live streams and notifies callers when a stream goes stale
// or its stream-announce event needs republishing.
type Manager struct {
	log logger.Logger

	mu      sync.Mutex
	streams map[string]*trackedStream

	onStale func(streamID string)

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Manager. onStale is invoked (from the sweep goroutine)
// whenever a tracked stream is found stale; the caller is expected to end
// the stream via the Overseer.
func New(log logger.Logger, onStale func(streamID string)) *Manager {
	m := &Manager{
		log:     log,
		streams: make(map[string]*trackedStream),
		onStale: onStale,
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// TrackStart registers a newly started stream.
func (m *Manager) TrackStart(streamID string, startedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[streamID] = &trackedStream{
		streamID:  streamID,
		startedAt: startedAt,
	}
}

// TrackSegment records that a segment was just produced for streamID.
func (m *Manager) TrackSegment(streamID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.streams[streamID]
	if !ok {
		ts = &trackedStream{streamID: streamID, startedAt: at}
		m.streams[streamID] = ts
	}
	ts.lastSegmentAt = at
	ts.hasFirstSegment = true
}

// Untrack removes a stream, called when it ends.
func (m *Manager) Untrack(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, streamID)
}

// NeedsRepublish reports whether the stream-announce event for streamID
// should be republished given the current viewer count, and if so marks
// the count/time as published. Call this once per viewer-count sample.
func (m *Manager) NeedsRepublish(streamID string, currentViewers int, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.streams[streamID]
	if !ok {
		ts = &trackedStream{streamID: streamID, startedAt: now}
		m.streams[streamID] = ts
	}
	changed := currentViewers != ts.lastPublishedViewers
	expired := ts.lastPublishedAt.IsZero() || now.Sub(ts.lastPublishedAt) >= RepublishInterval
	if !changed && !expired {
		return false
	}
	ts.lastPublishedViewers = currentViewers
	ts.lastPublishedAt = now
	return true
}

// sweepLoop periodically checks every tracked stream for staleness.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.checkLiveness(time.Now())
		case <-m.done:
			return
		}
	}
}

func (m *Manager) checkLiveness(now time.Time) {
	var stale []string
	m.mu.Lock()
	for id, ts := range m.streams {
		if !ts.hasFirstSegment {
			if now.Sub(ts.startedAt) >= FirstSegmentDeadline {
				stale = append(stale, id)
			}
			continue
		}
		if now.Sub(ts.lastSegmentAt) >= SegmentStaleAfter {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.log.Warn("stream marked stale", logger.String("stream_id", id))
		if m.onStale != nil {
			m.onStale(id)
		}
	}
}

// Close stops the sweep goroutine.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}
