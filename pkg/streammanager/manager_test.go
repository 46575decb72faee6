package streammanager

import (
	"sync"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
)

func TestCheckLivenessMarksStreamWithNoFirstSegmentStale(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	var mu sync.Mutex
	var staled []string
	m := &Manager{
		log:     log,
		streams: make(map[string]*trackedStream),
		onStale: func(id string) {
			mu.Lock()
			staled = append(staled, id)
			mu.Unlock()
		},
		done: make(chan struct{}),
	}

	start := time.Now()
	m.TrackStart("s1", start)
	m.checkLiveness(start.Add(FirstSegmentDeadline + time.Second))

	mu.Lock()
	defer mu.Unlock()
	if len(staled) != 1 || staled[0] != "s1" {
		t.Fatalf("expected s1 to be marked stale, got %v", staled)
	}
}

func TestCheckLivenessToleratesRecentSegment(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	var staled []string
	m := &Manager{
		log:     log,
		streams: make(map[string]*trackedStream),
		onStale: func(id string) { staled = append(staled, id) },
		done:    make(chan struct{}),
	}

	start := time.Now()
	m.TrackStart("s1", start)
	m.TrackSegment("s1", start.Add(5*time.Second))
	m.checkLiveness(start.Add(10 * time.Second))

	if len(staled) != 0 {
		t.Fatalf("expected no stale stream with a recent segment, got %v", staled)
	}

	m.mu.Lock()
	_, ok := m.streams["s1"]
	m.mu.Unlock()
	if !ok {
		t.Fatal("expected stream to remain tracked")
	}
}

func TestCheckLivenessMarksStreamStaleAfterSegmentGap(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	var staled []string
	m := &Manager{
		log:     log,
		streams: make(map[string]*trackedStream),
		onStale: func(id string) { staled = append(staled, id) },
		done:    make(chan struct{}),
	}

	start := time.Now()
	m.TrackStart("s1", start)
	m.TrackSegment("s1", start.Add(1*time.Second))
	m.checkLiveness(start.Add(1*time.Second + SegmentStaleAfter + time.Second))

	if len(staled) != 1 || staled[0] != "s1" {
		t.Fatalf("expected s1 to go stale after segment gap, got %v", staled)
	}
}

func TestNeedsRepublishOnCountChange(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	m := &Manager{log: log, streams: make(map[string]*trackedStream), done: make(chan struct{})}

	now := time.Now()
	if !m.NeedsRepublish("s1", 5, now) {
		t.Fatal("expected first sample to require republish")
	}
	if m.NeedsRepublish("s1", 5, now.Add(time.Second)) {
		t.Fatal("expected no republish when count is unchanged and interval not elapsed")
	}
	if !m.NeedsRepublish("s1", 6, now.Add(2*time.Second)) {
		t.Fatal("expected republish when viewer count changes")
	}
}

func TestNeedsRepublishAfterIntervalElapses(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	m := &Manager{log: log, streams: make(map[string]*trackedStream), done: make(chan struct{})}

	now := time.Now()
	m.NeedsRepublish("s1", 5, now)
	if !m.NeedsRepublish("s1", 5, now.Add(RepublishInterval+time.Second)) {
		t.Fatal("expected republish once the interval elapses, even with unchanged count")
	}
}

func TestUntrackRemovesStream(t *testing.T) {
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	m := &Manager{log: log, streams: make(map[string]*trackedStream), done: make(chan struct{})}
	m.TrackStart("s1", time.Now())
	m.Untrack("s1")
	if _, ok := m.streams["s1"]; ok {
		t.Fatal("expected stream to be removed")
	}
}
