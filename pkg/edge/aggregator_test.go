package edge

import (
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/nostr"
)

func testAggregator() *Aggregator {
	return NewAggregator(nil, logger.NewDefaultLogger(logger.DebugLevel, "text"))
}

func streamAnnounceEvent(id string) wireEvent {
	return wireEvent{
		ID:   id,
		Kind: nostr.KindStreamAnnounce,
		Tags: []nostr.Tag{
			{"d", id},
			{"variant", "d 720p30", "m video/mp2t", "bitrate 2500000", "dim 1280x720"},
			{"variant", "d 360p30", "m video/mp2t", "bitrate 800000", "dim 640x360"},
		},
	}
}

func segmentEvent(streamID, variantID string, index int64, url string, expires *int64) wireEvent {
	tags := []nostr.Tag{
		{"e", streamID},
		{"d", variantID},
		{"index", itoa(index)},
		{"duration", "6.000"},
		{"url", url},
	}
	if expires != nil {
		tags = append(tags, nostr.Tag{"expiration", itoa(*expires)})
	}
	return wireEvent{ID: "seg-" + itoa(index), Kind: nostr.KindSegmentMetadata, Tags: tags}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestHandleStreamAnnounceTracksVariants(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent("s1"))

	snap, ok := a.Stream("s1")
	if !ok {
		t.Fatal("expected stream s1 to be tracked")
	}
	if len(snap.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(snap.Variants))
	}
}

func TestHandleStreamAnnounceIgnoresDuplicate(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent("s1"))
	a.streams["s1"].Variants["extra"] = &trackedVariant{ID: "extra"}
	a.handleEvent(streamAnnounceEvent("s1"))

	snap, _ := a.Stream("s1")
	if len(snap.Variants) != 3 {
		t.Fatalf("expected the duplicate announce to be ignored, got %d variants", len(snap.Variants))
	}
}

func TestHandleSegmentAppendsToKnownVariant(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent("s1"))
	a.handleEvent(segmentEvent("s1", "720p30", 0, "https://mirror.example/0.ts", nil))
	a.handleEvent(segmentEvent("s1", "720p30", 1, "https://mirror.example/1.ts", nil))

	segs, target, minIdx, ok := a.ActiveSegments("s1", "720p30")
	if !ok {
		t.Fatal("expected variant to be found")
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if minIdx != 0 {
		t.Fatalf("expected media sequence 0, got %d", minIdx)
	}
	if target != 6.0 {
		t.Fatalf("expected target duration 6.0, got %v", target)
	}
}

func TestHandleSegmentDiscardsUnknownStream(t *testing.T) {
	a := testAggregator()
	a.handleEvent(segmentEvent("unknown-stream", "720p30", 0, "https://mirror.example/0.ts", nil))

	if _, ok := a.Stream("unknown-stream"); ok {
		t.Fatal("expected unknown stream to stay untracked")
	}
}

func TestHandleSegmentDiscardsUnknownVariant(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent("s1"))
	a.handleEvent(segmentEvent("s1", "does-not-exist", 0, "https://mirror.example/0.ts", nil))

	segs, _, _, ok := a.ActiveSegments("s1", "does-not-exist")
	if ok {
		t.Fatalf("expected unknown variant lookup to fail, got %d segments", len(segs))
	}
}

func TestSweepDropsStaleStreamsAndExpiredSegments(t *testing.T) {
	a := testAggregator()
	a.handleEvent(streamAnnounceEvent("s1"))
	past := time.Now().Add(-time.Hour).Unix()
	a.handleEvent(segmentEvent("s1", "720p30", 0, "https://mirror.example/0.ts", &past))
	a.handleEvent(segmentEvent("s1", "720p30", 1, "https://mirror.example/1.ts", nil))

	a.Sweep(time.Now())
	segs, _, _, ok := a.ActiveSegments("s1", "720p30")
	if !ok {
		t.Fatal("expected stream to survive a recent sweep")
	}
	if len(segs) != 1 {
		t.Fatalf("expected the expired segment to be dropped, got %d segments", len(segs))
	}

	a.handleEvent(streamAnnounceEvent("s2"))
	a.mu.Lock()
	a.streams["s2"].LastHit = time.Now().Add(-2 * StreamStaleAfter)
	a.mu.Unlock()
	a.Sweep(time.Now())
	if _, ok := a.Stream("s2"); ok {
		t.Fatal("expected the stale stream to be dropped")
	}
}
