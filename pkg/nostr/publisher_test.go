package nostr

import (
	"context"
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/types"
)

func testPublisher(t *testing.T) (*Publisher, *Signer) {
	t.Helper()
	s := testSigner(t)
	log := logger.NewDefaultLogger(logger.DebugLevel, "text")
	p := NewPublisher(s, nil, 100*time.Millisecond, log)
	return p, s
}

func hasTag(tags []Tag, key string, vals ...string) bool {
	for _, tag := range tags {
		if len(tag) == 0 || tag[0] != key {
			continue
		}
		if len(vals) == 0 {
			return true
		}
		if len(tag) < len(vals)+1 {
			continue
		}
		match := true
		for i, v := range vals {
			if tag[i+1] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestAnnounceStreamBuildsExpectedTags(t *testing.T) {
	p, _ := testPublisher(t)
	meta := StreamMeta{
		StreamID: "stream-1",
		Title:    "Live now",
		Summary:  "testing",
		Image:    "https://example.test/thumb.jpg",
		Tags:     []string{"music", "chiptune"},
		Starts:   1700000000,
		Status:   "live",
		Variants: []types.VariantDescriptor{
			{ID: "v0", MimeType: "video/mp2t", Bitrate: 5_000_000, Width: 1920, Height: 1080},
		},
		ViewerCount: 3,
	}

	ev, err := p.AnnounceStream(context.Background(), meta)
	if err == nil {
		t.Fatal("expected publish error with no relays configured")
	}
	if ev == nil {
		t.Fatal("expected event to be built and signed even though publish failed")
	}

	if !hasTag(ev.Tags, "d", "stream-1") {
		t.Error("expected d tag with stream id")
	}
	if !hasTag(ev.Tags, "title", "Live now") {
		t.Error("expected title tag")
	}
	if !hasTag(ev.Tags, "status", "live") {
		t.Error("expected status tag")
	}
	if !hasTag(ev.Tags, "current_participants", "3") {
		t.Error("expected current_participants tag when status is live")
	}
	if !hasTag(ev.Tags, "t", "music") || !hasTag(ev.Tags, "t", "chiptune") {
		t.Error("expected one t tag per hashtag")
	}
	foundVariant := false
	for _, tag := range ev.Tags {
		if len(tag) > 0 && tag[0] == "variant" {
			foundVariant = true
		}
	}
	if !foundVariant {
		t.Error("expected a variant tag")
	}

	ok, err := ev.Verify()
	if err != nil || !ok {
		t.Fatalf("expected announce event to verify, ok=%v err=%v", ok, err)
	}
}

func TestNextCreatedAtMonotonic(t *testing.T) {
	p, _ := testPublisher(t)
	first := p.nextCreatedAt("stream-x")
	p.lastCreated["stream-x"] = first
	second := p.nextCreatedAt("stream-x")
	if second <= first {
		t.Fatalf("expected created_at to strictly increase: first=%d second=%d", first, second)
	}
}

func TestPublishSegmentBuildsExpectedTags(t *testing.T) {
	p, _ := testPublisher(t)
	sm := SegmentMetadata{
		StreamEventID: "deadbeef",
		VariantID:     "v0",
		Index:         7,
		Duration:      6.0,
		MimeType:      "video/mp2t",
		ExpiresAt:     1700003600,
		Blob: types.BlobDescriptor{
			URL:       "https://blossom.example/abc.ts",
			SHA256Hex: "abc",
			Size:      1024,
		},
	}
	ev, err := p.PublishSegment(context.Background(), sm)
	if err == nil {
		t.Fatal("expected publish error with no relays configured")
	}
	if !hasTag(ev.Tags, "e", "deadbeef") {
		t.Error("expected e tag referencing stream event")
	}
	if !hasTag(ev.Tags, "index", "7") {
		t.Error("expected index tag")
	}
	if !hasTag(ev.Tags, "url", "https://blossom.example/abc.ts") {
		t.Error("expected url tag")
	}
}

func TestParseVariantTagRoundTrips(t *testing.T) {
	tag := Tag{"variant", "d v0", "m video/mp2t", "bitrate 5000000", "dim 1920x1080"}
	vd, err := ParseVariantTag(tag)
	if err != nil {
		t.Fatalf("ParseVariantTag: %v", err)
	}
	if vd.ID != "v0" || vd.MimeType != "video/mp2t" || vd.Bitrate != 5_000_000 || vd.Width != 1920 || vd.Height != 1080 {
		t.Fatalf("unexpected parse result: %+v", vd)
	}
}

func TestSortSegmentsByIndex(t *testing.T) {
	segs := []types.SegmentDescriptor{
		{Index: 3},
		{Index: 1},
		{Index: 2},
	}
	SortSegmentsByIndex(segs)
	for i, want := range []int64{1, 2, 3} {
		if segs[i].Index != want {
			t.Fatalf("position %d: want index %d, got %d", i, want, segs[i].Index)
		}
	}
}
