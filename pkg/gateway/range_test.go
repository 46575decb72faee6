package gateway

import "testing"

func TestParseRangeNoHeaderServesFullBody(t *testing.T) {
	_, _, hasRange, ok := ParseRange("", 1000)
	if !ok || hasRange {
		t.Fatalf("expected hasRange=false ok=true, got hasRange=%v ok=%v", hasRange, ok)
	}
}

func TestParseRangeMultipartFallsBackToFullBody(t *testing.T) {
	_, _, hasRange, ok := ParseRange("bytes=0-10,20-30", 1000)
	if !ok || hasRange {
		t.Fatalf("expected multipart range to fall back to full body, got hasRange=%v ok=%v", hasRange, ok)
	}
}

func TestParseRangeSimpleBoundedRange(t *testing.T) {
	start, end, hasRange, ok := ParseRange("bytes=100-199", 1000)
	if !ok || !hasRange {
		t.Fatalf("expected a valid range, got hasRange=%v ok=%v", hasRange, ok)
	}
	if start != 100 || end != 199 {
		t.Fatalf("expected 100-199, got %d-%d", start, end)
	}
}

func TestParseRangeUnboundedEndCappedAt1MiB(t *testing.T) {
	start, end, hasRange, ok := ParseRange("bytes=0-", 10*1024*1024)
	if !ok || !hasRange {
		t.Fatalf("expected a valid range, got hasRange=%v ok=%v", hasRange, ok)
	}
	if start != 0 || end != MaxUnboundedRange {
		t.Fatalf("expected 0-%d, got %d-%d", MaxUnboundedRange, start, end)
	}
}

func TestParseRangeUnboundedEndClampedToSize(t *testing.T) {
	start, end, hasRange, ok := ParseRange("bytes=0-", 100)
	if !ok || !hasRange {
		t.Fatalf("expected a valid range, got hasRange=%v ok=%v", hasRange, ok)
	}
	if start != 0 || end != 99 {
		t.Fatalf("expected 0-99, got %d-%d", start, end)
	}
}

func TestParseRangeSuffixRange(t *testing.T) {
	start, end, hasRange, ok := ParseRange("bytes=-100", 1000)
	if !ok || !hasRange {
		t.Fatalf("expected a valid range, got hasRange=%v ok=%v", hasRange, ok)
	}
	if start != 900 || end != 999 {
		t.Fatalf("expected 900-999, got %d-%d", start, end)
	}
}

func TestParseRangeExplicitEndClampedToSizeNotRejected(t *testing.T) {
	start, end, hasRange, ok := ParseRange("bytes=0-99999", 1000)
	if !ok || !hasRange {
		t.Fatalf("expected a valid, clamped range, got hasRange=%v ok=%v", hasRange, ok)
	}
	if start != 0 || end != 999 {
		t.Fatalf("expected 0-999, got %d-%d", start, end)
	}
}

func TestParseRangeStartBeyondSizeIs416(t *testing.T) {
	_, _, _, ok := ParseRange("bytes=5000-6000", 1000)
	if ok {
		t.Fatal("expected a start beyond size to be rejected")
	}
}

func TestParseRangeEndBeforeStartIs416(t *testing.T) {
	_, _, _, ok := ParseRange("bytes=500-100", 1000)
	if ok {
		t.Fatal("expected end < start to be rejected")
	}
}

func TestParseRangeMalformedHeaderIs416(t *testing.T) {
	_, _, _, ok := ParseRange("not-a-range-header", 1000)
	if ok {
		t.Fatal("expected a malformed header to be rejected")
	}
}
