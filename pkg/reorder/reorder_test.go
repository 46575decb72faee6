package reorder

import "testing"

func TestPushWithholdsUntilMinDepth(t *testing.T) {
	b := NewWithLimits[int](16, 4)

	pushes := []struct {
		pts, dur int64
		val      int
	}{
		{30, 10, 30},
		{10, 10, 10},
		{20, 10, 20},
		{40, 10, 40},
	}

	for i, p := range pushes {
		out := b.Push(p.pts, p.dur, p.val)
		if i < 3 && len(out) != 0 {
			t.Fatalf("push %d: expected no emission before min depth, got %v", i, out)
		}
	}
}

func TestReorderAndFlushYieldsPTSOrder(t *testing.T) {
	b := NewWithLimits[int](16, 4)

	var got []int
	pushes := []struct {
		pts, dur int64
		val      int
	}{
		{30, 10, 30},
		{10, 10, 10},
		{20, 10, 20},
		{40, 10, 40},
		{50, 10, 50},
	}
	for _, p := range pushes {
		got = append(got, b.Push(p.pts, p.dur, p.val)...)
	}
	got = append(got, b.Flush()...)

	want := []int{10, 20, 30, 40, 50}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSafetyValveForcesEmitPastMaxSize(t *testing.T) {
	b := NewWithLimits[int](4, 100) // min depth unreachable; max size small

	var got []int
	for i := int64(0); i < 6; i++ {
		got = append(got, b.Push(i*10, 10, int(i))...)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 forced emissions once heap exceeded max size, got %d (%v)", len(got), got)
	}
	if b.IsEmpty() {
		t.Fatalf("buffer should still hold frames below max size")
	}
}

func TestFlushResetsExpectedPTS(t *testing.T) {
	b := NewWithLimits[int](16, 4)
	for i := int64(0); i < 5; i++ {
		b.Push(i*10, 10, int(i))
	}
	b.Flush()
	if !b.IsEmpty() {
		t.Fatalf("expected empty buffer after flush")
	}
	// Pushing a lower PTS after flush must not be rejected.
	out := b.Push(5, 10, 99)
	if len(out) != 0 {
		t.Fatalf("expected no emission below min depth after flush, got %v", out)
	}
}
