// Package reorder implements the frame reorder buffer that sits between a
// decoder and an encoder: decoders emit frames in decode order, encoders
// require presentation order. The buffer is a min-heap over PTS with a
// minimum-depth lookahead and a hard safety cap.
package reorder

import "container/heap"

// DefaultMaxSize is the hard cap on buffered frames before a forced emit.
const DefaultMaxSize = 16

// DefaultMinDepth is the minimum buffer depth held before any emission, to
// give the encoder B-frame lookahead.
const DefaultMinDepth = 4

// entry is one buffered payload ordered by presentation timestamp.
type entry[T any] struct {
	pts      int64
	duration int64
	value    T
}

// ptsHeap is a container/heap.Interface min-heap over PTS.
type ptsHeap[T any] []entry[T]

func (h ptsHeap[T]) Len() int            { return len(h) }
func (h ptsHeap[T]) Less(i, j int) bool  { return h[i].pts < h[j].pts }
func (h ptsHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *ptsHeap[T]) Push(x interface{}) { *h = append(*h, x.(entry[T])) }
func (h *ptsHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Buffer reorders frames by PTS before handing them to an encoder. Touched
// by exactly one task; it never blocks and never allocates beyond MaxSize.
type Buffer[T any] struct {
	heap     ptsHeap[T]
	maxSize  int
	minDepth int
	nextPTS  *int64
}

// New constructs a Buffer with the default max size and min depth.
func New[T any]() *Buffer[T] {
	return NewWithLimits[T](DefaultMaxSize, DefaultMinDepth)
}

// NewWithLimits constructs a Buffer with explicit limits, for tests that
// need to exercise the safety valve at a smaller scale.
func NewWithLimits[T any](maxSize, minDepth int) *Buffer[T] {
	b := &Buffer[T]{
		maxSize:  maxSize,
		minDepth: minDepth,
	}
	heap.Init(&b.heap)
	return b
}

// Push inserts a frame and returns zero or more payloads to emit
// immediately, in PTS order.
func (b *Buffer[T]) Push(pts, duration int64, value T) []T {
	heap.Push(&b.heap, entry[T]{pts: pts, duration: duration, value: value})

	var out []T
	for b.heap.Len() > b.minDepth {
		next := b.heap[0]
		shouldEmit := b.nextPTS == nil || next.pts <= *b.nextPTS
		if !shouldEmit {
			break
		}
		popped := heap.Pop(&b.heap).(entry[T])
		np := popped.pts + popped.duration
		b.nextPTS = &np
		out = append(out, popped.value)
	}

	for b.heap.Len() > b.maxSize {
		popped := heap.Pop(&b.heap).(entry[T])
		np := popped.pts + popped.duration
		b.nextPTS = &np
		out = append(out, popped.value)
	}

	return out
}

// Flush drains all remaining frames in PTS order and resets expected-PTS
// tracking.
func (b *Buffer[T]) Flush() []T {
	out := make([]T, 0, b.heap.Len())
	for b.heap.Len() > 0 {
		out = append(out, heap.Pop(&b.heap).(entry[T]).value)
	}
	b.nextPTS = nil
	return out
}

// IsEmpty reports whether the buffer currently holds no frames.
func (b *Buffer[T]) IsEmpty() bool {
	return b.heap.Len() == 0
}
