package evring

import "sync/atomic"

// Ring is a single-producer, single-consumer event ring.
//
// The producer side (Push) never blocks and never allocates, so it is safe
// to call from an interrupt handler or a concurrent task. The consumer side
// (Pop) is intended for the main loop. Indices are monotonic uint32s; the
// buffer size must be a power of two so the wrap is a mask.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	drops atomic.Uint32 // producer-side overflow counter
}

// New allocates a ring with the given capacity (power of two >= 2).
func New[T any](size int) *Ring[T] {
	if size < 2 || (size&(size-1)) != 0 {
		panic("evring: size must be power of two >= 2")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint32(size - 1),
	}
}

func (r *Ring[T]) size() uint32 { return uint32(len(r.buf)) }

// Len reports how many events are queued.
func (r *Ring[T]) Len() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Push appends one event. It returns false (and counts a drop) when the
// ring is full; the producer must not wait for space.
func (r *Ring[T]) Push(v T) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	if wr-rd >= r.size() {
		r.drops.Add(1)
		return false
	}
	r.buf[wr&r.mask] = v
	r.wr.Store(wr + 1) // release
	return true
}

// Pop removes the oldest event. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if wr == rd {
		return v, false
	}
	v = r.buf[rd&r.mask]
	var zero T
	r.buf[rd&r.mask] = zero
	r.rd.Store(rd + 1)
	return v, true
}

// Drops returns the number of events rejected because the ring was full.
func (r *Ring[T]) Drops() uint32 { return r.drops.Load() }
