package queue

// Ring is a single-goroutine sliding window over the last Cap pushed values:
// push overwrites the oldest element on wrap, and reads address elements by
// offset from the newest. Strategies use it for lookback history. It is not
// safe for concurrent use.
type Ring[T any] struct {
	buf   []T
	mask  uint64
	write uint64
}

// NewRing builds a window with power-of-two capacity.
func NewRing[T any](capacity uint64) (*Ring[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	return &Ring[T]{
		buf:  make([]T, capacity),
		mask: capacity - 1,
	}, nil
}

// Push records v, overwriting the oldest element when the window is full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.write&r.mask] = v
	r.write++
}

// Len is the number of valid elements, at most Cap.
func (r *Ring[T]) Len() uint64 {
	if r.write < uint64(len(r.buf)) {
		return r.write
	}
	return uint64(len(r.buf))
}

// At returns the element offset positions behind the newest (offset 0).
func (r *Ring[T]) At(offset uint64) (v T, ok bool) {
	if offset >= r.Len() {
		return v, false
	}
	return r.buf[(r.write-1-offset)&r.mask], true
}

// Latest returns the newest element.
func (r *Ring[T]) Latest() (T, bool) {
	return r.At(0)
}

// Full reports whether the window has wrapped at least once.
func (r *Ring[T]) Full() bool {
	return r.write >= uint64(len(r.buf))
}

// Cap is the window size.
func (r *Ring[T]) Cap() uint64 { return uint64(len(r.buf)) }
