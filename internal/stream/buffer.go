package stream

import "fmt"

// RollingBuffer is a bounded, insertion-ordered buffer. When an append
// pushes it past capacity the oldest rows are evicted. The buffer itself
// is not synchronized; the Stream serializes access behind its mutex.
type RollingBuffer[T any] struct {
	rows []T
	cap  int
}

// NewRollingBuffer returns a buffer retaining at most capacity rows.
func NewRollingBuffer[T any](capacity int) (*RollingBuffer[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("rolling buffer capacity must be >= 1, got %d", capacity)
	}
	return &RollingBuffer[T]{
		rows: make([]T, 0, capacity),
		cap:  capacity,
	}, nil
}

// Append extends the buffer and trims from the oldest end. A single batch
// larger than capacity converges to the last cap rows overall.
func (b *RollingBuffer[T]) Append(rows ...T) {
	if len(rows) >= b.cap {
		b.rows = b.rows[:0]
		b.rows = append(b.rows, rows[len(rows)-b.cap:]...)
		return
	}
	b.rows = append(b.rows, rows...)
	if over := len(b.rows) - b.cap; over > 0 {
		b.rows = append(b.rows[:0], b.rows[over:]...)
	}
}

// Snapshot returns a copy reflecting the buffer at the time of the call.
// Later appends do not mutate the returned slice.
func (b *RollingBuffer[T]) Snapshot() []T {
	out := make([]T, len(b.rows))
	copy(out, b.rows)
	return out
}

// Len returns the current number of rows.
func (b *RollingBuffer[T]) Len() int {
	return len(b.rows)
}

// Last returns the newest row, if any.
func (b *RollingBuffer[T]) Last() (T, bool) {
	var zero T
	if len(b.rows) == 0 {
		return zero, false
	}
	return b.rows[len(b.rows)-1], true
}
