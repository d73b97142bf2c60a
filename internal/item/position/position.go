// Package position implements fractional ordering keys for board columns.
// Keys are plain float64s; appends extend the range by a fixed gap and
// insertions take midpoints, so a single key write is enough to reorder one
// task. Repeated insertion into the same slot eventually exhausts float
// precision, which callers resolve by rebalancing the column.
package position

import "errors"

const (
	// DefaultGap is the spacing between adjacent keys after an append or a
	// rebalance.
	DefaultGap = 1000.0

	// Epsilon is the smallest usable distance between two keys. Below this
	// a midpoint is no longer guaranteed to be distinct from its neighbors.
	Epsilon = 1e-9
)

// ErrGapExhausted reports that no distinct key fits between two neighbors.
var ErrGapExhausted = errors.New("gap_exhausted")

// Initial returns the key for the first item of an empty column.
func Initial() float64 {
	return DefaultGap
}

// Tail returns a key placing an item after the current last key.
func Tail(last float64) float64 {
	return last + DefaultGap
}

// Head returns a key placing an item before the current first key.
func Head(first float64) float64 {
	return first - DefaultGap
}

// Between returns the midpoint key between two neighbors. It fails with
// ErrGapExhausted when the interval is too narrow to yield a key strictly
// between both.
func Between(before, after float64) (float64, error) {
	if after-before <= Epsilon {
		return 0, ErrGapExhausted
	}
	mid := before + (after-before)/2
	if mid <= before || mid >= after {
		return 0, ErrGapExhausted
	}
	return mid, nil
}

// Rebalance returns evenly spaced keys for n items in their current order.
// Index i maps to (i+1)*DefaultGap.
func Rebalance(n int) []float64 {
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = float64(i+1) * DefaultGap
	}
	return keys
}
