// Package mergesort implements a merge sort whose comparisons are answered
// from a recorded list of decisions instead of a comparator.
//
// The sort never blocks. Given the items and the decisions made so far it
// replays every recorded answer and either produces the full ordering or
// stops at the first comparison nobody has answered yet and reports that
// pair. Callers resume by appending an answer and calling Resume again.
//
// Traversal order is fixed: split at floor(n/2), resolve the left half,
// then the right half, then merge. A decision of true keeps the left head,
// false keeps the right head. Because the trace is deterministic, decision
// k always refers to the same comparison for the same input.
package mergesort

// State tells whether a Result holds a full ordering or a pending pair.
type State int

const (
	// StatePaused means a decision is missing; Left and Right are set.
	StatePaused State = iota + 1
	// StateComplete means Ordered holds every item, best first.
	StateComplete
)

// String returns the state label used in API payloads.
func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Result is the outcome of one replay.
type Result[T any] struct {
	State State

	// Ordered is the final ordering when State is StateComplete.
	Ordered []T

	// Left and Right are the heads awaiting a decision when State is
	// StatePaused. A true decision prefers Left.
	Left  T
	Right T

	// Consumed is how many decisions the replay used. Anything beyond it
	// was not needed.
	Consumed int
}

// Complete reports whether the ordering is final.
func (r Result[T]) Complete() bool { return r.State == StateComplete }

// Pending returns the pair awaiting a decision and whether there is one.
func (r Result[T]) Pending() (left, right T, ok bool) {
	if r.State != StatePaused {
		var zero T
		return zero, zero, false
	}
	return r.Left, r.Right, true
}

// Resume replays decisions against items. items is never modified.
func Resume[T any](items []T, decisions []bool) Result[T] {
	c := cursor{decisions: decisions}
	ordered, p := c.sortRange(0, len(items))
	if p != nil {
		return Result[T]{
			State:    StatePaused,
			Left:     items[p.left],
			Right:    items[p.right],
			Consumed: c.next,
		}
	}
	return Result[T]{
		State:    StateComplete,
		Ordered:  indexed(items, ordered),
		Consumed: c.next,
	}
}

// WorstCase returns the largest number of decisions a list of n items can
// require: W(n) = W(floor(n/2)) + W(ceil(n/2)) + n - 1, W(0) = W(1) = 0.
func WorstCase(n int) int {
	if n <= 1 {
		return 0
	}
	mid := n / 2
	return WorstCase(mid) + WorstCase(n-mid) + n - 1
}

// pending identifies the unresolved pair by input position.
type pending struct {
	left, right int
}

// cursor threads the position of the next unread decision through the
// recursion.
type cursor struct {
	decisions []bool
	next      int
}

// sortRange orders the positions lo..hi-1. It works on indexes so the
// payload is only copied once, at the end.
func (c *cursor) sortRange(lo, hi int) ([]int, *pending) {
	n := hi - lo
	if n <= 1 {
		out := make([]int, 0, n)
		for i := lo; i < hi; i++ {
			out = append(out, i)
		}
		return out, nil
	}

	mid := lo + n/2
	left, p := c.sortRange(lo, mid)
	if p != nil {
		return nil, p
	}
	right, p := c.sortRange(mid, hi)
	if p != nil {
		return nil, p
	}
	return c.merge(left, right)
}

func (c *cursor) merge(left, right []int) ([]int, *pending) {
	out := make([]int, 0, len(left)+len(right))
	i, j := 0, 0
	for i < len(left) && j < len(right) {
		if c.next >= len(c.decisions) {
			return nil, &pending{left: left[i], right: right[j]}
		}
		if c.decisions[c.next] {
			out = append(out, left[i])
			i++
		} else {
			out = append(out, right[j])
			j++
		}
		c.next++
	}
	out = append(out, left[i:]...)
	out = append(out, right[j:]...)
	return out, nil
}

func indexed[T any](items []T, order []int) []T {
	out := make([]T, len(order))
	for i, idx := range order {
		out[i] = items[idx]
	}
	return out
}
