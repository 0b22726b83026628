// Package decisionlog holds the ordered answers a user gave to pairwise
// comparisons. The log only grows at the end and shrinks from the end.
package decisionlog

import "slices"

// Log is an append/truncate-only list of decisions. true means the left
// operand of the comparison at that position was preferred.
// It marshals to JSON as a plain array of booleans.
type Log []bool

// Append records one more decision.
func (l *Log) Append(preferLeft bool) {
	*l = append(*l, preferLeft)
}

// Undo removes the last decision. It reports false when the log is empty.
func (l *Log) Undo() bool {
	if len(*l) == 0 {
		return false
	}
	*l = (*l)[:len(*l)-1]
	return true
}

// Reset drops every decision.
func (l *Log) Reset() {
	*l = nil
}

// Len returns the number of recorded decisions.
func (l Log) Len() int { return len(l) }

// Last returns the most recent decision.
func (l Log) Last() (bool, bool) {
	if len(l) == 0 {
		return false, false
	}
	return l[len(l)-1], true
}

// Values returns a copy that callers may keep.
func (l Log) Values() []bool {
	return slices.Clone([]bool(l))
}
