// Package scoring converts a finished personal ranking into community points.
package scoring

import (
	"context"
	"fmt"

	"github.com/okian/songrank/internal/domain/model"
)

// DefaultTable is the points awarded to places 1..10. Everything below the
// table earns nothing.
var DefaultTable = []int{12, 10, 8, 7, 6, 5, 4, 3, 2, 1}

// Option applies a configuration option to the TableScorer.
type Option func(*TableScorer)

// WithTable replaces the points table. Non-positive trailing values are
// dropped; an empty table keeps the default.
func WithTable(points []int) Option {
	return func(s *TableScorer) {
		table := make([]int, 0, len(points))
		for _, p := range points {
			if p <= 0 {
				break
			}
			table = append(table, p)
		}
		if len(table) > 0 {
			s.table = table
		}
	}
}

// Input is a completed ordering, best first.
type Input struct {
	SessionID string
	Ordering  []model.Item
}

// Award is the points one entry earns from one ranking.
type Award struct {
	EntryID string
	Title   string
	Points  int
}

// Scorer turns an ordering into awards.
type Scorer interface {
	// Score computes awards, honoring ctx for cancellation.
	Score(ctx context.Context, in Input) ([]Award, error)
}

// TableScorer awards points by place from a fixed table.
type TableScorer struct {
	table []int
}

// NewTableScorer creates a scorer with the default table unless overridden.
func NewTableScorer(opts ...Option) *TableScorer {
	s := &TableScorer{table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score awards table[i] to the entry in place i+1. Entries past the end of
// the table are omitted.
func (s *TableScorer) Score(ctx context.Context, in Input) ([]Award, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	n := min(len(in.Ordering), len(s.table))
	awards := make([]Award, 0, n)
	for i := 0; i < n; i++ {
		item := in.Ordering[i]
		awards = append(awards, Award{EntryID: item.ID, Title: item.Title, Points: s.table[i]})
	}
	return awards, nil
}

// PointsFor returns the points for a 1-based place, zero outside the table.
func (s *TableScorer) PointsFor(place int) int {
	if place < 1 || place > len(s.table) {
		return 0
	}
	return s.table[place-1]
}

// Table returns a copy of the active points table.
func (s *TableScorer) Table() []int {
	out := make([]int, len(s.table))
	copy(out, s.table)
	return out
}
