// Package repository keeps the community standings: the points every entry
// has collected from all completed rankings.
package repository

import (
	"context"

	"github.com/okian/songrank/internal/domain/scoring"
)

// Standing is one row of the community table.
type Standing struct {
	Rank    int    `json:"rank"`
	EntryID string `json:"entry_id"`
	Title   string `json:"title"`
	Points  int    `json:"points"`
	Voters  int    `json:"voters"`
}

// Store provides read/write access to the standings.
type Store interface {
	// Apply replaces the contribution of sessionID with awards. Events with a
	// seq not newer than the last one seen for the session are ignored and
	// reported as false.
	Apply(ctx context.Context, sessionID string, seq uint64, awards []scoring.Award) (bool, error)

	// Withdraw removes the contribution of sessionID, subject to the same
	// seq ordering as Apply.
	Withdraw(ctx context.Context, sessionID string, seq uint64) (bool, error)

	// Rank returns the standing of one entry. ErrNotFound if it has no points.
	Rank(ctx context.Context, entryID string) (Standing, error)

	// TopN returns the best n standings, points desc then entry id asc.
	TopN(ctx context.Context, n int) ([]Standing, error)

	// Count returns the number of entries holding points.
	Count(ctx context.Context) int
}
