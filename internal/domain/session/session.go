// Package session ties an item sequence to its decision log and exposes the
// submit/decide/undo operations a ranking UI drives.
//
// A Session stores no sort state. Every call replays the log through
// mergesort.Resume, so the stored data is just the items and the answers.
package session

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/okian/songrank/internal/domain/decisionlog"
	"github.com/okian/songrank/internal/domain/mergesort"
	"github.com/okian/songrank/internal/domain/model"
)

// Sentinel errors for session operations.
var (
	ErrComplete = errors.New("ranking already complete")
)

// Session is one user's ranking in progress.
type Session struct {
	ID        string          `json:"id"`
	Query     model.Query     `json:"query"`
	Items     []model.Item    `json:"items"`
	Decisions decisionlog.Log `json:"decisions"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// View is the externally visible state of a session.
type View struct {
	ID        string       `json:"id"`
	State     string       `json:"state"`
	Mode      string       `json:"mode"`
	Items     int          `json:"items"`
	Left      *model.Item  `json:"left,omitempty"`
	Right     *model.Item  `json:"right,omitempty"`
	Ordered   []model.Item `json:"ordered,omitempty"`
	Decisions int          `json:"decisions"`
	WorstCase int          `json:"worst_case"`
	CanUndo   bool         `json:"can_undo"`
}

// Complete reports whether the view holds a final ordering.
func (v View) Complete() bool { return v.State == mergesort.StateComplete.String() }

// New creates a session over items, applying the display pre-ordering.
func New(id string, q model.Query, items []model.Item, now time.Time) *Session {
	s := &Session{ID: id, CreatedAt: now}
	s.Submit(q, items, now)
	return s
}

// PreOrder returns items sorted by title (case-insensitive), then id. This
// is the sequence the merge sort starts from.
func PreOrder(items []model.Item) []model.Item {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b model.Item) int {
		return cmp.Or(
			strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)),
			strings.Compare(a.ID, b.ID),
		)
	})
	return out
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Items = slices.Clone(s.Items)
	c.Decisions = s.Decisions.Values()
	return &c
}

// Submit replaces the items and clears the decision log.
func (s *Session) Submit(q model.Query, items []model.Item, now time.Time) {
	s.Query = q
	s.Items = PreOrder(items)
	s.Decisions.Reset()
	s.UpdatedAt = now
}

// Result replays the log.
func (s *Session) Result() mergesort.Result[model.Item] {
	return mergesort.Resume(s.Items, s.Decisions)
}

// Decide records an answer for the pending comparison. It fails with
// ErrComplete when nothing is pending.
func (s *Session) Decide(preferLeft bool, now time.Time) (View, error) {
	if s.Result().Complete() {
		return s.View(), ErrComplete
	}
	s.Decisions.Append(preferLeft)
	s.UpdatedAt = now
	return s.View(), nil
}

// Undo drops the last answer. The bool is false when there was nothing to
// undo; the view is returned either way.
func (s *Session) Undo(now time.Time) (View, bool) {
	if !s.Decisions.Undo() {
		return s.View(), false
	}
	s.UpdatedAt = now
	return s.View(), true
}

// View replays the log and describes the outcome.
func (s *Session) View() View {
	res := s.Result()
	v := View{
		ID:        s.ID,
		State:     res.State.String(),
		Mode:      s.Query.Mode().String(),
		Items:     len(s.Items),
		Decisions: res.Consumed,
		WorstCase: mergesort.WorstCase(len(s.Items)),
		CanUndo:   s.Decisions.Len() > 0,
	}
	if left, right, ok := res.Pending(); ok {
		v.Left, v.Right = &left, &right
	} else {
		v.Ordered = res.Ordered
	}
	return v
}
