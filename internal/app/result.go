package service

import (
	"context"
	"fmt"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/qualify"
)

// Result returns the final ranking of a session with points and, for
// single-edition sessions, qualification flags. ErrNotComplete while a
// comparison is pending.
func (s *Service) Result(ctx context.Context, id string) (model.Ranking, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return model.Ranking{}, err
	}
	res := sess.Result()
	if !res.Complete() {
		return model.Ranking{}, ErrNotComplete
	}

	mode := sess.Query.Mode()
	var flags []bool
	if sess.Query.SingleEdition() {
		var members qualify.Memberships
		if mode == model.ModeAll {
			members, err = s.catalog.BracketMembers(ctx, sess.Query.Edition)
			if err != nil {
				return model.Ranking{}, fmt.Errorf("load brackets: %w", err)
			}
		}
		flags = s.classifier.Classify(res.Ordered, mode, members)
	}

	r := model.Ranking{
		SessionID:  sess.ID,
		Query:      sess.Query,
		Mode:       mode.String(),
		Decisions:  res.Consumed,
		Placements: make([]model.Placement, len(res.Ordered)),
	}
	for i, item := range res.Ordered {
		p := model.Placement{Place: i + 1, Item: item, Points: s.scorer.PointsFor(i + 1)}
		if flags != nil {
			q := flags[i]
			p.Qualified = &q
		}
		r.Placements[i] = p
	}
	return r, nil
}
