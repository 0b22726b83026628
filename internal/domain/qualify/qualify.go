// Package qualify marks which entries of a finished ranking would have
// qualified from their show under the user's own ordering.
package qualify

import (
	"slices"

	"github.com/okian/songrank/internal/domain/model"
)

// DefaultCutoff is the number of qualifiers per semi-final.
const DefaultCutoff = 10

// Memberships lists, per semi-final bracket, the entries that performed in
// it. Brackets with no data may be absent.
type Memberships map[model.BracketID][]model.Item

// Option configures a Classifier.
type Option func(*Classifier)

// WithCutoff sets how many places qualify from each semi-final.
func WithCutoff(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.cutoff = n
		}
	}
}

// Classifier derives qualification flags from an ordering.
type Classifier struct {
	cutoff int
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{cutoff: DefaultCutoff}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cutoff returns the configured number of qualifiers per bracket.
func (c *Classifier) Cutoff() int { return c.cutoff }

// Classify returns one flag per position of ordering.
//
//   - ModeGrandFinal: everyone is in the final already.
//   - ModeSemiFinal1/2: the first cutoff places qualify.
//   - ModeAll: each entry is ranked among the members of its own semi-final;
//     entries outside every semi-final qualify automatically.
func (c *Classifier) Classify(ordering []model.Item, mode model.ShowMode, members Memberships) []bool {
	out := make([]bool, len(ordering))
	switch mode {
	case model.ModeGrandFinal:
		for i := range out {
			out[i] = true
		}
	case model.ModeSemiFinal1, model.ModeSemiFinal2:
		for i := range out {
			out[i] = i < c.cutoff
		}
	case model.ModeAll:
		c.classifyAll(ordering, members, out)
	}
	return out
}

func (c *Classifier) classifyAll(ordering []model.Item, members Memberships, out []bool) {
	bracketOf := bracketIndex(members)
	seen := make(map[model.BracketID]int, len(members))
	for i, item := range ordering {
		bracket, ok := bracketOf[item.ID]
		if !ok {
			out[i] = true
			continue
		}
		// Position among the bracket's members that precede it in ordering.
		out[i] = seen[bracket] < c.cutoff
		seen[bracket]++
	}
}

// bracketIndex maps entry id to bracket. An entry listed in more than one
// bracket is attributed to the lowest bracket id.
func bracketIndex(members Memberships) map[string]model.BracketID {
	brackets := make([]model.BracketID, 0, len(members))
	for b := range members {
		brackets = append(brackets, b)
	}
	slices.Sort(brackets)

	idx := make(map[string]model.BracketID)
	for _, b := range brackets {
		for _, item := range members[b] {
			if _, taken := idx[item.ID]; !taken {
				idx[item.ID] = b
			}
		}
	}
	return idx
}

// Classify uses the default cutoff.
func Classify(ordering []model.Item, mode model.ShowMode, members Memberships) []bool {
	return New().Classify(ordering, mode, members)
}
