package rankclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/session"
)

// ErrQuit is returned when the user leaves before the ranking is complete.
var ErrQuit = errors.New("ranking abandoned")

const promptHelp = "[l] left  [r] right  [u] undo  [q] quit"

// Interactive ranks q by asking the user on in and printing to out. On
// completion it prints the final ranking and returns it.
func Interactive(ctx context.Context, c *Client, q model.Query, in io.Reader, out io.Writer) (model.Ranking, error) {
	v, err := c.CreateSession(ctx, q)
	if err != nil {
		return model.Ranking{}, fmt.Errorf("create session: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Ranking %s entries (%s), at most %s comparisons.\n",
		humanize.Comma(int64(v.Items)), v.Mode, humanize.Comma(int64(v.WorstCase)))

	scanner := bufio.NewScanner(in)
	for !v.Complete() {
		printPair(out, v)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return model.Ranking{}, fmt.Errorf("read input: %w", err)
			}
			return model.Ranking{}, ErrQuit
		}

		var dv DecisionView
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "l", "left", "1":
			dv, err = c.Decide(ctx, v.ID, true, uuid.NewString())
		case "r", "right", "2":
			dv, err = c.Decide(ctx, v.ID, false, uuid.NewString())
		case "u", "undo":
			if !v.CanUndo {
				_, _ = fmt.Fprintln(out, "Nothing to undo.")
				continue
			}
			dv, err = c.Undo(ctx, v.ID, uuid.NewString())
		case "q", "quit":
			return model.Ranking{}, ErrQuit
		default:
			_, _ = fmt.Fprintln(out, promptHelp)
			continue
		}
		if err != nil {
			return model.Ranking{}, err
		}
		v = dv.View
	}

	r, err := c.Result(ctx, v.ID)
	if err != nil {
		return model.Ranking{}, fmt.Errorf("fetch result: %w", err)
	}
	PrintRanking(out, r)
	return r, nil
}

func printPair(out io.Writer, v session.View) {
	_, _ = fmt.Fprintf(out, "\n(%d/%d) Which do you prefer?\n", v.Decisions+1, v.WorstCase)
	_, _ = fmt.Fprintf(out, "  [l] %s\n", describe(*v.Left))
	_, _ = fmt.Fprintf(out, "  [r] %s\n", describe(*v.Right))
	_, _ = fmt.Fprint(out, "> ")
}

func describe(item model.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if item.Artist != "" {
		b.WriteString(" by ")
		b.WriteString(item.Artist)
	}
	if item.Country != "" || item.Year > 0 {
		b.WriteString(" (")
		b.WriteString(item.Country)
		if item.Year > 0 {
			if item.Country != "" {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%d", item.Year)
		}
		b.WriteString(")")
	}
	return b.String()
}

// PrintRanking writes one line per placement. Qualified entries are marked
// with Q and eliminated ones with a dash when the ranking carries flags.
func PrintRanking(out io.Writer, r model.Ranking) {
	_, _ = fmt.Fprintf(out, "\nYour %s ranking after %s decisions:\n", r.Mode, humanize.Comma(int64(r.Decisions)))
	for _, p := range r.Placements {
		mark := " "
		if p.Qualified != nil {
			mark = "-"
			if *p.Qualified {
				mark = "Q"
			}
		}
		pts := ""
		if p.Points > 0 {
			pts = fmt.Sprintf("  %d pts", p.Points)
		}
		_, _ = fmt.Fprintf(out, "%6s %s %s%s\n", humanize.Ordinal(p.Place), mark, describe(p.Item), pts)
	}
}
