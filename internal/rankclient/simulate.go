package rankclient

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/okian/songrank/internal/domain/mergesort"
	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/pkg/logger"
)

// Simulation errors.
var (
	ErrOrderMismatch  = errors.New("final order does not match the hidden preference")
	ErrTooManyChoices = errors.New("decision count exceeds the worst case bound")
	ErrReplayIgnored  = errors.New("replayed request was not reported as duplicate")
	ErrStandingsDrift = errors.New("standings do not add up to the submitted rankings")
)

const (
	defaultSimWorkers     = 4
	defaultStandingsLimit = 100
	settleTimeout         = 10 * time.Second
	settlePollInterval    = 50 * time.Millisecond
	progressReportEvery   = time.Second
)

// SimConfig drives Simulate.
type SimConfig struct {
	Query    model.Query
	Sessions int
	Workers  int
	Seed     int64
	// Undo makes every session take back and replay one decision.
	Undo bool
	// StandingsLimit is the row count read when checking the community
	// table. It must not exceed the server's limit and should cover
	// every ranked entry.
	StandingsLimit int
	// Verbose logs every finished session.
	Verbose bool
}

// SimReport summarises a simulation run.
type SimReport struct {
	Sessions   int
	Completed  int
	Failed     int
	Decisions  int
	Duplicates int
	Undos      int
	Points     int
	Elapsed    time.Duration
	Errors     []error
}

// Preference is a hidden total order. Lower rank means preferred.
type Preference struct {
	seed int64
}

// NewPreference builds the preference voter number seed follows.
func NewPreference(seed int64) Preference { return Preference{seed: seed} }

// Rank returns the item's hidden score.
func (p Preference) Rank(item model.Item) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(p.seed, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(item.ID))
	return h.Sum64()
}

// PreferLeft answers a comparison.
func (p Preference) PreferLeft(left, right model.Item) bool {
	l, r := p.Rank(left), p.Rank(right)
	if l != r {
		return l < r
	}
	return left.ID < right.ID
}

// Sort orders items the way the preference would rank them.
func (p Preference) Sort(items []model.Item) []model.Item {
	out := slices.Clone(items)
	slices.SortFunc(out, func(a, b model.Item) int {
		switch {
		case a.ID == b.ID:
			return 0
		case p.PreferLeft(a, b):
			return -1
		default:
			return 1
		}
	})
	return out
}

// Simulate runs cfg.Sessions rankings concurrently, each answered by its
// own hidden preference, and checks the service's answers along the way.
// It fails if any session failed or if the standings never reflect the
// submitted points.
func Simulate(ctx context.Context, c *Client, cfg SimConfig, progress io.Writer) (SimReport, error) {
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultSimWorkers
	}
	if cfg.StandingsLimit <= 0 {
		cfg.StandingsLimit = defaultStandingsLimit
	}
	log := logger.Named("simulate")
	log.Info(ctx, "starting simulation",
		logger.Int("sessions", cfg.Sessions),
		logger.Int("workers", cfg.Workers),
		logger.Any("query", cfg.Query))

	baseline, err := c.Standings(ctx, cfg.StandingsLimit)
	if err != nil {
		return SimReport{}, fmt.Errorf("read standings: %w", err)
	}

	var (
		completed, failed, decisions, duplicates, undos, points atomic.Int64

		errMu sync.Mutex
		errs  []error
	)
	start := time.Now()
	var lastReport atomic.Int64

	jobs := make(chan int, cfg.Workers*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				if ctx.Err() != nil {
					return
				}
				out, err := runOne(ctx, c, cfg, cfg.Seed+int64(n))
				decisions.Add(int64(out.decisions))
				duplicates.Add(int64(out.duplicates))
				undos.Add(int64(out.undos))
				if err != nil {
					failed.Add(1)
					errMu.Lock()
					errs = append(errs, fmt.Errorf("session %d: %w", n, err))
					errMu.Unlock()
					log.Warn(ctx, "session failed", logger.Int("voter", n), logger.Error(err))
				} else {
					completed.Add(1)
					points.Add(int64(out.points))
					if cfg.Verbose {
						log.Debug(ctx, "session finished",
							logger.String("session_id", out.id),
							logger.Int("decisions", out.decisions))
					}
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if progress != nil && now-last >= int64(progressReportEvery) && lastReport.CompareAndSwap(last, now) {
					_, _ = fmt.Fprintf(progress, "\rranked %d/%d (failed: %d)",
						completed.Load()+failed.Load(), cfg.Sessions, failed.Load())
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for n := 0; n < cfg.Sessions; n++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- n:
			}
		}
	}()
	wg.Wait()
	if progress != nil && lastReport.Load() != 0 {
		_, _ = fmt.Fprintln(progress)
	}

	rep := SimReport{
		Sessions:   cfg.Sessions,
		Completed:  int(completed.Load()),
		Failed:     int(failed.Load()),
		Decisions:  int(decisions.Load()),
		Duplicates: int(duplicates.Load()),
		Undos:      int(undos.Load()),
		Points:     int(points.Load()),
		Errors:     errs,
	}
	if err := ctx.Err(); err != nil {
		rep.Elapsed = time.Since(start)
		return rep, err
	}

	settleErr := waitForStandings(ctx, c, cfg.StandingsLimit, sumPoints(baseline)+rep.Points)
	rep.Elapsed = time.Since(start)
	log.Info(ctx, "simulation finished",
		logger.Int("completed", rep.Completed),
		logger.Int("failed", rep.Failed),
		logger.Int("decisions", rep.Decisions),
		logger.Duration("elapsed", rep.Elapsed))

	if rep.Failed > 0 {
		return rep, errors.Join(errs...)
	}
	return rep, settleErr
}

type sessionOutcome struct {
	id         string
	decisions  int
	duplicates int
	undos      int
	points     int
}

// runOne ranks a single session to completion and verifies the result.
func runOne(ctx context.Context, c *Client, cfg SimConfig, seed int64) (sessionOutcome, error) {
	pref := NewPreference(seed)
	var out sessionOutcome

	v, err := c.CreateSession(ctx, cfg.Query)
	if err != nil {
		return out, fmt.Errorf("create: %w", err)
	}
	out.id = v.ID

	// Every item is seen either as a pending pair or in the final order.
	seen := make(map[string]model.Item, v.Items)
	undone := !cfg.Undo
	for !v.Complete() {
		if v.Left == nil || v.Right == nil {
			return out, fmt.Errorf("paused session %s without a pending pair", v.ID)
		}
		seen[v.Left.ID], seen[v.Right.ID] = *v.Left, *v.Right

		reqID := uuid.NewString()
		answer := pref.PreferLeft(*v.Left, *v.Right)
		dv, err := c.Decide(ctx, v.ID, answer, reqID)
		if err != nil {
			return out, fmt.Errorf("decide: %w", err)
		}
		out.decisions++

		if out.decisions == 1 {
			replay, err := c.Decide(ctx, v.ID, answer, reqID)
			if err != nil {
				return out, fmt.Errorf("replay: %w", err)
			}
			if !replay.Duplicate || replay.Decisions != dv.Decisions {
				return out, ErrReplayIgnored
			}
			out.duplicates++
		}

		if !undone && !dv.Complete() {
			undone = true
			if _, err := c.Undo(ctx, v.ID, uuid.NewString()); err != nil {
				return out, fmt.Errorf("undo: %w", err)
			}
			out.undos++
			dv, err = c.Decide(ctx, v.ID, answer, uuid.NewString())
			if err != nil {
				return out, fmt.Errorf("redecide: %w", err)
			}
		}
		v = dv.View
	}

	if v.Decisions > mergesort.WorstCase(v.Items) {
		return out, fmt.Errorf("%w: %d > %d", ErrTooManyChoices, v.Decisions, mergesort.WorstCase(v.Items))
	}
	for _, item := range v.Ordered {
		seen[item.ID] = item
	}
	items := make([]model.Item, 0, len(seen))
	for _, item := range seen {
		items = append(items, item)
	}
	want := pref.Sort(items)
	if !sameIDs(want, v.Ordered) {
		return out, fmt.Errorf("%w: session %s", ErrOrderMismatch, v.ID)
	}

	res, err := c.Result(ctx, v.ID)
	if err != nil {
		return out, fmt.Errorf("result: %w", err)
	}
	for _, p := range res.Placements {
		out.points += p.Points
	}
	return out, nil
}

func sameIDs(a, b []model.Item) bool {
	return slices.EqualFunc(a, b, func(x, y model.Item) bool { return x.ID == y.ID })
}

func sumPoints(rows []Standing) int {
	total := 0
	for _, r := range rows {
		total += r.Points
	}
	return total
}

// waitForStandings polls until the community table holds want points. The
// standings are updated asynchronously by the service's workers.
func waitForStandings(ctx context.Context, c *Client, limit, want int) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	got := -1
	for {
		rows, err := c.Standings(ctx, limit)
		if err == nil {
			if got = sumPoints(rows); got == want {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: have %d points, want %d", ErrStandingsDrift, got, want)
		case <-time.After(settlePollInterval):
		}
	}
}

// PrintReport writes a human readable summary.
func PrintReport(w io.Writer, rep SimReport) {
	rate := 0.0
	if rep.Elapsed > 0 {
		rate = float64(rep.Decisions) / rep.Elapsed.Seconds()
	}
	_, _ = fmt.Fprintf(w, "sessions:   %s (completed %s, failed %s)\n",
		humanize.Comma(int64(rep.Sessions)), humanize.Comma(int64(rep.Completed)), humanize.Comma(int64(rep.Failed)))
	_, _ = fmt.Fprintf(w, "decisions:  %s (%s/s)\n", humanize.Comma(int64(rep.Decisions)), humanize.CommafWithDigits(rate, 1))
	_, _ = fmt.Fprintf(w, "replays:    %s\n", humanize.Comma(int64(rep.Duplicates)))
	_, _ = fmt.Fprintf(w, "undos:      %s\n", humanize.Comma(int64(rep.Undos)))
	_, _ = fmt.Fprintf(w, "points:     %s\n", humanize.Comma(int64(rep.Points)))
	_, _ = fmt.Fprintf(w, "elapsed:    %s\n", rep.Elapsed.Round(time.Millisecond))
	for _, err := range rep.Errors {
		_, _ = fmt.Fprintf(w, "  error: %v\n", err)
	}
}
