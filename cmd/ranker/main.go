// Command ranker ranks contest entries against a songrank server from the
// terminal, or simulates many voters to exercise the service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/rankclient"
	"github.com/okian/songrank/pkg/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultSimTimeout = 10 * time.Minute
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	logFilePermission = 0o600
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return
	case errors.Is(err, rankclient.ErrQuit):
		fmt.Fprintln(os.Stderr, "ranker: bye")
	default:
		fmt.Fprintln(os.Stderr, "ranker:", err)
	}
	stop()
	os.Exit(1)
}

type options struct {
	url       string
	query     model.Query
	simulate  int
	workers   int
	seed      int64
	undo      bool
	limit     int
	top       int
	timeout   time.Duration
	logFile   string
	verbose   bool
	showInput string
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("ranker", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&o.url, "url", "http://localhost:9080", "Base URL of the service")
	fs.IntVar(&o.query.Edition, "edition", 0, "Rank the entries of one edition (year)")
	fs.StringVar(&o.showInput, "show", "all", "Show of the edition: all, sf1, sf2 or final")
	fs.IntVar(&o.query.StartYear, "from", 0, "First year of a range ranking")
	fs.IntVar(&o.query.EndYear, "to", 0, "Last year of a range ranking")
	fs.StringVar(&o.query.Country, "country", "", "Only entries of this country code (range rankings)")
	fs.StringVar(&o.query.Group, "group", "", "Only entries of this country group (range rankings)")
	fs.IntVar(&o.simulate, "simulate", 0, "Simulate this many voters instead of prompting")
	fs.IntVar(&o.workers, "workers", runtime.NumCPU()*defaultWorkers, "Concurrent simulated voters")
	fs.Int64Var(&o.seed, "seed", time.Now().UnixNano(), "Seed of the simulated preferences")
	fs.BoolVar(&o.undo, "undo", true, "Simulated voters undo and replay one decision")
	fs.IntVar(&o.limit, "standings-limit", 100, "Rows read when checking standings, at most the server limit")
	fs.IntVar(&o.top, "top", 0, "Print this many community standings at the end")
	fs.DurationVar(&o.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	fs.StringVar(&o.logFile, "log", "", "Write logs to this file instead of stderr")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  ranker -edition 2023 -show sf1\n  ranker -from 2015 -to 2023 -group nordic\n  ranker -edition 2023 -show final -simulate 500 -top 10\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	show, err := parseShow(o.showInput)
	if err != nil {
		fs.Usage()
		return o, fmt.Errorf("%w: %w", errUsage, err)
	}
	o.query.ShowType = show
	if err := o.query.Validate(); err != nil {
		fs.Usage()
		return o, fmt.Errorf("%w: %w", errUsage, err)
	}
	return o, nil
}

// parseShow accepts show names and the catalog's numeric show types.
func parseShow(s string) (model.ShowMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return model.ModeAll, nil
	case "sf1", "semi1", "semi-final-1":
		return model.ModeSemiFinal1, nil
	case "sf2", "semi2", "semi-final-2":
		return model.ModeSemiFinal2, nil
	case "final", "gf", "grand-final":
		return model.ModeGrandFinal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !model.ShowMode(n).Valid() {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidShow, s)
	}
	return model.ShowMode(n), nil
}

func setupLogging(o options, errOut io.Writer) (func(), error) {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	w, closeFn := errOut, func() {}
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		w, closeFn = f, func() { _ = f.Close() }
		if !o.verbose {
			level = "info"
		}
	}
	if err := logger.Init(logger.WithLevel(level), logger.WithWriter(w)); err != nil {
		closeFn()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return closeFn, nil
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	o, err := parseFlags(args, errOut)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(o, errOut)
	if err != nil {
		return err
	}
	defer closeLog()

	c := rankclient.New(o.url, rankclient.WithTimeout(o.timeout))
	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("service not healthy at %s: %w", o.url, err)
	}

	if o.simulate > 0 {
		ctx, cancel := context.WithTimeout(ctx, defaultSimTimeout)
		defer cancel()
		rep, err := rankclient.Simulate(ctx, c, rankclient.SimConfig{
			Query:          o.query,
			Sessions:       o.simulate,
			Workers:        o.workers,
			Seed:           o.seed,
			Undo:           o.undo,
			StandingsLimit: o.limit,
			Verbose:        o.verbose,
		}, errOut)
		rankclient.PrintReport(out, rep)
		if err != nil {
			return err
		}
	} else if _, err := rankclient.Interactive(ctx, c, o.query, in, out); err != nil {
		return err
	}

	if o.top > 0 {
		return printStandings(ctx, c, o.top, out)
	}
	return nil
}

func printStandings(ctx context.Context, c *rankclient.Client, n int, out io.Writer) error {
	rows, err := c.Standings(ctx, n)
	if err != nil {
		return fmt.Errorf("fetch standings: %w", err)
	}
	fmt.Fprintf(out, "\nCommunity top %d:\n", n)
	for _, r := range rows {
		fmt.Fprintf(out, "%6s %-32s %6s pts  %s voters\n",
			humanize.Ordinal(r.Rank), r.Title, humanize.Comma(int64(r.Points)), humanize.Comma(int64(r.Voters)))
	}
	return nil
}
