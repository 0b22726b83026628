package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/scoring"
	"github.com/okian/songrank/pkg/logger"
	"github.com/okian/songrank/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Event is what workers read off the queue.
type Event = model.RankingEvent

// Updater writes session contributions to the standings.
type Updater interface {
	Apply(ctx context.Context, sessionID string, seq uint64, awards []scoring.Award) (bool, error)
	Withdraw(ctx context.Context, sessionID string, seq uint64) (bool, error)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes ranking events until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the current event.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue       Queue
	scorer      scoring.Scorer
	updater     Updater
	name        string
	onProcessed func(Event, error)
	busy        *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, scorer scoring.Scorer, updater Updater, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		scorer:   scorer,
		updater:  updater,
		name:     "worker",
		busy:     new(atomic.Int64),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			w.busy.Add(1)
			err := w.process(ctx, e)
			w.busy.Add(-1)
			if err != nil {
				w.logger.Error(ctx, "ranking event failed",
					logger.String("session_id", e.SessionID),
					logger.Any("seq", e.Seq),
					logger.Error(err))
			}
			if w.onProcessed != nil {
				w.onProcessed(e, err)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, e Event) error { //nolint:gocritic // events travel by value
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if e.Withdrawn {
		applied, err := w.updater.Withdraw(ctx, e.SessionID, e.Seq)
		if err != nil {
			return w.fail("standings_error", fmt.Errorf("withdraw session %s: %w", e.SessionID, err))
		}
		w.finish(ctx, e, applied)
		return nil
	}

	scoreStart := time.Now()
	awards, err := w.scorer.Score(ctx, scoring.Input{SessionID: e.SessionID, Ordering: e.Ordering})
	metrics.RecordScoringLatency(float64(time.Since(scoreStart).Microseconds()) / 1000)
	if err != nil {
		return w.fail("scoring_error", fmt.Errorf("score session %s: %w", e.SessionID, err))
	}

	applied, err := w.updater.Apply(ctx, e.SessionID, e.Seq, awards)
	if err != nil {
		return w.fail("standings_error", fmt.Errorf("apply session %s: %w", e.SessionID, err))
	}
	w.finish(ctx, e, applied)
	return nil
}

func (w *InMemoryWorker) finish(ctx context.Context, e Event, applied bool) { //nolint:gocritic // events travel by value
	metrics.RecordEventProcessed()
	if !applied {
		w.logger.Debug(ctx, "stale ranking event skipped",
			logger.String("session_id", e.SessionID), logger.Any("seq", e.Seq))
	}
}

func (w *InMemoryWorker) fail(kind string, err error) error {
	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", kind)
	metrics.RecordErrorByType(kind, "high")
	return err
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	busy    atomic.Int64
	logger  logger.Logger
}

// NewPool creates workerCount workers (at least one).
func NewPool(workerCount int, q Queue, scorer scoring.Scorer, updater Updater, opts ...Option) *Pool {
	workerCount = max(workerCount, 1)
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, scorer, updater, wopts...)
		w.busy = &p.busy
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Busy returns how many workers are applying an event right now.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Start starts all workers and a gauge refresher.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.refreshMetrics(ctx)
}

func (p *Pool) refreshMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			busy := p.Busy()
			metrics.UpdateWorkerActiveCount(busy)
			metrics.UpdateWorkerIdleCount(len(p.workers) - busy)
		}
	}
}

// Shutdown closes the queue, lets workers drain it, and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
