// Package service implements the ranking operations behind the HTTP API:
// sessions driven by pairwise decisions, their results, and the community
// standings fed by completed rankings.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/songrank/internal/adapters/mq/queue"
	workerpool "github.com/okian/songrank/internal/adapters/mq/worker"
	"github.com/okian/songrank/internal/adapters/repository"
	"github.com/okian/songrank/internal/adapters/sessionstore"
	"github.com/okian/songrank/internal/domain/dedupe"
	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/qualify"
	"github.com/okian/songrank/internal/domain/scoring"
	"github.com/okian/songrank/internal/domain/session"
	"github.com/okian/songrank/pkg/logger"
	"github.com/okian/songrank/pkg/metrics"
)

// Catalog supplies the entries a query selects and the semi-final
// brackets of an edition.
type Catalog interface {
	Entries(ctx context.Context, q model.Query) ([]model.Item, error)
	BracketMembers(ctx context.Context, edition int) (qualify.Memberships, error)
}

// Service implements the API dependencies for ranking sessions and standings.
type Service struct {
	mu sync.RWMutex

	// Core components
	catalog       Catalog
	sessions      sessionstore.Store
	standings     repository.Store
	ownsStandings bool
	deduper       dedupe.Deduper
	scorer        *scoring.TableScorer
	classifier    *qualify.Classifier
	queue         *eventqueue.InMemoryQueue
	pool          *workerpool.Pool
	stopPool      context.CancelFunc
	eventHook     func(model.RankingEvent, error)

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	pointsTable []int
	cutoff      int

	locks stripedLocks
	seq   atomic.Uint64

	started bool
	logger  logger.Logger
	now     func() time.Time
}

// New constructs a Service over catalog. Sessions default to an in-memory
// store and standings to a treap store owned by the service.
func New(catalog Catalog, opts ...Option) (*Service, error) {
	if catalog == nil {
		return nil, ErrNoCatalog
	}
	s := &Service{
		catalog:     catalog,
		workerCount: runtime.NumCPU(),
		queueSize:   10_000,
		dedupeSize:  100_000,
		cutoff:      qualify.DefaultCutoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.sessions == nil {
		s.sessions = sessionstore.NewMemoryStore()
	}
	if s.standings == nil {
		s.standings = repository.NewTreapStore(context.Background())
		s.ownsStandings = true
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.scorer = scoring.NewTableScorer(scoring.WithTable(s.pointsTable))
	s.classifier = qualify.New(qualify.WithCutoff(s.cutoff))
	return s, nil
}

// Start creates the ranking queue and starts the standings workers. The
// workers outlive ctx and run until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting ranking service...")

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	var wopts []workerpool.Option
	if s.eventHook != nil {
		wopts = append(wopts, workerpool.WithOnProcessed(s.eventHook))
	}
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.scorer, s.standings, wopts...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopPool = cancel
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("qualifyCutoff", s.classifier.Cutoff()),
	)
	return nil
}

// Stop drains the ranking queue into the standings and stops the workers.
// Mutations in flight finish first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping ranking service...")

	err := s.pool.Shutdown(ctx)
	s.stopPool()
	s.started = false
	if err != nil {
		s.logger.Error(ctx, "worker pool shutdown incomplete", logger.Error(err))
		return fmt.Errorf("stop workers: %w", err)
	}
	s.logger.Info(ctx, "ranking service stopped")
	return nil
}

// Close stops the service and releases the standings store it owns.
func (s *Service) Close(ctx context.Context) error {
	err := s.Stop(ctx)
	if s.ownsStandings {
		if closer, ok := s.standings.(interface{ Close() error }); ok {
			err = errors.Join(err, closer.Close())
		}
	}
	return err
}

// CreateSession selects the entries of q and opens a new session over them.
func (s *Service) CreateSession(ctx context.Context, q model.Query) (session.View, error) {
	items, err := s.entries(ctx, q)
	if err != nil {
		return session.View{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return session.View{}, ErrNotStarted
	}

	sess := session.New(uuid.NewString(), q, items, s.now())
	if err := s.sessions.Put(ctx, sess); err != nil {
		return session.View{}, fmt.Errorf("save session: %w", err)
	}
	if err := s.publish(ctx, sess, false, false); err != nil {
		_, _ = s.sessions.Delete(ctx, sess.ID)
		return session.View{}, err
	}

	metrics.RecordSessionCreated()
	s.logger.Debug(ctx, "session created",
		logger.String("session_id", sess.ID),
		logger.String("mode", q.Mode().String()),
		logger.Int("items", len(items)),
	)
	return sess.View(), nil
}

// Resubmit replaces the entries of a session with those q selects and
// clears its decisions.
func (s *Service) Resubmit(ctx context.Context, id string, q model.Query) (session.View, error) {
	items, err := s.entries(ctx, q)
	if err != nil {
		return session.View{}, err
	}
	v, _, err := s.mutate(ctx, id, "", true, func(sess *session.Session, now time.Time) (bool, error) {
		sess.Submit(q, items, now)
		return true, nil
	})
	return v, err
}

// Session returns the current view of a session.
func (s *Service) Session(ctx context.Context, id string) (session.View, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return session.View{}, err
	}
	return sess.View(), nil
}

// Decide answers the pending comparison. The bool reports that requestID
// was already applied, in which case the current view is returned and
// nothing changes.
func (s *Service) Decide(ctx context.Context, id string, preferLeft bool, requestID string) (session.View, bool, error) {
	return s.mutate(ctx, id, requestID, false, func(sess *session.Session, now time.Time) (bool, error) {
		if _, err := sess.Decide(preferLeft, now); err != nil {
			return false, err
		}
		metrics.RecordDecision(preferLeft)
		return true, nil
	})
}

// Undo drops the last decision of a session. Undoing an untouched session
// is a no-op.
func (s *Service) Undo(ctx context.Context, id, requestID string) (session.View, bool, error) {
	return s.mutate(ctx, id, requestID, false, func(sess *session.Session, now time.Time) (bool, error) {
		_, undone := sess.Undo(now)
		if undone {
			metrics.RecordUndo()
		}
		return undone, nil
	})
}

// DeleteSession removes a session and withdraws its standings contribution.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if sess.Result().Complete() {
		e := eventqueue.Event{SessionID: id, Edition: sess.Query.Edition, Withdrawn: true, At: s.now()}
		if err := s.enqueue(ctx, e, 0); err != nil {
			if perr := s.sessions.Put(ctx, sess); perr != nil {
				s.logger.Error(ctx, "failed to restore session", logger.String("session_id", id), logger.Error(perr))
			}
			return err
		}
	}
	metrics.RecordSessionDeleted()
	return nil
}

// Standings returns the best n community standings.
func (s *Service) Standings(ctx context.Context, n int) ([]repository.Standing, error) {
	return s.standings.TopN(ctx, n)
}

// Standing returns the community standing of one entry.
func (s *Service) Standing(ctx context.Context, entryID string) (repository.Standing, error) {
	return s.standings.Rank(ctx, entryID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"dedupeEntries": s.deduper.Size(),
		"qualifyCutoff": s.classifier.Cutoff(),
		"pointsTable":   s.scorer.Table(),
	}

	entries := s.standings.Count(ctx)
	stats["standingsEntries"] = entries
	metrics.UpdateStandingsEntries(entries)

	if n, err := s.sessions.Count(ctx); err == nil {
		stats["sessions"] = n
		metrics.UpdateSessionsActive(n)
	} else {
		s.logger.Warn(ctx, "failed to count sessions", logger.Error(err))
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["busyWorkers"] = s.pool.Busy()
		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}

func (s *Service) entries(ctx context.Context, q model.Query) ([]model.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	items, err := s.catalog.Entries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return items, nil
}

// mutate loads a session under its stripe lock, applies fn, saves the
// result and publishes a ranking event when completion changed. fn reports
// whether it changed anything. Failures after fn restore the stored
// session and forget requestID so the client can retry.
func (s *Service) mutate(
	ctx context.Context,
	id, requestID string,
	reset bool,
	fn func(*session.Session, time.Time) (bool, error),
) (session.View, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return session.View{}, false, ErrNotStarted
	}
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return session.View{}, false, err
	}

	var key string
	if requestID != "" {
		key = dedupe.Key(id, requestID)
		if s.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordDuplicateRequest()
			s.logger.Debug(ctx, "duplicate request ignored",
				logger.String("session_id", id), logger.String("request_id", requestID))
			return sess.View(), true, nil
		}
	}
	forget := func() {
		if key != "" {
			s.deduper.Unrecord(ctx, key)
		}
	}

	before := sess.Clone()
	wasComplete := before.Result().Complete()

	changed, err := fn(sess, s.now())
	if err != nil {
		forget()
		return sess.View(), false, err
	}
	if !changed {
		return sess.View(), false, nil
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		forget()
		return before.View(), false, fmt.Errorf("save session: %w", err)
	}
	if err := s.publish(ctx, sess, wasComplete, reset); err != nil {
		forget()
		if perr := s.sessions.Put(ctx, before); perr != nil {
			s.logger.Error(ctx, "failed to restore session", logger.String("session_id", id), logger.Error(perr))
		}
		return before.View(), false, err
	}
	return sess.View(), false, nil
}

// publish enqueues the standings change implied by sess moving from
// wasComplete to its current state. A reset session that is complete again
// always republishes since its ordering is new.
func (s *Service) publish(ctx context.Context, sess *session.Session, wasComplete, reset bool) error {
	res := sess.Result()
	e := eventqueue.Event{SessionID: sess.ID, Edition: sess.Query.Edition, At: sess.UpdatedAt}
	switch {
	case res.Complete() && (!wasComplete || reset):
		e.Ordering = res.Ordered
	case !res.Complete() && wasComplete:
		e.Withdrawn = true
	default:
		return nil
	}
	return s.enqueue(ctx, e, res.Consumed)
}

func (s *Service) enqueue(ctx context.Context, e eventqueue.Event, decisions int) error { //nolint:gocritic // events travel by value
	e.Seq = s.seq.Add(1)
	if err := s.queue.Enqueue(ctx, e); err != nil {
		if errors.Is(err, eventqueue.ErrFull) {
			return fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return fmt.Errorf("publish ranking: %w", err)
	}
	if e.Withdrawn {
		metrics.RecordRankingWithdrawn()
	} else {
		metrics.RecordRankingCompleted(decisions)
	}
	return nil
}
