package service

import (
	"time"

	"github.com/okian/songrank/internal/adapters/repository"
	"github.com/okian/songrank/internal/adapters/sessionstore"
	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of standings workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the completed-ranking queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many request ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithPointsTable sets the points awarded per place, best first.
func WithPointsTable(points []int) Option {
	return func(s *Service) {
		s.pointsTable = points
	}
}

// WithQualifyCutoff sets how many entries of each semi-final qualify.
func WithQualifyCutoff(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cutoff = n
		}
	}
}

// WithSessionStore replaces the default in-memory session store. The
// caller keeps ownership and closes it.
func WithSessionStore(store sessionstore.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.sessions = store
		}
	}
}

// WithStandings replaces the default treap standings store.
func WithStandings(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.standings = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventHook registers a callback run after a worker handles a ranking
// event.
func WithEventHook(fn func(model.RankingEvent, error)) Option {
	return func(s *Service) {
		s.eventHook = fn
	}
}
