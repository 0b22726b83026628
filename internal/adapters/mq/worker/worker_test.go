package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/songrank/internal/adapters/mq/queue"
	"github.com/okian/songrank/internal/adapters/mq/worker"
	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/scoring"
	logging "github.com/okian/songrank/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type call struct {
	session  string
	seq      uint64
	awards   []scoring.Award
	withdraw bool
}

type mockUpdater struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (m *mockUpdater) Apply(_ context.Context, sessionID string, seq uint64, awards []scoring.Award) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.calls = append(m.calls, call{session: sessionID, seq: seq, awards: awards})
	return true, nil
}

func (m *mockUpdater) Withdraw(_ context.Context, sessionID string, seq uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.calls = append(m.calls, call{session: sessionID, seq: seq, withdraw: true})
	return true, nil
}

func (m *mockUpdater) snapshot() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, scoring.Input) ([]scoring.Award, error) {
	return nil, errors.New("scorer down")
}

func items(ids ...string) []model.Item {
	out := make([]model.Item, len(ids))
	for i, id := range ids {
		out[i] = model.Item{ID: id, Title: "Song " + id}
	}
	return out
}

// collector records processed events and signals when n have arrived.
type collector struct {
	mu   sync.Mutex
	errs []error
	want int
	done chan struct{}
}

func newCollector(n int) *collector { return &collector{want: n, done: make(chan struct{})} }

func (c *collector) hook(_ worker.Event, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	if len(c.errs) == c.want {
		close(c.done)
	}
}

func (c *collector) wait() bool {
	select {
	case <-c.done:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func TestInMemoryWorker(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a worker over a real queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		updater := &mockUpdater{}

		convey.Convey("When a completed ranking arrives", func() {
			col := newCollector(1)
			w := worker.NewInMemoryWorker(q, scoring.NewTableScorer(), updater,
				worker.WithName("w-test"), worker.WithOnProcessed(col.hook))
			go w.Run(ctx)
			convey.So(q.Enqueue(ctx, model.RankingEvent{SessionID: "s1", Seq: 7, Ordering: items("a", "b", "c")}), convey.ShouldBeNil)

			convey.Convey("Then its awards are applied with the event seq", func() {
				convey.So(col.wait(), convey.ShouldBeTrue)
				calls := updater.snapshot()
				convey.So(calls, convey.ShouldHaveLength, 1)
				convey.So(calls[0].session, convey.ShouldEqual, "s1")
				convey.So(calls[0].seq, convey.ShouldEqual, 7)
				convey.So(calls[0].awards, convey.ShouldHaveLength, 3)
				convey.So(calls[0].awards[0].Points, convey.ShouldEqual, 12)
				convey.So(col.errs[0], convey.ShouldBeNil)
			})
		})

		convey.Convey("When a withdrawal arrives", func() {
			col := newCollector(1)
			w := worker.NewInMemoryWorker(q, scoring.NewTableScorer(), updater, worker.WithOnProcessed(col.hook))
			go w.Run(ctx)
			convey.So(q.Enqueue(ctx, model.RankingEvent{SessionID: "s1", Seq: 9, Withdrawn: true}), convey.ShouldBeNil)

			convey.Convey("Then the contribution is withdrawn without scoring", func() {
				convey.So(col.wait(), convey.ShouldBeTrue)
				calls := updater.snapshot()
				convey.So(calls, convey.ShouldHaveLength, 1)
				convey.So(calls[0].withdraw, convey.ShouldBeTrue)
				convey.So(calls[0].seq, convey.ShouldEqual, 9)
			})
		})

		convey.Convey("When scoring fails", func() {
			col := newCollector(1)
			w := worker.NewInMemoryWorker(q, failingScorer{}, updater, worker.WithOnProcessed(col.hook))
			go w.Run(ctx)
			_ = q.Enqueue(ctx, model.RankingEvent{SessionID: "s1", Seq: 1, Ordering: items("a")})

			convey.Convey("Then the error is reported and nothing is written", func() {
				convey.So(col.wait(), convey.ShouldBeTrue)
				convey.So(col.errs[0], convey.ShouldNotBeNil)
				convey.So(updater.snapshot(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the store fails", func() {
			col := newCollector(1)
			updater.err = errors.New("store down")
			w := worker.NewInMemoryWorker(q, scoring.NewTableScorer(), updater, worker.WithOnProcessed(col.hook))
			go w.Run(ctx)
			_ = q.Enqueue(ctx, model.RankingEvent{SessionID: "s1", Seq: 1, Ordering: items("a")})

			convey.Convey("Then the wrapped error reaches the hook", func() {
				convey.So(col.wait(), convey.ShouldBeTrue)
				convey.So(errors.Is(col.errs[0], updater.err), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			w := worker.NewInMemoryWorker(q, scoring.NewTableScorer(), updater)
			go w.Run(ctx)

			convey.Convey("Then it stops promptly and a second shutdown is harmless", func() {
				sctx, scancel := context.WithTimeout(ctx, time.Second)
				defer scancel()
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a pool of four workers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		updater := &mockUpdater{}
		col := newCollector(20)
		pool := worker.NewPool(4, q, scoring.NewTableScorer(), updater, worker.WithOnProcessed(col.hook))
		pool.Start(ctx)

		for i := 0; i < 20; i++ {
			_ = q.Enqueue(ctx, model.RankingEvent{SessionID: "s", Seq: uint64(i + 1), Ordering: items("a", "b")})
		}

		convey.Convey("Then every event is processed exactly once", func() {
			convey.So(col.wait(), convey.ShouldBeTrue)
			convey.So(updater.snapshot(), convey.ShouldHaveLength, 20)
			convey.So(pool.Size(), convey.ShouldEqual, 4)
		})

		convey.Convey("Then shutdown drains and stops every worker", func() {
			convey.So(col.wait(), convey.ShouldBeTrue)
			sctx, scancel := context.WithTimeout(ctx, 2*time.Second)
			defer scancel()
			convey.So(pool.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
			convey.So(pool.Busy(), convey.ShouldEqual, 0)
		})
	})

	convey.Convey("Given a non-positive worker count", t, func() {
		pool := worker.NewPool(0, queue.NewInMemoryQueue(), scoring.NewTableScorer(), &mockUpdater{})

		convey.Convey("Then one worker is created", func() {
			convey.So(pool.Size(), convey.ShouldEqual, 1)
		})
	})
}
