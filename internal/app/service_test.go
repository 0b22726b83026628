package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/songrank/internal/adapters/repository"
	"github.com/okian/songrank/internal/adapters/sessionstore"
	service "github.com/okian/songrank/internal/app"
	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/qualify"
	"github.com/okian/songrank/internal/domain/scoring"
	"github.com/okian/songrank/internal/domain/session"
	"github.com/okian/songrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithLevel("error")); err != nil {
		panic(err)
	}
}

var (
	final2023 = model.Query{Edition: 2023, ShowType: model.ModeGrandFinal}
	all2023   = model.Query{Edition: 2023}
	nordics   = model.Query{StartYear: 2022, EndYear: 2023, Group: "nordic"}
	solo2023  = model.Query{Edition: 2023, ShowType: model.ModeSemiFinal2}
)

type fakeCatalog struct {
	entries map[model.Query][]model.Item
	members qualify.Memberships
}

func (f *fakeCatalog) Entries(_ context.Context, q model.Query) ([]model.Item, error) {
	items, ok := f.entries[q]
	if !ok {
		return nil, errors.New("no entries")
	}
	return items, nil
}

func (f *fakeCatalog) BracketMembers(context.Context, int) (qualify.Memberships, error) {
	return f.members, nil
}

func newCatalog() *fakeCatalog {
	a := []model.Item{
		{ID: "a1", Title: "A1", Country: "A1"},
		{ID: "a2", Title: "A2", Country: "A2"},
		{ID: "a3", Title: "A3", Country: "A3"},
	}
	host := model.Item{ID: "host", Title: "Host", Country: "GB"}
	return &fakeCatalog{
		entries: map[model.Query][]model.Item{
			final2023: {
				{ID: "2023-SE", Title: "Tattoo", Country: "SE", Year: 2023},
				{ID: "2023-FI", Title: "Cha Cha Cha", Country: "FI", Year: 2023},
				{ID: "2023-NO", Title: "Queen of Kings", Country: "NO", Year: 2023},
			},
			all2023: append(append([]model.Item{}, a...), host),
			nordics: {
				{ID: "2022-SE", Title: "Hold Me Closer", Country: "SE", Year: 2022},
				{ID: "2023-SE", Title: "Tattoo", Country: "SE", Year: 2023},
			},
			solo2023: {{ID: "2023-UA", Title: "Heart of Steel", Country: "UA", Year: 2023}},
		},
		members: qualify.Memberships{model.ModeSemiFinal1: a},
	}
}

// events collects ranking events handled by the workers.
type events chan model.RankingEvent

func (e events) hook(ev model.RankingEvent, _ error) { e <- ev }

func (e events) wait(n int) []model.RankingEvent {
	var out []model.RankingEvent
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev := <-e:
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
	return out
}

func start(opts ...service.Option) (*service.Service, events) {
	ev := make(events, 64)
	opts = append(opts, service.WithEventHook(ev.hook), service.WithWorkerCount(2))
	svc, err := service.New(newCatalog(), opts...)
	So(err, ShouldBeNil)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc, ev
}

// finish answers every pending comparison with preferLeft.
func finish(ctx context.Context, svc *service.Service, id string, preferLeft bool) session.View {
	v, err := svc.Session(ctx, id)
	So(err, ShouldBeNil)
	for !v.Complete() {
		v, _, err = svc.Decide(ctx, id, preferLeft, "")
		So(err, ShouldBeNil)
	}
	return v
}

func TestService_New(t *testing.T) {
	Convey("Given no catalog", t, func() {
		_, err := service.New(nil)
		So(err, ShouldEqual, service.ErrNoCatalog)
	})

	Convey("Given a service that was never started", t, func() {
		svc, err := service.New(newCatalog())
		So(err, ShouldBeNil)
		defer svc.Close(context.Background())

		Convey("Then mutations are rejected", func() {
			_, err := svc.CreateSession(context.Background(), final2023)
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.DeleteSession(context.Background(), "x"), ShouldEqual, service.ErrNotStarted)
		})

		Convey("Then stats report it as stopped", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["pointsTable"], ShouldResemble, scoring.DefaultTable)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, _ := start()
		ctx := context.Background()

		Convey("When starting again", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
		})

		Convey("When stopping and starting again", func() {
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then sessions still work", func() {
				_, err := svc.CreateSession(ctx, final2023)
				So(err, ShouldBeNil)
			})
		})

		Reset(func() { _ = svc.Close(ctx) })
	})
}

func TestService_RankingFlow(t *testing.T) {
	Convey("Given a grand final session", t, func() {
		svc, ev := start()
		ctx := context.Background()
		v, err := svc.CreateSession(ctx, final2023)
		So(err, ShouldBeNil)
		id := v.ID

		Convey("Then the first pair is pending", func() {
			So(v.State, ShouldEqual, "paused")
			So(v.Items, ShouldEqual, 3)
			So(v.Left.Title, ShouldEqual, "Queen of Kings")
			So(v.Right.Title, ShouldEqual, "Tattoo")

			got, err := svc.Session(ctx, id)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, v)
		})

		Convey("Then the result is not available yet", func() {
			_, err := svc.Result(ctx, id)
			So(err, ShouldEqual, service.ErrNotComplete)
		})

		Convey("When a decision is retried with the same request id", func() {
			first, dup, err := svc.Decide(ctx, id, false, "req-1")
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)
			again, dup, err := svc.Decide(ctx, id, false, "req-1")

			Convey("Then it is applied once", func() {
				So(err, ShouldBeNil)
				So(dup, ShouldBeTrue)
				So(again, ShouldResemble, first)
				So(again.Decisions, ShouldEqual, 1)
			})
		})

		Convey("When every comparison is answered", func() {
			_, _, err := svc.Decide(ctx, id, false, "r1")
			So(err, ShouldBeNil)
			_, _, err = svc.Decide(ctx, id, false, "r2")
			So(err, ShouldBeNil)
			done, _, err := svc.Decide(ctx, id, true, "r3")
			So(err, ShouldBeNil)
			So(done.Complete(), ShouldBeTrue)

			Convey("Then the result carries places, points and qualification", func() {
				r, err := svc.Result(ctx, id)
				So(err, ShouldBeNil)
				So(r.Mode, ShouldEqual, "grand-final")
				So(r.Decisions, ShouldEqual, 3)
				So(len(r.Placements), ShouldEqual, 3)
				So(r.Placements[0].Item.Title, ShouldEqual, "Tattoo")
				So(r.Placements[0].Place, ShouldEqual, 1)
				So(r.Placements[0].Points, ShouldEqual, 12)
				So(r.Placements[1].Item.Title, ShouldEqual, "Cha Cha Cha")
				So(r.Placements[1].Points, ShouldEqual, 10)
				So(r.Placements[2].Points, ShouldEqual, 8)
				for _, p := range r.Placements {
					So(*p.Qualified, ShouldBeTrue)
				}
			})

			Convey("Then the standings receive the points", func() {
				got := ev.wait(1)
				So(len(got), ShouldEqual, 1)
				So(got[0].Withdrawn, ShouldBeFalse)
				So(got[0].Edition, ShouldEqual, 2023)

				top, err := svc.Standings(ctx, 10)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 3)
				So(top[0].EntryID, ShouldEqual, "2023-SE")
				So(top[0].Points, ShouldEqual, 12)

				row, err := svc.Standing(ctx, "2023-NO")
				So(err, ShouldBeNil)
				So(row.Rank, ShouldEqual, 3)
				So(row.Voters, ShouldEqual, 1)
			})

			Convey("And a further decision conflicts without burning its request id", func() {
				_, dup, err := svc.Decide(ctx, id, true, "r4")
				So(errors.Is(err, session.ErrComplete), ShouldBeTrue)
				So(dup, ShouldBeFalse)
				_, dup, err = svc.Decide(ctx, id, true, "r4")
				So(errors.Is(err, session.ErrComplete), ShouldBeTrue)
				So(dup, ShouldBeFalse)
			})

			Convey("And undo withdraws the contribution", func() {
				So(len(ev.wait(1)), ShouldEqual, 1)
				v, dup, err := svc.Undo(ctx, id, "u1")
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(v.State, ShouldEqual, "paused")

				got := ev.wait(1)
				So(len(got), ShouldEqual, 1)
				So(got[0].Withdrawn, ShouldBeTrue)
				_, err = svc.Standing(ctx, "2023-SE")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("And deleting the session withdraws it too", func() {
				So(len(ev.wait(1)), ShouldEqual, 1)
				So(svc.DeleteSession(ctx, id), ShouldBeNil)
				So(len(ev.wait(1)), ShouldEqual, 1)

				_, err := svc.Session(ctx, id)
				So(errors.Is(err, sessionstore.ErrNotFound), ShouldBeTrue)
				top, err := svc.Standings(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldBeEmpty)
			})
		})

		Convey("When undoing with nothing decided", func() {
			v, dup, err := svc.Undo(ctx, id, "")

			Convey("Then nothing changes", func() {
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(v.Decisions, ShouldEqual, 0)
			})
		})

		Convey("When resubmitting a range query", func() {
			_, _, err := svc.Decide(ctx, id, true, "")
			So(err, ShouldBeNil)
			v, err := svc.Resubmit(ctx, id, nordics)

			Convey("Then the session restarts over the new entries", func() {
				So(err, ShouldBeNil)
				So(v.ID, ShouldEqual, id)
				So(v.Items, ShouldEqual, 2)
				So(v.Decisions, ShouldEqual, 0)
				So(v.Mode, ShouldEqual, "all")
			})

			Convey("Then its result has no qualification flags", func() {
				finish(ctx, svc, id, true)
				r, err := svc.Result(ctx, id)
				So(err, ShouldBeNil)
				So(r.Placements[0].Qualified, ShouldBeNil)
			})
		})

		Convey("When a session does not exist", func() {
			_, err := svc.Session(ctx, "nope")
			So(errors.Is(err, sessionstore.ErrNotFound), ShouldBeTrue)
			_, _, err = svc.Decide(ctx, "nope", true, "x")
			So(errors.Is(err, sessionstore.ErrNotFound), ShouldBeTrue)
			So(errors.Is(svc.DeleteSession(ctx, "nope"), sessionstore.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the query is invalid", func() {
			_, err := svc.CreateSession(ctx, model.Query{Edition: 2023, StartYear: 2020})
			So(errors.Is(err, service.ErrInvalidQuery), ShouldBeTrue)
			So(errors.Is(err, model.ErrMixedQuery), ShouldBeTrue)
		})

		Reset(func() { _ = svc.Close(ctx) })
	})
}

func TestService_SingleEntry(t *testing.T) {
	Convey("Given a query selecting one entry", t, func() {
		svc, ev := start()
		ctx := context.Background()
		defer svc.Close(ctx)

		v, err := svc.CreateSession(ctx, solo2023)
		So(err, ShouldBeNil)

		Convey("Then the session is complete at once and counts in the standings", func() {
			So(v.Complete(), ShouldBeTrue)
			So(len(ev.wait(1)), ShouldEqual, 1)
			row, err := svc.Standing(ctx, "2023-UA")
			So(err, ShouldBeNil)
			So(row.Points, ShouldEqual, 12)
		})
	})
}

func TestService_EditionQualification(t *testing.T) {
	Convey("Given an edition-wide session with a cutoff of two", t, func() {
		svc, _ := start(service.WithQualifyCutoff(2), service.WithPointsTable([]int{3, 2, 1}))
		ctx := context.Background()
		defer svc.Close(ctx)

		v, err := svc.CreateSession(ctx, all2023)
		So(err, ShouldBeNil)
		finish(ctx, svc, v.ID, true)

		r, err := svc.Result(ctx, v.ID)
		So(err, ShouldBeNil)

		Convey("Then semi-final entries are cut within their bracket", func() {
			titles := make([]string, len(r.Placements))
			qualified := make([]bool, len(r.Placements))
			points := make([]int, len(r.Placements))
			for i, p := range r.Placements {
				titles[i] = p.Item.Title
				qualified[i] = *p.Qualified
				points[i] = p.Points
			}
			So(titles, ShouldResemble, []string{"A1", "A2", "A3", "Host"})
			So(qualified, ShouldResemble, []bool{true, true, false, true})
			So(points, ShouldResemble, []int{3, 2, 1, 0})
		})
	})
}

// blockingStandings holds every Apply until released.
type blockingStandings struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStandings) Apply(ctx context.Context, id string, seq uint64, awards []scoring.Award) (bool, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Store.Apply(ctx, id, seq, awards)
}

func (b *blockingStandings) unblock() { b.once.Do(func() { close(b.release) }) }

func TestService_Backpressure(t *testing.T) {
	Convey("Given a single worker stuck on a full queue", t, func() {
		ctx := context.Background()
		inner := repository.NewTreapStore(ctx)
		defer inner.Close()
		blocked := &blockingStandings{Store: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}

		svc, err := service.New(newCatalog(),
			service.WithStandings(blocked),
			service.WithWorkerCount(1),
			service.WithQueueSize(1),
		)
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() {
			blocked.unblock()
			_ = svc.Close(ctx)
		}()

		_, err = svc.CreateSession(ctx, solo2023)
		So(err, ShouldBeNil)
		<-blocked.entered

		var created int
		for range 5 {
			if _, err = svc.CreateSession(ctx, solo2023); err != nil {
				break
			}
			created++
		}

		Convey("Then completing sessions is refused and nothing is stored", func() {
			So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)
			So(svc.GetStats()["sessions"], ShouldEqual, created+1)
		})

		Convey("When a decision would complete another session", func() {
			pending, err := svc.CreateSession(ctx, nordics)
			So(err, ShouldBeNil)
			_, _, err = svc.Decide(ctx, pending.ID, true, "final")

			Convey("Then the decision is rolled back and can be retried", func() {
				So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)
				v, err := svc.Session(ctx, pending.ID)
				So(err, ShouldBeNil)
				So(v.Decisions, ShouldEqual, 0)

				blocked.unblock()
				deadline := time.Now().Add(5 * time.Second)
				var dup bool
				for time.Now().Before(deadline) {
					v, dup, err = svc.Decide(ctx, pending.ID, true, "final")
					if !errors.Is(err, service.ErrBackpressure) {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(v.Complete(), ShouldBeTrue)
			})
		})
	})
}
