package sessionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/session"
)

var t0 = time.Date(2023, 5, 13, 19, 0, 0, 0, time.UTC)

func sample(id string) *session.Session {
	s := session.New(id, model.Query{Edition: 2023, ShowType: model.ModeGrandFinal}, []model.Item{
		{ID: "2023-SE", Title: "Tattoo", Country: "SE", Year: 2023},
		{ID: "2023-FI", Title: "Cha Cha Cha", Country: "FI", Year: 2023},
		{ID: "2023-NO", Title: "Queen of Kings", Country: "NO", Year: 2023},
	}, t0)
	_, _ = s.Decide(false, t0)
	return s
}

// contract runs the behaviour every Store must share.
func contract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}
	if err := st.Put(ctx, &session.Session{}); !errors.Is(err, ErrNoID) {
		t.Fatalf("Put without id: expected ErrNoID, got %v", err)
	}

	orig := sample("s1")
	if err := st.Put(ctx, orig); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.View().Left == nil || got.View().Decisions != 1 {
		t.Fatalf("round trip lost state: %+v", got.View())
	}
	if got.Query != orig.Query || !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Fatalf("round trip lost metadata: %+v", got)
	}

	// Mutating a loaded copy must not leak into the store.
	_, _ = got.Decide(true, t0)
	again, _ := st.Get(ctx, "s1")
	if again.Decisions.Len() != 1 {
		t.Fatalf("store shares state with callers: %d decisions", again.Decisions.Len())
	}

	if err := st.Put(ctx, sample("s2")); err != nil {
		t.Fatalf("Put s2: %v", err)
	}
	if n, err := st.Count(ctx); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v; want 2", n, err)
	}

	if ok, err := st.Delete(ctx, "s1"); err != nil || !ok {
		t.Fatalf("Delete s1 = %v, %v", ok, err)
	}
	if ok, err := st.Delete(ctx, "s1"); err != nil || ok {
		t.Fatalf("second Delete s1 = %v, %v", ok, err)
	}
	if _, err := st.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	contract(t, st)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := t0
	st := NewMemoryStore(WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	if err := st.Put(ctx, sample("s1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now = t0.Add(59 * time.Minute)
	if _, err := st.Get(ctx, "s1"); err != nil {
		t.Fatalf("session expired early: %v", err)
	}
	now = t0.Add(2 * time.Hour)
	if _, err := st.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Fatalf("expired session still counted: %d", n)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer st.Close()

	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	contract(t, st)
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	if err := st.Put(ctx, sample("s1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL(defaultKeyPrefix + "s1"); ttl != time.Minute {
		t.Fatalf("expected one minute ttl, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := st.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedisStore_Errors(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url", 0); err == nil {
		t.Fatal("expected parse error")
	}

	mr := miniredis.RunT(t)
	st, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer st.Close()

	if err := mr.Set(defaultKeyPrefix+"broken", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.Get(context.Background(), "broken"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}

	mr.Close()
	if err := st.Put(context.Background(), sample("s1")); err == nil {
		t.Fatal("expected error once redis is gone")
	}
}
