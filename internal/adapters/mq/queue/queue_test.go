package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/songrank/internal/domain/model"
)

func event(id string) Event {
	return model.RankingEvent{SessionID: id, Edition: 2023, At: time.Unix(0, 0)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Fatalf("expected length 0, got %d", l)
	}
	if err := q.Enqueue(ctx, event("s1")); err != nil {
		t.Fatalf("enqueue s1: %v", err)
	}
	if err := q.Enqueue(ctx, event("s2")); err != nil {
		t.Fatalf("enqueue s2: %v", err)
	}
	if err := q.Enqueue(ctx, event("s3")); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Fatalf("expected length 2, got %d", l)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := q.Dequeue(dctx)
	for _, want := range []string{"s1", "s2"} {
		select {
		case got := <-ch:
			if got.SessionID != want {
				t.Errorf("expected %s, got %s", want, got.SessionID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, event(fmt.Sprintf("s%d", i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Fatal("expected queue to report closed")
	}
	if err := q.Enqueue(ctx, event("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// Buffered events drain before the channel closes.
	got := 0
	for range q.Dequeue(ctx) {
		got++
	}
	if got != 3 {
		t.Fatalf("expected 3 drained events, got %d", got)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, event("s1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	select {
	case _, ok := <-q.Dequeue(ctx):
		if ok {
			t.Fatal("expected closed channel for a cancelled consumer")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue channel not closed after cancellation")
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	const producers, each = 8, 50
	q := NewInMemoryQueue(WithCapacity(producers * each))
	ctx := context.Background()

	done := make(chan error, producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < each; i++ {
				if err := q.Enqueue(ctx, event(fmt.Sprintf("p%d-%d", p, i))); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(p)
	}
	for p := 0; p < producers; p++ {
		if err := <-done; err != nil {
			t.Fatalf("producer failed: %v", err)
		}
	}
	if l := q.Len(ctx); l != producers*each {
		t.Fatalf("expected %d events, got %d", producers*each, l)
	}
}
