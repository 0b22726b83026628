package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/songrank/internal/domain/scoring"
	"github.com/okian/songrank/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: points DESC, then entry id ASC. "less" means ranks earlier, so
// an in-order walk yields the table from first to last. Subtree sizes make
// rank lookups logarithmic.

// Snapshot is an immutable copy of the head of the table.
type Snapshot struct {
	Top     []Standing
	Entries int
	Ballots int
	At      time.Time
}

type node struct {
	id     string
	points int
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aPoints int, aID string, bPoints int, bID string) bool {
	if aPoints != bPoints {
		return aPoints > bPoints
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, points int, prio uint64) *node {
	if n == nil {
		return &node{id: id, points: points, prio: prio, size: 1}
	}
	if less(points, id, n.points, n.id) {
		n.left = insert(n.left, id, points, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, points, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, points int) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.points == points:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, points)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, points)
		}
	case less(points, id, n.points, n.id):
		n.left = deleteNode(n.left, id, points)
	default:
		n.right = deleteNode(n.right, id, points)
	}
	fix(n)
	return n
}

// countAbove returns how many entries hold strictly more than points.
func countAbove(n *node, points int) int {
	count := 0
	for n != nil {
		if n.points > points {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit nodes in table order.
func collectTopN(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	collectTopN(n.right, limit, out)
}

type record struct {
	title  string
	points int
	voters int
}

// contribution is what one session currently adds. awards is nil once
// withdrawn; the seq is kept so late events stay rejected.
type contribution struct {
	seq    uint64
	awards []scoring.Award
}

// TreapStore is the in-memory standings table.
type TreapStore struct {
	mu        sync.RWMutex
	root      *node
	byID      map[string]record
	bySession map[string]contribution
	ballots   int
	rng       *rand.Rand

	snapshotInterval time.Duration
	topCacheSize     int
	snapshot         atomic.Pointer[Snapshot]

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a store and starts its snapshot publisher, which
// runs until ctx is done or Close is called.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:             make(map[string]record),
		bySession:        make(map[string]contribution),
		rng:              rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)), //nolint:gosec // treap priorities
		snapshotInterval: time.Second,
		topCacheSize:     100,
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishSnapshot()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
	return s
}

// Close stops the snapshot publisher.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Snapshot returns the last published snapshot.
func (s *TreapStore) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

func (s *TreapStore) publishSnapshot() {
	start := time.Now()
	s.mu.RLock()
	snap := &Snapshot{
		Top:     s.topLocked(s.topCacheSize),
		Entries: len(s.byID),
		Ballots: s.ballots,
		At:      start,
	}
	s.mu.RUnlock()
	s.snapshot.Store(snap)
	metrics.RecordSnapshot(float64(time.Since(start).Microseconds())/1000, start.Unix())
}

// Apply implements Store.Apply.
func (s *TreapStore) Apply(ctx context.Context, sessionID string, seq uint64, awards []scoring.Award) (bool, error) {
	return s.replace(ctx, sessionID, seq, awards, false)
}

// Withdraw implements Store.Withdraw.
func (s *TreapStore) Withdraw(ctx context.Context, sessionID string, seq uint64) (bool, error) {
	return s.replace(ctx, sessionID, seq, nil, true)
}

func (s *TreapStore) replace(ctx context.Context, sessionID string, seq uint64, awards []scoring.Award, withdraw bool) (bool, error) {
	if sessionID == "" {
		return false, ErrEmptySession
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("standings update: %w", err)
	}
	start := time.Now()
	defer func() {
		metrics.RecordStandingsUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.Lock()
	prev, seen := s.bySession[sessionID]
	if seen && seq <= prev.seq {
		s.mu.Unlock()
		return false, nil
	}
	if prev.awards != nil {
		s.ballots--
		for _, a := range prev.awards {
			s.adjust(a.EntryID, a.Title, -a.Points, -1)
		}
	}
	next := contribution{seq: seq}
	if !withdraw {
		next.awards = make([]scoring.Award, 0, len(awards))
		for _, a := range awards {
			if a.Points <= 0 || a.EntryID == "" {
				continue
			}
			next.awards = append(next.awards, a)
			s.adjust(a.EntryID, a.Title, a.Points, 1)
		}
		s.ballots++
	}
	s.bySession[sessionID] = next
	entries := len(s.byID)
	s.mu.Unlock()

	metrics.RecordStandingsUpdate()
	metrics.UpdateStandingsEntries(entries)
	return true, nil
}

// adjust moves an entry by delta points. Must be called with s.mu held.
func (s *TreapStore) adjust(entryID, title string, delta, voters int) {
	rec, ok := s.byID[entryID]
	if ok {
		s.root = deleteNode(s.root, entryID, rec.points)
	}
	rec.points += delta
	rec.voters += voters
	if title != "" {
		rec.title = title
	}
	if rec.points <= 0 {
		delete(s.byID, entryID)
		return
	}
	s.byID[entryID] = rec
	s.root = insert(s.root, entryID, rec.points, s.rng.Uint64())
}

// Rank implements Store.Rank. Tied entries share a rank and the next rank
// skips accordingly (1, 1, 3).
func (s *TreapStore) Rank(_ context.Context, entryID string) (Standing, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStandingsQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[entryID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Standing{}, ErrNotFound
	}
	return Standing{
		Rank:    countAbove(s.root, rec.points) + 1,
		EntryID: entryID,
		Title:   rec.title,
		Points:  rec.points,
		Voters:  rec.voters,
	}, nil
}

// TopN implements Store.TopN.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Standing, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStandingsQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topLocked(n), nil
}

func (s *TreapStore) topLocked(n int) []Standing {
	nodes := make([]*node, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &nodes)
	out := make([]Standing, len(nodes))
	for i, nd := range nodes {
		rec := s.byID[nd.id]
		out[i] = Standing{EntryID: nd.id, Title: rec.title, Points: rec.points, Voters: rec.voters}
	}
	assignRanksWithTies(out)
	return out
}

// Count returns the number of entries holding points.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// assignRanksWithTies gives equal points the same rank; the next distinct
// score takes its position (competition ranking).
func assignRanksWithTies(rows []Standing) {
	for i := range rows {
		if i > 0 && rows[i].Points == rows[i-1].Points {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
