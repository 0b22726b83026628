package model

import "time"

// RankingEvent is published when a session reaches a complete ordering or
// stops being complete (undo, resubmit, delete). Workers turn it into
// standings updates.
type RankingEvent struct {
	SessionID string    // session whose contribution changes
	Seq       uint64    // increases with every event; stale events are dropped
	Edition   int       // 0 for range queries
	Ordering  []Item    // best first; empty when Withdrawn
	Withdrawn bool      // drop the session's previous contribution
	At        time.Time // when the change happened
}
