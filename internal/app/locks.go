package service

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLocks serialises work per key without a map of mutexes.
type stripedLocks [lockStripes]sync.Mutex

func (l *stripedLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
