package forecast

import (
	"sync"
)

// missTracker counts cache misses in progress per key. The resolver takes no
// per-key lock, so concurrent misses for the same location each regenerate
// and overwrite the entry; the tracker makes that duplicate work observable
// without preventing it.
type missTracker struct {
	mu           sync.Mutex
	activeMisses map[string]int // key -> number of concurrent misses in progress
}

func newMissTracker() *missTracker {
	return &missTracker{
		activeMisses: make(map[string]int),
	}
}

// beginMiss records a cache miss for key and returns the concurrent miss
// count after incrementing. Caller should defer endMiss(key).
func (mt *missTracker) beginMiss(key string) int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.activeMisses[key]++
	return mt.activeMisses[key]
}

// endMiss records completion of a miss for key.
func (mt *missTracker) endMiss(key string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if count, ok := mt.activeMisses[key]; ok && count > 0 {
		mt.activeMisses[key]--
		if mt.activeMisses[key] == 0 {
			delete(mt.activeMisses, key)
		}
	}
}
