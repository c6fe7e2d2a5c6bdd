package service

import (
	"sync"
)

// stampedeTracker tracks concurrent cache misses per key to detect cache stampede.
// RecordMiss increments and returns the count for the key; RecordDone decrements.
type stampedeTracker struct {
	mu           sync.Mutex
	activeMisses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{
		activeMisses: make(map[string]int),
	}
}

// RecordMiss records a cache miss for key and returns the concurrent miss count after incrementing.
// Caller should defer RecordDone(key) once the upstream fetch finishes.
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activeMisses[key]++
	return st.activeMisses[key]
}

// RecordDone records completion of a miss for key.
func (st *stampedeTracker) RecordDone(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if count, ok := st.activeMisses[key]; ok && count > 0 {
		st.activeMisses[key]--
		if st.activeMisses[key] == 0 {
			delete(st.activeMisses, key)
		}
	}
}

// Active returns the number of misses in progress for key.
func (st *stampedeTracker) Active(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.activeMisses[key]
}
