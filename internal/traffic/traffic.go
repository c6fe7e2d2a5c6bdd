// Package traffic keeps sliding windows of request outcomes for the health check.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept; windows longer than this see only the last retention.
const retention = 15 * time.Minute

var defaultTracker = NewTracker()

// RecordSuccess records a request that was served.
func RecordSuccess() { defaultTracker.RecordSuccess() }

// RecordError records a request that failed because of the upstream or the server.
func RecordError() { defaultTracker.RecordError() }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.RecordDenied() }

// RequestCount returns the number of outcomes within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

type outcome uint8

const (
	outcomeSuccess outcome = iota
	outcomeError
	outcomeDenied
)

type event struct {
	at   time.Time
	kind outcome
}

// Tracker is a time-ordered log of request outcomes.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

// NewTracker returns an empty tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

func (t *Tracker) RecordSuccess() { t.record(outcomeSuccess) }
func (t *Tracker) RecordError() { t.record(outcomeError) }
func (t *Tracker) RecordDenied() { t.record(outcomeDenied) }

func (t *Tracker) record(kind outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, kind: kind})
	t.pruneLocked(now)
}

// counts tallies outcomes not older than window.
func (t *Tracker) counts(window time.Duration) (success, errs, denied int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].kind {
		case outcomeSuccess:
			success++
		case outcomeError:
			errs++
		case outcomeDenied:
			denied++
		}
	}
	return success, errs, denied
}

// RequestCount returns the number of outcomes of any kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	s, e, d := t.counts(window)
	return s + e + d
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, d := t.counts(window)
	return d
}

// ErrorRate returns (errorCount, successCount+errorCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	s, e, _ := t.counts(window)
	return e, s + e
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
