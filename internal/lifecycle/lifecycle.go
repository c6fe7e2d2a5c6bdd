// Package lifecycle holds the process readiness state reported by /health.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseReady
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseDraining:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. Draining is terminal; later calls are ignored.
func SetPhase(p Phase) {
	for {
		cur := phase.Load()
		if Phase(cur) == PhaseDraining && p != PhaseDraining {
			return
		}
		if phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// CurrentPhase returns the recorded phase.
func CurrentPhase() Phase { return Phase(phase.Load()) }

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool { return CurrentPhase() == PhaseDraining }

// reset is for tests.
func reset() { phase.Store(int32(PhaseStarting)) }
