package scheduler

import (
	"simcore/internal/events"
	"simcore/internal/kernel"
)

// triggerState is the per-module bookkeeping the reactive trigger needs
// across frames: accumulated wall-clock delta against the target period,
// and the repository version this module last actually ran at.
type triggerState struct {
	accumulatedDelta float64
	lastRunTick      uint32
}

// shouldRun implements should_run_this_frame: accumulated delta has reached
// the target period, and (if declared) at least one watched event type is
// active this frame or one watched component type changed since the
// module's last run.
func shouldRun(policy ExecutionPolicy, ts *triggerState, wallDelta float64, bus *events.Bus, repo *kernel.Repository, watchEvents []events.TypeID, watchComponents []kernel.ComponentTypeID) bool {
	ts.accumulatedDelta += wallDelta
	if ts.accumulatedDelta < policy.Period() {
		return false
	}

	if len(watchEvents) > 0 {
		anyActive := false
		for _, id := range watchEvents {
			if bus.IsActive(id) {
				anyActive = true
				break
			}
		}
		if !anyActive {
			return false
		}
	}

	if len(watchComponents) > 0 {
		anyChanged := false
		for _, id := range watchComponents {
			if repo.HasComponentChanged(id, ts.lastRunTick) {
				anyChanged = true
				break
			}
		}
		if !anyChanged {
			return false
		}
	}

	return true
}

// consumePeriod subtracts one target period from the accumulated delta,
// leaving any surplus for next frame rather than resetting to zero.
func (ts *triggerState) consumePeriod(policy ExecutionPolicy) {
	ts.accumulatedDelta -= policy.Period()
	if ts.accumulatedDelta < 0 {
		ts.accumulatedDelta = 0
	}
}
