package app

import (
	"errors"
	"fmt"

	"fbagent/internal/agent"
	"fbagent/internal/model"
)

// ErrCycleFailed is returned for a cycle that ran to the end but recorded
// errors in its report. The scheduler counts it as a failed attempt.
var ErrCycleFailed = errors.New("cycle finished with errors")

// cycleOutcome returns the status and summary persisted for a finished cycle.
func cycleOutcome(report *agent.Report, runErr error) (string, string) {
	summary := report.Summary()
	switch {
	case runErr != nil:
		return model.CycleFailed, fmt.Sprintf("%s; aborted: %v", summary, runErr)
	case report.Failed():
		return model.CycleFailed, summary
	default:
		return model.CycleSuccess, summary
	}
}

// cycleError is the error handed back to the scheduler for a cycle.
func cycleError(report *agent.Report, runErr error) error {
	if runErr != nil {
		return runErr
	}
	if report.Failed() {
		return fmt.Errorf("%w: %d error(s)", ErrCycleFailed, report.Count(agent.CounterErrors))
	}
	return nil
}
