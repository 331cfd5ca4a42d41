package processor

import (
	"go.rillflow.net/rill/def"
)

/*
	strategyInput is everything the decision table reads for one failure:
	the counters as they stand, and the error itself.
*/
type strategyInput struct {
	taskErrCount  int // failures of this task so far, this attempt included
	procErrCount  int // failures charged to the process so far
	submitRetries int // submit-timeout resubmissions so far
	err           error
}

type decision struct {
	action def.ErrorAction
	// chargeProcess is false for retryable errors (spot reclamation and
	// friends), which get their resubmission for free.
	chargeProcess bool
}

/*
	decide classifies one failure against the process's configured
	strategy and budgets.

	The order here is the contract: unrecoverable beats everything,
	retryable beats configuration, and only then does the user's chosen
	strategy get a say — decaying to terminate when out of budget.
*/
func decide(proc *def.Process, in strategyInput) decision {
	switch {
	case def.UnrecoverableError.Contains(in.err):
		return decision{action: def.ActionTerminate, chargeProcess: true}

	case def.RetryableError.Contains(in.err):
		return decision{action: def.ActionRetry, chargeProcess: false}

	case def.SubmitTimeoutError.Contains(in.err):
		if in.submitRetries <= proc.MaxRetries {
			return decision{action: def.ActionRetry, chargeProcess: false}
		}
		return decision{action: def.ActionTerminate, chargeProcess: true}
	}

	processFailure := def.ProcessFailureError.Contains(in.err)

	switch proc.Strategy {
	case def.StrategyIgnore:
		if processFailure {
			return decision{action: def.ActionIgnore, chargeProcess: true}
		}
	case def.StrategyRetry:
		withinProcBudget := proc.MaxErrors < 0 || in.procErrCount < proc.MaxErrors
		if withinProcBudget && in.taskErrCount <= proc.MaxRetries && in.submitRetries <= proc.MaxRetries {
			return decision{action: def.ActionRetry, chargeProcess: true}
		}
	case def.StrategyFinish:
		if processFailure {
			return decision{action: def.ActionFinish, chargeProcess: true}
		}
	}

	return decision{action: def.ActionTerminate, chargeProcess: true}
}
