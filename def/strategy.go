package def

import (
	"strings"
)

/*
	ErrorStrategy is the user-configured policy for what a process does
	when one of its tasks fails.

	Terminate is the hard stop: the whole workflow aborts.  Finish stops
	accepting new tuples but drains what's in flight.  Ignore drops the
	failed tuple and keeps going.  Retry resubmits with a fresh attempt
	index, bounded by MaxRetries and MaxErrors.
*/
type ErrorStrategy byte

const (
	StrategyTerminate ErrorStrategy = iota
	StrategyFinish
	StrategyIgnore
	StrategyRetry
)

func ParseStrategy(s string) (ErrorStrategy, bool) {
	switch strings.ToLower(s) {
	case "", "terminate":
		return StrategyTerminate, true
	case "finish":
		return StrategyFinish, true
	case "ignore":
		return StrategyIgnore, true
	case "retry":
		return StrategyRetry, true
	}
	return StrategyTerminate, false
}

func (s ErrorStrategy) String() string {
	switch s {
	case StrategyFinish:
		return "finish"
	case StrategyIgnore:
		return "ignore"
	case StrategyRetry:
		return "retry"
	default:
		return "terminate"
	}
}

/*
	ErrorAction is what the strategy engine actually decided for one
	particular failure.  It differs from the configured strategy: a retry
	strategy out of budget decays to terminate, a retryable error upgrades
	to retry regardless of configuration, and so on.
*/
type ErrorAction byte

const (
	ActionNone ErrorAction = iota
	ActionIgnore
	ActionRetry
	ActionFinish
	ActionTerminate
)

func (a ErrorAction) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionRetry:
		return "retry"
	case ActionFinish:
		return "finish"
	case ActionTerminate:
		return "terminate"
	default:
		return "none"
	}
}
