package def

import (
	"github.com/spacemonkeygo/errors"
)

/*
	Validation error is a base class for anything that matches the description
	of an HTTP 400.  (Unless the validation should have been performed at an
	earlier stage, and the current check is only for sanity; then, if it fails
	and it's considered a compile-time boo boo, use `errors.ProgrammerError`.)
*/
var ValidationError *errors.ErrorClass = errors.NewClass("ValidationError")

/*
	Config error covers malformed pipeline documents: unparsable yaml,
	unknown parameter kinds, arity ranges that don't make sense, etc.
*/
var ConfigError *errors.ErrorClass = ValidationError.NewClass("ConfigError")

/*
	TaskError is the base class for everything that can go wrong between
	pulling a tuple off the input ports and binding its outputs downstream.
	The strategy engine dispatches on the subclasses below, so anything
	raised inside the per-tuple pipeline should wear one of them.
*/
var TaskError *errors.ErrorClass = errors.NewClass("TaskError")

/*
	Unrecoverable errors short-circuit the strategy engine entirely: no
	retry budget applies, the process terminates.  Script compile failures,
	nil paths, and values of a type the staging rules can't lift land here.
*/
var UnrecoverableError *errors.ErrorClass = TaskError.NewClass("UnrecoverableError")

/*
	Retryable errors are resubmitted without charging the per-process error
	counter.  Spot-instance reclamation is the canonical member.
*/
var RetryableError *errors.ErrorClass = TaskError.NewClass("RetryableError")

/*
	Process failure is the "normal" kind of failure: the command exited
	nonzero, a declared output never appeared, an output arity check failed,
	or a captured command-eval reported a nonzero exit.  These are the errors
	the configured strategy (ignore/retry/finish/terminate) arbitrates.
*/
var ProcessFailureError *errors.ErrorClass = TaskError.NewClass("ProcessFailureError")

// Raised when a declared output cannot be found in the work dir.
var MissingOutputError *errors.ErrorClass = ProcessFailureError.NewClass("MissingOutputError")

// Raised when a bound file collection falls outside a parameter's arity range.
var ArityError *errors.ErrorClass = ProcessFailureError.NewClass("ArityError")

// Raised when a command-eval capture closes with a nonzero exit.
var CommandEvalError *errors.ErrorClass = ProcessFailureError.NewClass("CommandEvalError")

/*
	Submit timeout is transient backend trouble.  It charges its own
	counter, distinct from the task failure counter, so a flaky queue
	doesn't eat the user's retry budget.
*/
var SubmitTimeoutError *errors.ErrorClass = TaskError.NewClass("SubmitTimeoutError")

// The `when:` guard expression itself threw (as opposed to evaluating false).
var GuardError *errors.ErrorClass = TaskError.NewClass("GuardError")

// Two staged inputs landed on the same name.  Always fatal, always pre-submit.
var StageCollisionError *errors.ErrorClass = UnrecoverableError.NewClass("StageCollisionError")
