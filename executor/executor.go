package executor

import (
	"go.rillflow.net/rill/def"
)

/*
	In general, executors are assumed to be running on the host that will
	run the task's command.  Coordinating remote hosts is the concrete
	backend's problem; the processor only speaks this contract.
*/
type Executor interface {

	// Display name; shows up in logs and fault reports.
	Name() string

	// Root path under which task work dirs are derived.
	WorkDirRoot() string

	// Path the file porter stages foreign downloads into.
	StageDir() string

	// Optional project scripts dir; empty when the pipeline has none.
	// Scripts here are folded into task fingerprints when the command
	// invokes them by name, and the dir joins PATH at execution time.
	BinDir() string

	/*
		Reports whether a path lives somewhere this backend can't read
		directly, in which case staging must route it through the porter
		before the task can run.
	*/
	IsForeignFile(path string) bool

	/*
		Hand a ready task over for execution.  The task's work dir exists
		and its inputs are staged before this is called.  Submission is
		asynchronous: the returned Job is a promise, and the error return
		covers only launch-time trouble (a SubmitTimeoutError here is
		retried on its own counter).
	*/
	Submit(t *def.Task) (Job, error)

	/*
		Batched submission for processes declaring an array size.  The
		backend may turn these into one scheduler-level array job; it may
		also just loop.  Jobs come back in task order.
	*/
	SubmitArray(ts []*def.Task) ([]Job, error)
}

/*
	Job is the promise for one submitted task.  Wait blocks until the
	backend reports, then keeps answering the same result forever.
*/
type Job interface {
	Wait() Result
}

type Result struct {
	ExitCode int
	// Err is set when the backend itself failed (as opposed to the
	// command exiting nonzero, which is the caller's judgment call).
	Err error
}
