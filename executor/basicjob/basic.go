package basicjob

import (
	"go.rillflow.net/rill/executor"
)

/*
	BasicJob is the simplest Job implementation that can fly: a result
	slot and a latch.  Backends fill the slot, close the latch, done.
*/
type BasicJob struct {
	// Only valid to read after Wait()
	Result executor.Result

	// This channel should never be sent to, and is instead closed when the job is complete.
	WaitChan chan struct{}
}

var _ executor.Job = &BasicJob{}

func (j *BasicJob) Wait() executor.Result {
	<-j.WaitChan
	return j.Result
}

// Finish fills the result and releases every waiter.
func (j *BasicJob) Finish(result executor.Result) {
	j.Result = result
	close(j.WaitChan)
}

func New() *BasicJob {
	return &BasicJob{
		WaitChan: make(chan struct{}),
	}
}
