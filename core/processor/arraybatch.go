package processor

import (
	"sync"

	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/executor/basicjob"
)

/*
	arrayCollector buffers ready tasks for batched submission.  When the
	buffer reaches the configured size — or the process closes with a
	partial batch — the whole batch goes to the backend in one call.

	Retried tasks bypass the collector; a retry shouldn't sit waiting for
	K-1 strangers before it can run again.
*/
type arrayCollector struct {
	size int
	exec executor.Executor

	mu      sync.Mutex
	tasks   []*def.Task
	waiting []*basicjob.BasicJob
	closed  bool
}

func newArrayCollector(size int, exec executor.Executor) *arrayCollector {
	return &arrayCollector{size: size, exec: exec}
}

/*
	Add enqueues a task and returns its job promise immediately; the
	promise resolves after the batch it rode in gets submitted.
*/
func (c *arrayCollector) Add(t *def.Task) executor.Job {
	c.mu.Lock()
	bj := basicjob.New()
	c.tasks = append(c.tasks, t)
	c.waiting = append(c.waiting, bj)
	var flushTasks []*def.Task
	var flushJobs []*basicjob.BasicJob
	if len(c.tasks) >= c.size {
		flushTasks, flushJobs = c.takeLocked()
	}
	c.mu.Unlock()
	if flushTasks != nil {
		c.submit(flushTasks, flushJobs)
	}
	return bj
}

// Flush submits whatever is pending; called when the process closes.
func (c *arrayCollector) Flush() {
	c.mu.Lock()
	c.closed = true
	flushTasks, flushJobs := c.takeLocked()
	c.mu.Unlock()
	if flushTasks != nil {
		c.submit(flushTasks, flushJobs)
	}
}

func (c *arrayCollector) takeLocked() ([]*def.Task, []*basicjob.BasicJob) {
	if len(c.tasks) == 0 {
		return nil, nil
	}
	tasks, jobs := c.tasks, c.waiting
	c.tasks, c.waiting = nil, nil
	return tasks, jobs
}

func (c *arrayCollector) submit(tasks []*def.Task, promises []*basicjob.BasicJob) {
	jobs, err := c.exec.SubmitArray(tasks)
	for i, promise := range promises {
		if i < len(jobs) && jobs[i] != nil {
			go func(real executor.Job, promise *basicjob.BasicJob) {
				promise.Finish(real.Wait())
			}(jobs[i], promise)
			continue
		}
		promise.Finish(executor.Result{ExitCode: -1, Err: err})
	}
}
