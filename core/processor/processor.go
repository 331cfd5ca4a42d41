/*
	processor is the per-process dataflow operator: it fans in over the
	input ports, materializes one task per complete input tuple, drives
	each task through staging, fingerprinting, cache lookup, submission,
	collection, and the error strategy, and fans the bound outputs out —
	in tuple order when the process demands fairness.

	The operator framework this replaces is a goroutine reading one value
	per port per tick; a tuple's per-task work runs on the session's
	shared pool, bounded by the process's maxForks.  An `each` parameter
	contributes a cached collection that cross-multiplies every arriving
	tuple instead of pacing intake, and its port counts as closed after
	its single read.
*/
package processor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inconshreveable/log15"
	"github.com/spacemonkeygo/errors"
	"github.com/spacemonkeygo/errors/try"

	"go.rillflow.net/rill/cache"
	"go.rillflow.net/rill/core/collect"
	"go.rillflow.net/rill/core/session"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/fingerprint"
	"go.rillflow.net/rill/porter"
)

type Processor struct {
	Proc   *def.Process
	Sess   *session.Session
	Exec   executor.Executor
	Cache  cache.Cache
	Porter *porter.Porter
	Locker *fingerprint.LockTable

	// OnFault observes terminal faults; the session is already aborting
	// by the time it's called.  Optional.
	OnFault func(*TaskFault)

	In  []chan def.Value
	Out map[string]chan def.Value

	log   log15.Logger
	state *StateAgent
	seq   *Sequencer
	arr   *arrayCollector

	forks chan struct{}

	tupleSN   int64
	procErrs  int64
	finishing int32

	submitBarrier sync.WaitGroup
}

func New(
	proc *def.Process,
	sess *session.Session,
	exec executor.Executor,
	cacheStore cache.Cache,
	port *porter.Porter,
	locker *fingerprint.LockTable,
) *Processor {
	p := &Processor{
		Proc:   proc,
		Sess:   sess,
		Exec:   exec,
		Cache:  cacheStore,
		Porter: port,
		Locker: locker,
		log:    sess.Log.New("process", proc.Name),
	}
	p.In = make([]chan def.Value, len(proc.Inputs))
	for i := range p.In {
		p.In[i] = make(chan def.Value, 16)
	}
	p.Out = make(map[string]chan def.Value, len(proc.Outputs))
	for _, out := range proc.Outputs {
		p.Out[out.Name] = make(chan def.Value, 64)
	}
	return p
}

/*
	Start ignites the operator.  From here on the processor owns its
	input channels; it signs out of the session when the terminal
	transition has bound poison on every output.
*/
func (p *Processor) Start() {
	p.state = NewStateAgent(len(p.Proc.Inputs), p.terminal)
	p.seq = NewSequencer(p.Proc.Fair)
	if p.Proc.Array > 0 {
		p.arr = newArrayCollector(p.Proc.Array, p.Exec)
	}
	if p.Proc.MaxForks > 0 {
		p.forks = make(chan struct{}, p.Proc.MaxForks)
	}
	p.Sess.Register()
	go p.intake()
}

func (p *Processor) intake() {
	nPorts := len(p.Proc.Inputs)
	closed := make([]bool, nPorts)
	eachValues := make(map[int][]def.Value)
	eachRead := false

	defer func() {
		for i := range closed {
			if !closed[i] {
				closed[i] = true
				p.state.PoisonPort(i)
			}
		}
		if p.arr != nil {
			// The last partial batch flushes only once every launched
			// tuple has made it through submission hand-off.
			go func() {
				p.submitBarrier.Wait()
				p.arr.Flush()
			}()
		}
	}()

	for {
		if atomic.LoadInt32(&p.finishing) != 0 || p.Sess.IsAborted() {
			return
		}

		// `each` collections read once, up front.
		if !eachRead {
			for i, param := range p.Proc.Inputs {
				if param.Kind != def.InEach {
					continue
				}
				v, ok := p.recv(i)
				closed[i] = true
				p.state.PoisonPort(i)
				if !ok || v.IsPoison() {
					// an each-port that closes without a value starves
					// the process; no tuple can ever complete.
					p.log.Debug("each input closed without a value", "port", i)
					return
				}
				if v.Kind == def.KindList {
					eachValues[i] = v.List
				} else {
					eachValues[i] = []def.Value{v}
				}
			}
			eachRead = true
		}

		// One value per open queue port makes a tuple.
		tuple := make(map[string]def.Value, nPorts)
		queuePorts := 0
		for i, param := range p.Proc.Inputs {
			if param.Kind == def.InEach {
				continue
			}
			queuePorts++
			v, ok := p.recv(i)
			if !ok || v.IsPoison() {
				closed[i] = true
				p.state.PoisonPort(i)
				// A closed port means no further complete tuple can
				// form; partial reads from this tick are dropped.
				return
			}
			tuple[param.Name] = v
		}
		if queuePorts == 0 && len(eachValues) == 0 {
			// no inputs at all: a process that runs exactly once.
			p.launch(tuple)
			return
		}

		for _, combo := range p.expandEach(tuple, eachValues) {
			p.launch(combo)
		}

		if queuePorts == 0 {
			// purely each-driven: one intake cycle is the whole stream.
			return
		}
	}
}

func (p *Processor) recv(port int) (def.Value, bool) {
	select {
	case v, ok := <-p.In[port]:
		return v, ok
	case <-p.Sess.Aborted():
		return def.Poison, false
	}
}

/*
	expandEach crosses the base tuple with every each-collection, in
	declaration order, yielding the concrete tuples to materialize.
*/
func (p *Processor) expandEach(base map[string]def.Value, eachValues map[int][]def.Value) []map[string]def.Value {
	combos := []map[string]def.Value{base}
	for i, param := range p.Proc.Inputs {
		collection, isEach := eachValues[i]
		if !isEach {
			continue
		}
		next := make([]map[string]def.Value, 0, len(combos)*len(collection))
		for _, combo := range combos {
			for _, elem := range collection {
				expanded := make(map[string]def.Value, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}
				expanded[param.Name] = elem
				next = append(next, expanded)
			}
		}
		combos = next
	}
	return combos
}

/*
	launch allocates {task-id, tuple-index} — atomically with respect to
	intake, which is the only caller — and hands the tuple's pipeline to
	the pool.  The forks slot is taken *before* the submitted count rises
	so `submitted - completed` can never overshoot maxForks.
*/
func (p *Processor) launch(tuple map[string]def.Value) {
	if p.forks != nil {
		select {
		case p.forks <- struct{}{}:
		case <-p.Sess.Aborted():
			return
		}
	}
	id := p.Sess.NextTaskID()
	idx := p.tupleSN
	p.tupleSN++
	p.state.IncSubmitted()
	p.submitBarrier.Add(1)

	t := def.NewTask(id, p.Proc, idx)
	accepted := p.Sess.Spawn(func() {
		defer func() {
			if p.forks != nil {
				<-p.forks
			}
		}()
		p.runTuple(t, tuple)
	})
	if !accepted {
		// aborted mid-launch: unwind so the terminal transition can still
		// observe submitted == completed.
		p.submitBarrier.Done()
		p.dropTask(t)
		if p.forks != nil {
			<-p.forks
		}
	}
}

/*
	runTuple drives one tuple from materialization to binding, looping in
	place across retry attempts so the task keeps its forks slot and pool
	occupancy for its whole lifetime.
*/
func (p *Processor) runTuple(t *def.Task, tuple map[string]def.Value) {
	allowCache := true
	barrierUp := true
	// failures of this tuple so far; a submit timeout charges only its
	// own counter and leaves the task failure count alone
	taskErrs, submitRetries := 0, 0
	for {
		skip, err := p.runAttempt(t, tuple, allowCache, &barrierUp)
		if barrierUp {
			// submission hand-off is behind us one way or another
			p.submitBarrier.Done()
			barrierUp = false
		}
		if err == nil {
			if skip {
				p.finalizeSkip(t)
			}
			p.completeTask(t)
			return
		}

		submitTimeout := def.SubmitTimeoutError.Contains(err)
		if !submitTimeout {
			taskErrs++
		}
		d := decide(p.Proc, strategyInput{
			taskErrCount:  taskErrs,
			procErrCount:  int(atomic.LoadInt64(&p.procErrs)),
			submitRetries: submitRetries,
			err:           err,
		})
		if submitTimeout {
			submitRetries++
		}
		if d.chargeProcess {
			atomic.AddInt64(&p.procErrs, 1)
		}
		t.Failed = true
		t.Action = d.action

		switch d.action {
		case def.ActionRetry:
			p.log.Warn("task failed; retrying", "task", t.ID, "attempt", t.Attempt, "err", err)
			t = t.CloneForRetry()
			allowCache = false
			continue
		case def.ActionIgnore:
			p.log.Warn("task failed; ignoring by strategy", "task", t.ID, "err", err)
			p.dropTask(t)
			return
		case def.ActionFinish:
			p.log.Error("task failed; finishing process", "task", t.ID, "err", err)
			atomic.StoreInt32(&p.finishing, 1)
			p.dropTask(t)
			return
		default:
			p.terminateOn(t, err)
			return
		}
	}
}

/*
	runAttempt is one pass through the per-tuple pipeline.  Classed
	panics out of staging or hashing are caught here and flow to the
	strategy engine like any returned error; anything unclassed is
	unknown territory and gets wrapped — stack attached — so it
	terminates loudly rather than retries quietly.
*/
func (p *Processor) runAttempt(t *def.Task, tuple map[string]def.Value, allowCache bool, barrierUp *bool) (skip bool, err error) {
	try.Do(func() {
		skip, err = p.attempt(t, tuple, allowCache, barrierUp)
	}).CatchAll(func(caught error) {
		if def.TaskError.Contains(caught) || errors.IOError.Contains(caught) {
			err = caught
			return
		}
		err = def.UnrecoverableError.Wrap(caught)
		p.log.Error("unclassified panic in task pipeline", "task", t.ID, "err", errors.GetMessage(caught))
	}).Done()
	return
}

func (p *Processor) attempt(t *def.Task, tuple map[string]def.Value, allowCache bool, barrierUp *bool) (bool, error) {
	skip, err := p.materialize(t, tuple)
	if err != nil {
		return false, err
	}
	if skip {
		return true, nil
	}

	job, err := p.submitOrResume(t, allowCache)
	if *barrierUp {
		p.submitBarrier.Done()
		*barrierUp = false
	}
	if err != nil {
		return false, err
	}
	if job == nil {
		// satisfied from cache or store; outputs already collected.
		p.log.Info("task resumed from cache", "task", t.ID, "fingerprint", t.Fingerprint.Hex())
		return false, nil
	}

	var result executor.Result
	p.Sess.Blocking(func() {
		result = job.Wait()
	})
	if result.Err != nil {
		return false, result.Err
	}
	t.ExitStatus = result.ExitCode
	if result.ExitCode != 0 {
		return false, def.ProcessFailureError.New("command exited with status %d", result.ExitCode)
	}

	collector := collect.Collector{Log: p.log}
	if err := collector.Collect(t, p.Proc); err != nil {
		return false, err
	}
	return false, nil
}

// completeTask releases the tuple slot with a real binding.
func (p *Processor) completeTask(t *def.Task) {
	p.seq.Release(t.TupleIndex, func() {
		p.bindOutputs(t)
	})
	p.state.IncCompleted()
}

// dropTask releases the tuple slot with no binding at all, so a fair
// sequencer can pass over it.
func (p *Processor) dropTask(t *def.Task) {
	p.seq.Release(t.TupleIndex, func() {})
	p.state.IncCompleted()
}

func (p *Processor) bindOutputs(t *def.Task) {
	for _, out := range p.Proc.Outputs {
		v, bound := t.Outputs[out.Name]
		if !bound || v.IsMissing() {
			// optional output that matched nothing: this tuple slot
			// stays silent downstream; later tuples are unaffected.
			continue
		}
		select {
		case p.Out[out.Name] <- v:
		case <-p.Sess.Aborted():
			return
		}
	}
}

func (p *Processor) terminateOn(t *def.Task, err error) {
	fault := &TaskFault{
		Process: p.Proc.Name,
		Task:    t,
		Err:     err,
		Report:  renderFault(p.Proc, t, err),
	}
	if p.Sess.FirstError() {
		fmt.Fprintln(logWriter{p.log}, fault.Report)
	} else {
		p.log.Error("process faulted", "process", p.Proc.Name, "task", t.ID, "err", err)
	}
	if p.OnFault != nil {
		p.OnFault(fault)
	}
	p.Sess.Abort()
	p.dropTask(t)
}

/*
	terminal runs when the state agent observes poisoned ∧ drained: bind
	one poison per output channel, close up, sign out.  It's invoked from
	the agent's own goroutine, so the channel work moves aside.
*/
func (p *Processor) terminal() {
	go func() {
		for _, out := range p.Proc.Outputs {
			ch := p.Out[out.Name]
			select {
			case ch <- def.Poison:
			case <-p.Sess.Aborted():
			}
			close(ch)
		}
		p.log.Info("process terminated",
			"submitted", p.state.Snapshot().Submitted)
		p.state.Close()
		p.Sess.Deregister()
	}()
}

// logWriter adapts a log15 logger for the one place we print a
// multi-line block rather than a record.
type logWriter struct {
	log log15.Logger
}

func (w logWriter) Write(b []byte) (int, error) {
	w.log.Error(string(b))
	return len(b), nil
}
