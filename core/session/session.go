/*
	session is the per-run umbrella: the worker pool every process's
	per-tuple work runs on, the monotone task-id allocator, the
	at-most-once error banner latch, and the registry terminating
	processes sign out of.

	Nothing here is global.  Tests construct fresh sessions instead of
	resetting package state.
*/
package session

import (
	"sync"
	"sync/atomic"

	"github.com/inconshreveable/log15"

	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/lib/guid"
)

type Session struct {
	UID      string
	PoolSize int
	Log      log15.Logger
	StubRun  bool

	taskSN     int64
	procSN     int32
	errorShown int32

	pool chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}

	wg sync.WaitGroup
}

func New(poolSize int, log log15.Logger) *Session {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Session{
		UID:      guid.New(),
		PoolSize: poolSize,
		Log:      log,
		pool:     make(chan struct{}, poolSize),
		aborted:  make(chan struct{}),
	}
}

// NextTaskID allocates the next globally unique, monotone task id.
func (s *Session) NextTaskID() def.TaskID {
	return def.TaskID(atomic.AddInt64(&s.taskSN, 1))
}

// NextProcessID assigns process ids monotonically at parse time.
func (s *Session) NextProcessID() int {
	return int(atomic.AddInt32(&s.procSN, 1))
}

/*
	FirstError reports whether the caller won the right to print the full
	error banner.  Exactly one caller per session ever gets true; the
	rest print the short form, so a wide failure doesn't flood the log
	with fifty copies of the same diagnostic.
*/
func (s *Session) FirstError() bool {
	return atomic.CompareAndSwapInt32(&s.errorShown, 0, 1)
}

/*
	Spawn runs fn on the shared pool.  Blocks while the pool is saturated,
	which is exactly the backpressure the operator loop wants.  An aborted
	session drops the work instead and reports false so the caller can
	unwind whatever bookkeeping it did on the work's behalf.
*/
func (s *Session) Spawn(fn func()) bool {
	select {
	case <-s.aborted:
		return false
	default:
	}
	select {
	case s.pool <- struct{}{}:
	case <-s.aborted:
		return false
	}
	s.wg.Add(1)
	go func() {
		defer func() {
			<-s.pool
			s.wg.Done()
		}()
		fn()
	}()
	return true
}

/*
	Blocking brackets a section that waits on external work (a backend
	job, a long transfer): the caller's pool slot is given back for the
	duration so waiting tasks can't starve runnable ones.  Only call
	from inside a Spawn body.
*/
func (s *Session) Blocking(fn func()) {
	<-s.pool
	defer func() {
		s.pool <- struct{}{}
	}()
	fn()
}

// Abort is the hard cancel: no new submissions; in-flight tasks are the
// backend's to reap.
func (s *Session) Abort() {
	s.abortOnce.Do(func() {
		close(s.aborted)
	})
}

func (s *Session) Aborted() <-chan struct{} {
	return s.aborted
}

func (s *Session) IsAborted() bool {
	select {
	case <-s.aborted:
		return true
	default:
		return false
	}
}

// Register / Deregister bracket a processor's lifetime.
func (s *Session) Register()   { s.wg.Add(1) }
func (s *Session) Deregister() { s.wg.Done() }

// Wait blocks until every registered processor has deregistered and
// every spawned work body has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}
