package def

import (
	"encoding/hex"
	"math"
)

/*
	Fingerprint is the content hash naming a task's work.  256 bits of
	sha256 over the canonical encoding of the task's identity keys.
*/
type Fingerprint [32]byte

func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint was never computed.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

type TaskID int64

// ExitUnset is the exit-status sentinel for tasks that never ran.
const ExitUnset = math.MaxInt32

/*
	Context is the name→value map a task's lazy pieces resolve against:
	directive expressions, the `when:` guard, value outputs, and staging
	name templates all read it.  Staging writes it and materialization
	then adds `task_attempt`; everything after only reads it.
*/
type Context map[string]Value

func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

/*
	Task records one materialization of a process for one input tuple.
	Everything the executor, collector, and fault reporter need to know
	about the run hangs off here.
*/
type Task struct {
	ID        TaskID
	ProcessID int
	Name      string // display name: the process name

	Attempt       int   // 1-based; bumped by retry
	SubmitAttempt int   // bumped together with Attempt by every retry clone
	TupleIndex    int64 // monotone per process

	Inputs  map[string]Value // param name → decoded value
	Context Context

	ResolvedCommand string
	WorkDir         string
	Fingerprint     Fingerprint

	ExitStatus int // ExitUnset until the backend reports
	StdinPath  string
	StdoutPath string
	StderrPath string

	Failed bool
	Cached bool
	Action ErrorAction

	Outputs  map[string]Value
	StageMap map[string]string // logical name → staged name
	Holders  []*FileHolder     // every staged input file, in staging order
	Env      map[string]string // env-kind inputs, exported to the command
}

func NewTask(id TaskID, proc *Process, tupleIndex int64) *Task {
	return &Task{
		ID:         id,
		ProcessID:  proc.ID,
		Name:       proc.Name,
		Attempt:    1,
		TupleIndex: tupleIndex,
		Inputs:     make(map[string]Value),
		Context:    make(Context),
		ExitStatus: ExitUnset,
		Outputs:    make(map[string]Value),
		StageMap:   make(map[string]string),
		Env:        make(map[string]string),
	}
}

/*
	CloneForRetry produces the task for the next attempt: same tuple, same
	inputs, fresh mutable state, bumped attempt counters.  The command is
	re-resolved by the materializer since directives may read the attempt.
*/
func (t *Task) CloneForRetry() *Task {
	t2 := *t
	t2.Attempt = t.Attempt + 1
	t2.SubmitAttempt = t.SubmitAttempt + 1
	t2.Context = t.Context.Clone()
	t2.ResolvedCommand = ""
	t2.WorkDir = ""
	t2.ExitStatus = ExitUnset
	t2.StdinPath = ""
	t2.StdoutPath = ""
	t2.StderrPath = ""
	t2.Failed = false
	t2.Cached = false
	t2.Action = ActionNone
	t2.Outputs = make(map[string]Value)
	t2.StageMap = make(map[string]string)
	t2.Holders = nil
	t2.Env = make(map[string]string)
	return &t2
}
