package processor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"

	"go.rillflow.net/rill/cache/fscache"
	"go.rillflow.net/rill/core/session"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor/impl/mock"
	"go.rillflow.net/rill/fingerprint"
	"go.rillflow.net/rill/porter"
	"go.rillflow.net/rill/testutil"
)

func quietSession(uid string) *session.Session {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	sess := session.New(8, log)
	if uid != "" {
		sess.UID = uid
	}
	return sess
}

func rig(tmpDir string, proc *def.Process, sess *session.Session, decide func(*def.Task) mock.Outcome) (*Processor, *mock.Executor) {
	exec := mock.New(tmpDir)
	exec.Decide = decide
	p := New(proc, sess, exec,
		fscache.New(exec.WorkDirRoot(), sess.Log),
		porter.New(sess.Log, nil),
		fingerprint.NewLockTable(),
	)
	return p, exec
}

func feed(ch chan def.Value, values ...def.Value) {
	go func() {
		for _, v := range values {
			ch <- v
		}
		ch <- def.Poison
	}()
}

// drain reads an output channel until its poison, returning the values.
// The second return reports whether the channel was closed after poison.
func drain(ch chan def.Value) ([]def.Value, bool) {
	var got []def.Value
	for v := range ch {
		if v.IsPoison() {
			_, stillOpen := <-ch
			return got, !stillOpen
		}
		got = append(got, v)
	}
	return got, true
}

func nums(values []def.Value) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.Num
	}
	return out
}

func TestFairEmissionOrder(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Given tasks that finish out of order", t, func() {
			delays := map[float64]time.Duration{1: 300 * time.Millisecond, 2: 450 * time.Millisecond, 3: 0}
			decide := func(task *def.Task) mock.Outcome {
				return mock.Outcome{Delay: delays[task.Context["x"].Num]}
			}
			mkProc := func(fair bool) *def.Process {
				return &def.Process{
					ID: 1, Name: "p", Script: "whatever",
					Fair: fair, Cache: false, Resume: false, MaxErrors: -1,
					Inputs:  []def.InputParam{{Kind: def.InVal, Name: "x"}},
					Outputs: []def.OutputParam{{Kind: def.OutVal, Name: "x"}},
				}
			}

			Convey("A fair process should emit in tuple order", func() {
				p, _ := rig(tmpDir, mkProc(true), quietSession(""), decide)
				feed(p.In[0], def.NumV(1), def.NumV(2), def.NumV(3))
				p.Start()
				got, closed := drain(p.Out["x"])
				So(nums(got), ShouldResemble, []float64{1, 2, 3})
				So(closed, ShouldBeTrue)
			})

			Convey("An unfair process should emit in completion order", func() {
				p, _ := rig(tmpDir, mkProc(false), quietSession(""), decide)
				feed(p.In[0], def.NumV(1), def.NumV(2), def.NumV(3))
				p.Start()
				got, _ := drain(p.Out["x"])
				So(nums(got), ShouldResemble, []float64{3, 1, 2})
			})
		})
	})
}

func TestEachExpansion(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("An each input should cross-multiply the tuple stream", t, func() {
			proc := &def.Process{
				ID: 1, Name: "p", Script: "whatever",
				Fair: true, Cache: false, Resume: false, MaxErrors: -1,
				Inputs: []def.InputParam{
					{Kind: def.InVal, Name: "x", Index: 0},
					{Kind: def.InEach, Name: "y", Index: 1},
				},
				Outputs: []def.OutputParam{
					{Kind: def.OutVal, Name: "x", Index: 0},
					{Kind: def.OutVal, Name: "y", Index: 1},
				},
			}
			p, exec := rig(tmpDir, proc, quietSession(""), nil)
			feed(p.In[0], def.StringV("a"), def.StringV("b"), def.StringV("c"))
			feed(p.In[1], def.ListV(def.NumV(10), def.NumV(20)))
			p.Start()

			xs, _ := drain(p.Out["x"])
			ys, _ := drain(p.Out["y"])

			So(len(exec.Submitted()), ShouldEqual, 6)
			var pairs [][2]string
			for i := range xs {
				pairs = append(pairs, [2]string{xs[i].Stringify(), ys[i].Stringify()})
			}
			So(pairs, ShouldResemble, [][2]string{
				{"a", "10"}, {"a", "20"},
				{"b", "10"}, {"b", "20"},
				{"c", "10"}, {"c", "20"},
			})

			Convey("Task ids should be distinct", func() {
				ids := exec.Submitted()
				seen := make(map[def.TaskID]bool)
				for _, id := range ids {
					So(seen[id], ShouldBeFalse)
					seen[id] = true
				}
			})
		})
	})
}

func TestMaxForksCeiling(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("In-flight tasks should never exceed maxForks", t, func() {
			var inFlight, worst int32
			decide := func(task *def.Task) mock.Outcome {
				now := atomic.AddInt32(&inFlight, 1)
				for {
					seen := atomic.LoadInt32(&worst)
					if now <= seen || atomic.CompareAndSwapInt32(&worst, seen, now) {
						break
					}
				}
				time.AfterFunc(40*time.Millisecond, func() { atomic.AddInt32(&inFlight, -1) })
				return mock.Outcome{Delay: 50 * time.Millisecond}
			}
			proc := &def.Process{
				ID: 1, Name: "p", Script: "whatever",
				MaxForks: 2, Cache: false, Resume: false, MaxErrors: -1,
				Inputs:  []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{{Kind: def.OutVal, Name: "x"}},
			}
			p, exec := rig(tmpDir, proc, quietSession(""), decide)
			feed(p.In[0], def.NumV(1), def.NumV(2), def.NumV(3), def.NumV(4), def.NumV(5), def.NumV(6))
			p.Start()
			got, _ := drain(p.Out["x"])
			So(len(got), ShouldEqual, 6)
			So(len(exec.Submitted()), ShouldEqual, 6)
			So(atomic.LoadInt32(&worst), ShouldBeLessThanOrEqualTo, 2)
		})
	})
}

func TestCacheHitSkipsSubmission(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Given a completed prior run under the same session identity", t, func() {
			mkProc := func() *def.Process {
				return &def.Process{
					ID: 1, Name: "p", Script: "produce out.txt",
					Fair: true, Cache: true, Resume: true, MaxErrors: -1,
					Inputs: []def.InputParam{{Kind: def.InVal, Name: "a"}},
					Outputs: []def.OutputParam{
						{Kind: def.OutFile, Name: "out", FilePattern: "out.txt", Arity: def.ArityOne},
					},
				}
			}
			decide := func(task *def.Task) mock.Outcome {
				return mock.Outcome{Files: map[string]string{"out.txt": "payload"}}
			}

			p1, exec1 := rig(tmpDir, mkProc(), quietSession("sess-fixed"), decide)
			feed(p1.In[0], def.NumV(1))
			p1.Start()
			first, _ := drain(p1.Out["out"])
			So(len(first), ShouldEqual, 1)
			So(len(exec1.Submitted()), ShouldEqual, 1)

			Convey("A second run should resume from cache without submitting", func() {
				p2, exec2 := rig(tmpDir, mkProc(), quietSession("sess-fixed"), decide)
				feed(p2.In[0], def.NumV(1))
				p2.Start()
				second, closed := drain(p2.Out["out"])
				So(len(exec2.Submitted()), ShouldEqual, 0)
				So(len(second), ShouldEqual, 1)
				So(second[0].Str, ShouldEqual, first[0].Str)
				So(closed, ShouldBeTrue)
			})

			Convey("A different session identity should miss and re-run", func() {
				p3, exec3 := rig(tmpDir, mkProc(), quietSession("sess-other"), decide)
				feed(p3.In[0], def.NumV(1))
				p3.Start()
				third, _ := drain(p3.Out["out"])
				So(len(exec3.Submitted()), ShouldEqual, 1)
				So(len(third), ShouldEqual, 1)
			})
		})
	})
}

func TestRetryOnFailure(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("A retry-strategy process should resubmit with a fresh work dir", t, func() {
			var mu sync.Mutex
			workDirs := make(map[int][]string) // attempt → work dirs
			decide := func(task *def.Task) mock.Outcome {
				mu.Lock()
				workDirs[task.Attempt] = append(workDirs[task.Attempt], task.WorkDir)
				mu.Unlock()
				if task.Attempt == 1 {
					return mock.Outcome{ExitCode: 1}
				}
				return mock.Outcome{Files: map[string]string{"out.txt": "ok"}}
			}
			proc := &def.Process{
				ID: 1, Name: "p", Script: "flaky",
				Strategy: def.StrategyRetry, MaxRetries: 2, MaxErrors: -1,
				Cache: false, Resume: false,
				Inputs: []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{
					{Kind: def.OutFile, Name: "out", FilePattern: "out.txt", Arity: def.ArityOne},
				},
			}
			p, exec := rig(tmpDir, proc, quietSession(""), decide)
			feed(p.In[0], def.NumV(1))
			p.Start()
			got, _ := drain(p.Out["out"])

			So(len(got), ShouldEqual, 1)
			So(len(exec.Submitted()), ShouldEqual, 2)
			So(len(workDirs[1]), ShouldEqual, 1)
			So(len(workDirs[2]), ShouldEqual, 1)
			So(workDirs[1][0], ShouldNotEqual, workDirs[2][0])
		})
	})
}

func TestIgnoreStrategy(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Ignored failures should drop outputs and keep the stream moving", t, func() {
			decide := func(task *def.Task) mock.Outcome {
				if task.Context["x"].Num == 2 {
					return mock.Outcome{ExitCode: 1}
				}
				return mock.Outcome{}
			}
			proc := &def.Process{
				ID: 1, Name: "p", Script: "sometimes dies",
				Strategy: def.StrategyIgnore, Fair: true, MaxErrors: -1,
				Cache: false, Resume: false,
				Inputs:  []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{{Kind: def.OutVal, Name: "x"}},
			}
			p, _ := rig(tmpDir, proc, quietSession(""), decide)
			feed(p.In[0], def.NumV(1), def.NumV(2), def.NumV(3))
			p.Start()
			got, closed := drain(p.Out["x"])
			So(nums(got), ShouldResemble, []float64{1, 3})
			So(closed, ShouldBeTrue)
		})
	})
}

func TestWhenGuardSkips(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("A false guard should finalize the task as a no-op", t, func() {
			proc := &def.Process{
				ID: 1, Name: "p", Script: "whatever", When: "x > 1",
				Fair: true, Cache: false, Resume: false, MaxErrors: -1,
				Inputs: []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{
					{Kind: def.OutVal, Name: "x", Index: 0},
					{Kind: def.OutDefault, Name: "done", Index: 1},
				},
			}
			p, exec := rig(tmpDir, proc, quietSession(""), nil)
			feed(p.In[0], def.NumV(1), def.NumV(2))
			p.Start()

			xs, _ := drain(p.Out["x"])
			dones, _ := drain(p.Out["done"])

			So(len(exec.Submitted()), ShouldEqual, 1)
			So(nums(xs), ShouldResemble, []float64{2})
			// default outputs carry completion causality even for skips
			So(len(dones), ShouldEqual, 2)
		})
	})
}

func TestArrayBatching(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Tasks should batch to the backend in groups of K", t, func() {
			proc := &def.Process{
				ID: 1, Name: "p", Script: "whatever", Array: 2,
				Fair: true, Cache: false, Resume: false, MaxErrors: -1,
				Inputs:  []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{{Kind: def.OutVal, Name: "x"}},
			}
			p, exec := rig(tmpDir, proc, quietSession(""), nil)
			feed(p.In[0], def.NumV(1), def.NumV(2), def.NumV(3))
			p.Start()
			got, _ := drain(p.Out["x"])
			So(nums(got), ShouldResemble, []float64{1, 2, 3})
			// all three ran: two in the full batch, one in the close-time flush
			So(len(exec.Submitted()), ShouldEqual, 3)
		})
	})
}

func TestSubmitTimeoutRetries(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("A transient submit timeout should resubmit on its own counter", t, func() {
			var submitAttempts int32
			decide := func(task *def.Task) mock.Outcome {
				if atomic.AddInt32(&submitAttempts, 1) == 1 {
					return mock.Outcome{SubmitErr: def.SubmitTimeoutError.New("queue busy")}
				}
				return mock.Outcome{}
			}
			proc := &def.Process{
				ID: 1, Name: "p", Script: "whatever",
				Strategy: def.StrategyTerminate, MaxRetries: 2, MaxErrors: -1,
				Fair: true, Cache: false, Resume: false,
				Inputs:  []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{{Kind: def.OutVal, Name: "x"}},
			}
			sess := quietSession("")
			p, exec := rig(tmpDir, proc, sess, decide)
			feed(p.In[0], def.NumV(1))
			p.Start()
			got, _ := drain(p.Out["x"])
			So(nums(got), ShouldResemble, []float64{1})
			// first submission bounced before reaching the backend's ledger
			So(len(exec.Submitted()), ShouldEqual, 1)
			So(sess.IsAborted(), ShouldBeFalse)
		})
	})
}

func TestTerminateAbortsSession(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("A terminal fault should abort the session and report once", t, func() {
			decide := func(task *def.Task) mock.Outcome {
				return mock.Outcome{ExitCode: 127}
			}
			proc := &def.Process{
				ID: 1, Name: "p", Script: "dies",
				Strategy: def.StrategyTerminate, MaxErrors: -1,
				Cache: false, Resume: false,
				Inputs:  []def.InputParam{{Kind: def.InVal, Name: "x"}},
				Outputs: []def.OutputParam{{Kind: def.OutVal, Name: "x"}},
			}
			sess := quietSession("")
			var faults int32
			var mu sync.Mutex
			var report string
			p, _ := rig(tmpDir, proc, sess, decide)
			p.OnFault = func(f *TaskFault) {
				atomic.AddInt32(&faults, 1)
				mu.Lock()
				report = f.Report
				mu.Unlock()
			}
			feed(p.In[0], def.NumV(1))
			p.Start()

			deadline := time.Now().Add(5 * time.Second)
			for !sess.IsAborted() && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(sess.IsAborted(), ShouldBeTrue)
			So(atomic.LoadInt32(&faults), ShouldEqual, 1)
			mu.Lock()
			defer mu.Unlock()
			So(report, ShouldContainSubstring, "Command exit status")
			So(report, ShouldContainSubstring, "127")
		})
	})
}
