package mock

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.rillflow.net/rill/cache"
	"go.rillflow.net/rill/cache/fscache"
	"go.rillflow.net/rill/core/script"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/executor/basicjob"
)

/*
	Outcome scripts what the mock backend should do with one task.
	The zero Outcome is a clean instant success with no outputs.
*/
type Outcome struct {
	ExitCode  int
	Stdout    string
	Files     map[string]string // relative name → content, dropped in the work dir
	Env       string            // raw .command.env content
	Delay     time.Duration
	SubmitErr error // returned straight from Submit; the task never runs
}

/*
	Executor that *makes stuff up*, deterministically, as told.
	It writes real control files into real work dirs, so everything
	downstream of submission (collection, caching, fault rendering)
	exercises its actual code paths against it.
*/
type Executor struct {
	workRoot string
	stageDir string
	binDir   string

	// Decide is consulted per submission.  Nil means zero Outcome for all.
	Decide func(t *def.Task) Outcome

	mu        sync.Mutex
	submitted []def.TaskID
}

var _ executor.Executor = &Executor{}

func New(workRoot string) *Executor {
	return &Executor{
		workRoot: workRoot,
		stageDir: filepath.Join(workRoot, "stage"),
	}
}

func (x *Executor) Name() string        { return "mock" }
func (x *Executor) WorkDirRoot() string { return x.workRoot }
func (x *Executor) StageDir() string    { return x.stageDir }
func (x *Executor) BinDir() string      { return x.binDir }

func (x *Executor) IsForeignFile(path string) bool {
	u, err := url.Parse(path)
	return err == nil && len(u.Scheme) > 1
}

// Submitted reports every task id that made it past Submit, in order.
func (x *Executor) Submitted() []def.TaskID {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]def.TaskID(nil), x.submitted...)
}

func (x *Executor) Submit(t *def.Task) (executor.Job, error) {
	outcome := Outcome{}
	if x.Decide != nil {
		outcome = x.Decide(t)
	}
	if outcome.SubmitErr != nil {
		return nil, outcome.SubmitErr
	}
	x.mu.Lock()
	x.submitted = append(x.submitted, t.ID)
	x.mu.Unlock()

	job := basicjob.New()
	go func() {
		if outcome.Delay > 0 {
			time.Sleep(outcome.Delay)
		}
		x.fabricate(t, outcome)
		t.ExitStatus = outcome.ExitCode
		job.Finish(executor.Result{ExitCode: outcome.ExitCode})
	}()
	return job, nil
}

func (x *Executor) SubmitArray(ts []*def.Task) ([]executor.Job, error) {
	jobs := make([]executor.Job, 0, len(ts))
	for _, t := range ts {
		job, err := x.Submit(t)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (x *Executor) fabricate(t *def.Task, outcome Outcome) {
	write := func(name, content string) {
		os.WriteFile(filepath.Join(t.WorkDir, name), []byte(content), 0644)
	}
	write(script.StdoutFilename, outcome.Stdout)
	write(script.StderrFilename, "")
	write(script.ExitcodeFilename, fmt.Sprintf("%d\n", outcome.ExitCode))
	if outcome.Env != "" {
		write(script.EnvFilename, outcome.Env)
	}
	for name, content := range outcome.Files {
		path := filepath.Join(t.WorkDir, name)
		os.MkdirAll(filepath.Dir(path), 0755)
		os.WriteFile(path, []byte(content), 0644)
	}
	t.StdoutPath = filepath.Join(t.WorkDir, script.StdoutFilename)
	t.StderrPath = filepath.Join(t.WorkDir, script.StderrFilename)

	status := "COMPLETED"
	if outcome.ExitCode != 0 {
		status = "FAILED"
	}
	storedCtx := make(map[string]string, len(t.Context))
	for k, v := range t.Context {
		storedCtx[k] = v.Stringify()
	}
	now := time.Now().UnixMilli()
	fscache.WriteTrace(t.WorkDir, cache.TraceRecord{
		Status:      status,
		ExitCode:    outcome.ExitCode,
		WorkDir:     t.WorkDir,
		StartedAt:   now,
		CompletedAt: now,
		Context:     storedCtx,
	})
}
