package local

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/polydawn/gosh"
	"github.com/spacemonkeygo/errors/try"

	"go.rillflow.net/rill/cache"
	"go.rillflow.net/rill/cache/fscache"
	"go.rillflow.net/rill/core/script"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/executor/basicjob"
)

/*
	Executor running tasks as plain child processes on this host.

	The work dir is the task's cwd; `.command.sh` is already in place by
	the time Submit is called, so the whole job here is: wire streams,
	exec, record the exit, leave a trace record for future resumes.
*/
type Executor struct {
	name     string
	workRoot string
	stageDir string
	binDir   string
	env      map[string]string // base env from configuration
	log      log15.Logger
}

var _ executor.Executor = &Executor{}

func New(workRoot string, stageDir string, binDir string, env map[string]string, log log15.Logger) *Executor {
	return &Executor{
		name:     "local",
		workRoot: workRoot,
		stageDir: stageDir,
		binDir:   binDir,
		env:      env,
		log:      log,
	}
}

func (x *Executor) Name() string        { return x.name }
func (x *Executor) WorkDirRoot() string { return x.workRoot }
func (x *Executor) StageDir() string    { return x.stageDir }
func (x *Executor) BinDir() string      { return x.binDir }

/*
	Local execution can read anything that's mounted; only URI-schemed
	sources count as foreign.
*/
func (x *Executor) IsForeignFile(path string) bool {
	u, err := url.Parse(path)
	return err == nil && len(u.Scheme) > 1
}

func (x *Executor) Submit(t *def.Task) (executor.Job, error) {
	job := basicjob.New()
	log := x.log.New("task", t.ID, "attempt", t.Attempt)

	var binDirs []string
	if x.binDir != "" {
		binDirs = append(binDirs, x.binDir)
	}
	env := script.BuildEnv(x.env, true, binDirs, log)
	resolvePathVar(env)
	// env-kind inputs ride on the task and win over configured values
	for name, value := range t.Env {
		env[name] = value
	}

	go func() {
		started := time.Now()
		exitCode, err := x.runTask(t, env, log)
		t.ExitStatus = exitCode
		writeTrace(t, exitCode, started, log)
		job.Finish(executor.Result{ExitCode: exitCode, Err: err})
	}()
	return job, nil
}

func (x *Executor) SubmitArray(ts []*def.Task) ([]executor.Job, error) {
	// No scheduler-level array jobs on a bare host; a loop is the array.
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

func (x *Executor) runTask(t *def.Task, env map[string]string, log log15.Logger) (exitCode int, err error) {
	outFile, err := os.Create(filepath.Join(t.WorkDir, script.StdoutFilename))
	if err != nil {
		return -1, executor.TaskExecError.Wrap(err)
	}
	defer outFile.Close()
	errFile, err := os.Create(filepath.Join(t.WorkDir, script.StderrFilename))
	if err != nil {
		return -1, executor.TaskExecError.Wrap(err)
	}
	defer errFile.Close()
	t.StdoutPath = outFile.Name()
	t.StderrPath = errFile.Name()

	var stdin io.Reader
	if t.StdinPath != "" {
		f, err2 := os.Open(t.StdinPath)
		if err2 != nil {
			return -1, executor.TaskExecError.Wrap(err2)
		}
		defer f.Close()
		stdin = f
	}

	log.Info("task starting", "workDir", t.WorkDir)
	// launch execution.
	// transform gosh's typed errors to our hierarchical errors.
	exitCode = -1
	try.Do(func() {
		p := gosh.Gosh(
			"./"+script.ScriptFilename,
			gosh.Opts{
				Cwd:    t.WorkDir,
				Env:    env,
				In:     stdin,
				Out:    outFile,
				Err:    errFile,
				OkExit: gosh.AnyExit,
			},
		).Run()
		exitCode = p.GetExitCode()
	}).CatchAll(func(caught error) {
		switch caught.(type) {
		case gosh.NoSuchCommandError:
			err = executor.NoSuchCommandError.Wrap(caught)
		case gosh.NoSuchCwdError:
			err = executor.TaskExecError.Wrap(caught)
		case gosh.ProcMonitorError:
			err = executor.TaskExecError.Wrap(caught)
		default:
			err = executor.UnknownError.Wrap(caught)
		}
	}).Done()
	if err != nil {
		// leave a witness in the wrapper log; fault reports tail it when
		// stderr is empty.
		writeFile(t.WorkDir, script.WrapperFilename, "launch failed: "+err.Error()+"\n", log)
		return -1, err
	}

	log.Info("task finished", "exit", exitCode)
	writeFile(t.WorkDir, script.ExitcodeFilename, fmt.Sprintf("%d\n", exitCode), log)
	return exitCode, nil
}

func writeTrace(t *def.Task, exitCode int, started time.Time, log log15.Logger) {
	status := "COMPLETED"
	if exitCode != 0 {
		status = "FAILED"
	}
	storedCtx := make(map[string]string, len(t.Context))
	for k, v := range t.Context {
		storedCtx[k] = v.Stringify()
	}
	tr := cache.TraceRecord{
		Status:      status,
		ExitCode:    exitCode,
		WorkDir:     t.WorkDir,
		StartedAt:   started.UnixMilli(),
		CompletedAt: time.Now().UnixMilli(),
		Context:     storedCtx,
	}
	if err := fscache.WriteTrace(t.WorkDir, tr); err != nil {
		log.Warn("saving trace record failed", "err", err)
	}
}

func writeFile(dir string, name string, content string, log log15.Logger) {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		log.Warn("writing control file failed", "file", name, "err", err)
	}
}

/*
	BuildEnv leaves a literal `$PATH` prefix for configs that defer to the
	runtime path; a direct exec has no shell in front of it to expand
	that, so resolve it here.
*/
func resolvePathVar(env map[string]string) {
	path, set := env["PATH"]
	if !set {
		env["PATH"] = os.Getenv("PATH")
		return
	}
	if strings.HasPrefix(path, "$PATH") {
		env["PATH"] = os.Getenv("PATH") + strings.TrimPrefix(path, "$PATH")
	}
}
