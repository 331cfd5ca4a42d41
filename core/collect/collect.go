/*
	collect gathers what a finished task produced: its stdout, the env
	and cmd-eval captures its wrapper recorded, the files its declared
	output patterns match in the work dir, and the values its lazy
	output expressions resolve to.

	Collection is where most process failures surface — an output that
	never appeared, an arity that doesn't hold, a capture that closed
	with a nonzero exit — so what is raised here wears def.ProcessFailure
	or one of its subclasses for the strategy engine to judge.  An output
	of unknown kind raises def.Unrecoverable instead.
*/
package collect

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/inconshreveable/log15"

	"go.rillflow.net/rill/core/resolve"
	"go.rillflow.net/rill/core/script"
	"go.rillflow.net/rill/def"
)

type Collector struct {
	Log log15.Logger
}

/*
	Collect traverses the process's declared outputs and binds each into
	task.Outputs.  On return without error the task is ready-to-bind.
*/
func (c Collector) Collect(t *def.Task, proc *def.Process) error {
	captures, err := c.loadCaptures(t, proc)
	if err != nil {
		return err
	}
	for _, p := range proc.Outputs {
		if err := c.collectOne(t, proc, p, captures); err != nil {
			return err
		}
	}
	return nil
}

func (c Collector) collectOne(t *def.Task, proc *def.Process, p def.OutputParam, captures map[string]Capture) error {
	switch p.Kind {
	case def.OutStdout:
		return c.collectStdout(t, p)
	case def.OutFile:
		return c.collectFiles(t, p)
	case def.OutEnv:
		capture, found := captures[p.Name]
		if !found {
			if p.Optional {
				t.Outputs[p.Name] = def.MissingOutput
				return nil
			}
			return def.MissingOutputError.New("environment capture %q never recorded", p.Name)
		}
		t.Outputs[p.Name] = def.StringV(capture.Value)
		return nil
	case def.OutEval:
		capture, found := captures[p.Name]
		if !found {
			if p.Optional {
				t.Outputs[p.Name] = def.MissingOutput
				return nil
			}
			return def.MissingOutputError.New("command capture %q never recorded", p.Name)
		}
		if capture.HasExit && capture.Exit != 0 {
			return def.CommandEvalError.New("output command %q failed with exit %d; captured: %q",
				p.EvalCommand, capture.Exit, capture.Value)
		}
		t.Outputs[p.Name] = def.StringV(capture.Value)
		return nil
	case def.OutVal:
		if p.Expr == "" {
			v, bound := t.Context[p.Name]
			if !bound {
				return def.MissingOutputError.New("no variable %q in task scope for value output", p.Name)
			}
			t.Outputs[p.Name] = v
			return nil
		}
		result, err := resolve.Eval(p.Expr, t.Context)
		if err != nil {
			return def.ProcessFailureError.New("value output %q: %s", p.Name, err)
		}
		t.Outputs[p.Name] = def.Lift(result)
		return nil
	case def.OutDefault:
		// The "it completed" sentinel; carries no data, only causality.
		t.Outputs[p.Name] = def.BoolV(true)
		return nil
	case def.OutTuple:
		elems := make([]def.Value, len(p.Nested))
		for i, nested := range p.Nested {
			if err := c.collectOne(t, proc, nested, captures); err != nil {
				return err
			}
			elems[i] = t.Outputs[nested.Name]
		}
		t.Outputs[p.Name] = def.ListV(elems...)
		return nil
	default:
		return def.UnrecoverableError.New("output %q has unknown kind", p.Name)
	}
}

func (c Collector) collectStdout(t *def.Task, p def.OutputParam) error {
	path := t.StdoutPath
	if path == "" {
		path = filepath.Join(t.WorkDir, script.StdoutFilename)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if p.Optional {
			t.Outputs[p.Name] = def.MissingOutput
			return nil
		}
		return def.MissingOutputError.New("stdout of task was declared an output but is missing: %s", err)
	}
	t.Outputs[p.Name] = def.StringV(strings.TrimRight(string(content), "\n"))
	return nil
}

func (c Collector) collectFiles(t *def.Task, p def.OutputParam) error {
	pattern := p.FilePattern
	if strings.Contains(pattern, "${") {
		resolved, err := resolve.Interpolate(pattern, t.Context)
		if err != nil {
			return err
		}
		pattern = resolved
	}

	var matches []string
	inputsRemoved := false
	if p.Glob || HasGlobMeta(pattern) {
		typ := p.Type
		if typ == def.PathAny && strings.Contains(pattern, "**") {
			typ = def.PathFile
		}
		found, err := walkGlob(t.WorkDir, pattern, walkOpts{
			hidden:      p.Hidden || strings.HasPrefix(pattern, "."),
			followLinks: p.FollowLinks,
			maxDepth:    p.MaxDepth,
			typ:         typ,
		})
		if err != nil {
			return def.ProcessFailureError.New("walking output pattern %q: %s", pattern, err)
		}
		matches = found
	} else {
		path := filepath.Join(t.WorkDir, pattern)
		var statErr error
		if p.FollowLinks {
			_, statErr = os.Stat(path)
		} else {
			_, statErr = os.Lstat(path)
		}
		if statErr == nil {
			matches = []string{path}
		}
	}

	if !p.IncludeInputs {
		kept := matches[:0]
		for _, m := range matches {
			rel, _ := filepath.Rel(t.WorkDir, m)
			if c.isStagedInput(t, rel) {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 && len(matches) > 0 {
			inputsRemoved = true
		}
		matches = kept
	}

	if len(matches) == 0 {
		if p.Optional {
			t.Outputs[p.Name] = def.MissingOutput
			return nil
		}
		hint := ""
		if inputsRemoved {
			hint = " (matches existed but were all staged inputs; declare `includeInputs` if that's intended)"
		}
		return def.MissingOutputError.New("output %q matched no files for pattern %q%s", p.Name, pattern, hint)
	}
	if !p.Arity.Admits(len(matches)) {
		return def.ArityError.New("output %q matched %d files, arity requires [%d,%d]",
			p.Name, len(matches), p.Arity.Min, p.Arity.Max)
	}

	if len(matches) == 1 && p.Arity.Max <= 1 && p.Arity.Max >= 0 {
		t.Outputs[p.Name] = def.PathV(matches[0])
		return nil
	}
	vs := make([]def.Value, len(matches))
	for i, m := range matches {
		vs[i] = def.PathV(m)
	}
	t.Outputs[p.Name] = def.ListV(vs...)
	return nil
}

func (c Collector) isStagedInput(t *def.Task, relName string) bool {
	for _, h := range t.Holders {
		if h.StageName == relName {
			return true
		}
	}
	return false
}

func (c Collector) loadCaptures(t *def.Task, proc *def.Process) (map[string]Capture, error) {
	if !wantsCaptures(proc.Outputs) {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(t.WorkDir, script.EnvFilename))
	if err != nil {
		if os.IsNotExist(err) {
			// Individual parameters decide whether that's fatal.
			return map[string]Capture{}, nil
		}
		return nil, def.ProcessFailureError.New("reading env captures: %s", err)
	}
	defer f.Close()
	captures, err := ParseEnvFile(f)
	if err != nil {
		return nil, def.ProcessFailureError.New("parsing env captures: %s", err)
	}
	return captures, nil
}

func wantsCaptures(outputs []def.OutputParam) bool {
	for _, p := range outputs {
		switch p.Kind {
		case def.OutEnv, def.OutEval:
			return true
		case def.OutTuple:
			if wantsCaptures(p.Nested) {
				return true
			}
		}
	}
	return false
}
