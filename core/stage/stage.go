/*
	stage turns the raw values bound to a task's input parameters into
	files the command can see.

	Staging runs in two passes so that lazy staging-name templates can
	reference values bound earlier: pass 1 writes every non-file value
	into the task context; pass 2 walks the deferred file parameters,
	normalizes each bound value into file holders, expands staging-name
	wildcards, checks arity, detects name collisions, and registers
	foreign sources for prefetch.  The foreign batch transfers — all of
	it, blocking — before staging returns.
*/
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inconshreveable/log15"

	"go.rillflow.net/rill/core/resolve"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/porter"
)

type Stager struct {
	Exec   executor.Executor
	Porter *porter.Porter
	Log    log15.Logger
}

type deferred struct {
	param def.InputParam
	value def.Value
}

func (s Stager) StageInputs(t *def.Task, proc *def.Process) error {
	// Pass 1: everything that isn't a file lands in the context now, so
	// pass 2's name templates can read it.
	var files []deferred
	for _, p := range proc.Inputs {
		v, bound := t.Inputs[p.Name]
		if !bound {
			return def.UnrecoverableError.New("input %q received no value", p.Name)
		}
		df, err := s.passOne(t, p, v)
		if err != nil {
			return err
		}
		files = append(files, df...)
	}

	// Pass 2: stage the files.
	batch := s.Porter.NewBatch(s.Exec.StageDir())
	scratchN := 0
	for _, df := range files {
		if err := s.passTwo(t, df.param, df.value, batch, &scratchN); err != nil {
			return err
		}
	}

	if err := s.checkCollisions(t); err != nil {
		return err
	}

	// Prefetch everything foreign before the task can be considered ready.
	if batch.Size() > 0 {
		s.Log.Debug("transferring foreign inputs", "count", batch.Size())
		if err := s.Porter.Transfer(batch); err != nil {
			return err
		}
	}
	return nil
}

func (s Stager) passOne(t *def.Task, p def.InputParam, v def.Value) ([]deferred, error) {
	switch p.Kind {
	case def.InVal, def.InEach:
		t.Context[p.Name] = v
		return nil, nil
	case def.InEnv:
		t.Context[p.Name] = v
		t.Env[p.Name] = v.Stringify()
		return nil, nil
	case def.InFile, def.InStdin:
		return []deferred{{param: p, value: v}}, nil
	case def.InTuple:
		if v.Kind != def.KindList || len(v.List) != len(p.Nested) {
			return nil, def.UnrecoverableError.New("input %q expects a %d-tuple", p.Name, len(p.Nested))
		}
		var out []deferred
		for i, nested := range p.Nested {
			df, err := s.passOne(t, nested, v.List[i])
			if err != nil {
				return nil, err
			}
			out = append(out, df...)
		}
		return out, nil
	default:
		return nil, def.UnrecoverableError.New("input %q has unknown kind", p.Name)
	}
}

func (s Stager) passTwo(t *def.Task, p def.InputParam, v def.Value, batch *porter.Batch, scratchN *int) error {
	if p.Kind == def.InStdin {
		// the bound value still joins the context (and so the
		// fingerprint), even though it reaches the command as a stream.
		t.Context[p.Name] = v
		return s.stageStdin(t, v, scratchN)
	}

	pattern := p.FilePattern
	if strings.Contains(pattern, "${") {
		resolved, err := resolve.Interpolate(pattern, t.Context)
		if err != nil {
			return err
		}
		pattern = resolved
	}

	collection := v.List
	if v.Kind != def.KindList {
		collection = []def.Value{v}
	}
	if p.Single && len(collection) > 1 {
		collection = collection[:1]
	}
	if !p.Arity.Admits(len(collection)) {
		return def.ArityError.New("input %q bound %d files, arity requires [%d,%s]",
			p.Name, len(collection), p.Arity.Min, arityMaxString(p.Arity))
	}

	holders := make([]*def.FileHolder, len(collection))
	for i, elem := range collection {
		holder, err := s.makeHolder(t, elem, batch, scratchN)
		if err != nil {
			return err
		}
		holder.StageName = ExpandName(pattern, baseNameOf(holder), i+1, len(collection))
		holders[i] = holder
		t.Holders = append(t.Holders, holder)
		t.StageMap[holder.Source] = holder.StageName
	}

	if len(holders) == 1 {
		t.Context[p.Name] = def.FileV(holders[0])
	} else {
		vs := make([]def.Value, len(holders))
		for i, h := range holders {
			vs[i] = def.FileV(h)
		}
		t.Context[p.Name] = def.ListV(vs...)
	}
	return nil
}

func (s Stager) makeHolder(t *def.Task, elem def.Value, batch *porter.Batch, scratchN *int) (*def.FileHolder, error) {
	switch elem.Kind {
	case def.KindFile:
		// Already a holder (an upstream file output); re-home it here.
		return &def.FileHolder{
			Source: elem.File.Source,
			Staged: elem.File.Staged,
			Origin: elem.File.Origin,
		}, nil
	case def.KindPath:
		if elem.Str == "" {
			return nil, def.UnrecoverableError.New("nil path bound to file input")
		}
		if s.Exec.IsForeignFile(elem.Str) {
			// The holder gets the *target* path, so everything downstream
			// only ever sees local files.
			return &def.FileHolder{
				Source: elem.Str,
				Staged: batch.AddToForeign(elem.Str),
				Origin: def.OriginForeign,
			}, nil
		}
		abs, err := filepath.Abs(elem.Str)
		if err != nil {
			return nil, def.UnrecoverableError.New("illegal path %q: %s", elem.Str, err)
		}
		return &def.FileHolder{
			Source: elem.Str,
			Staged: abs,
			Origin: def.OriginLocal,
		}, nil
	case def.KindString, def.KindNum, def.KindBool:
		// A literal: spill it to a synthetic file.  The holder keeps the
		// literal as its source so fingerprints see content, not the
		// random spill path.
		literal := elem.Stringify()
		path, err := s.spillLiteral(t, literal, scratchN)
		if err != nil {
			return nil, err
		}
		return &def.FileHolder{
			Source: literal,
			Staged: path,
			Origin: def.OriginSynthetic,
		}, nil
	default:
		return nil, def.UnrecoverableError.New("cannot stage a %v-kind value as a file input", elem.Kind)
	}
}

func (s Stager) stageStdin(t *def.Task, v def.Value, scratchN *int) error {
	switch v.Kind {
	case def.KindPath:
		t.StdinPath = v.Str
	case def.KindFile:
		t.StdinPath = v.File.Staged
	default:
		path, err := s.spillLiteral(t, v.Stringify(), scratchN)
		if err != nil {
			return err
		}
		t.StdinPath = path
	}
	return nil
}

func (s Stager) spillLiteral(t *def.Task, literal string, scratchN *int) (string, error) {
	*scratchN++
	scratch := filepath.Join(s.Exec.StageDir(), "scratch",
		fmt.Sprintf("%d-%d", t.ID, t.Attempt))
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", def.UnrecoverableError.New("cannot create scratch dir: %s", err)
	}
	path := filepath.Join(scratch, fmt.Sprintf("input.%d", *scratchN))
	if err := os.WriteFile(path, []byte(literal), 0644); err != nil {
		return "", def.UnrecoverableError.New("cannot write synthetic input: %s", err)
	}
	return path, nil
}

func (s Stager) checkCollisions(t *def.Task) error {
	seen := make(map[string]int)
	for _, h := range t.Holders {
		seen[h.StageName]++
	}
	var collided []string
	for name, n := range seen {
		if n > 1 {
			collided = append(collided, name)
		}
	}
	if len(collided) > 0 {
		sort.Strings(collided)
		return def.StageCollisionError.New("input files collide on staged name(s): %s",
			strings.Join(collided, ", "))
	}
	return nil
}

/*
	LinkIntoWorkDir materializes the staged inputs inside a freshly
	created work dir.  Symlinks, not copies; the staged sources are
	read-only as far as tasks are concerned.
*/
func LinkIntoWorkDir(t *def.Task, workDir string) error {
	for _, h := range t.Holders {
		target := filepath.Join(workDir, h.StageName)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.Symlink(h.Staged, target); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

func baseNameOf(h *def.FileHolder) string {
	if h.Origin == def.OriginSynthetic {
		return filepath.Base(h.Staged)
	}
	return filepath.Base(h.Source)
}

func arityMaxString(a def.Arity) string {
	if a.Max < 0 {
		return "inf"
	}
	return fmt.Sprintf("%d", a.Max)
}
