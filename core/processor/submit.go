package processor

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.rillflow.net/rill/cache"
	"go.rillflow.net/rill/core/collect"
	"go.rillflow.net/rill/core/resolve"
	"go.rillflow.net/rill/core/script"
	"go.rillflow.net/rill/core/stage"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/fingerprint"
)

/*
	submitOrResume is the cache/work-dir coordination loop.

	Starting from the task's base fingerprint, each attempt index is
	folded in and tried in order: a completed, verifiable cache entry
	short-circuits to reuse; otherwise the work dir is created under the
	fingerprint lock and the task goes to the backend.  A work dir that
	already exists without a usable entry means some concurrent
	materialization claimed it — move to the next attempt index rather
	than fight over the directory.

	Returns the job promise for a fresh submission, or nil when the task
	was satisfied from cache or store (in which case its outputs are
	already collected).
*/
func (p *Processor) submitOrResume(t *def.Task, allowCache bool) (executor.Job, error) {
	if p.Proc.StoreDir != "" {
		satisfied, err := p.checkStoredOutput(t)
		if err != nil {
			return nil, err
		}
		if satisfied {
			p.log.Info("task satisfied from store dir", "task", t.ID, "storeDir", p.Proc.StoreDir)
			t.Cached = true
			return nil, nil
		}
	}

	base := p.baseFingerprint(t)
	attempts := t.Attempt // fail count + 1

	for {
		h := fingerprint.Rehash(base, attempts)
		t.Fingerprint = h

		if allowCache && p.Proc.Cache && p.Proc.Resume {
			hit, err := p.tryCachedOutput(t, h)
			if err != nil {
				return nil, err
			}
			if hit {
				t.Cached = true
				return nil, nil
			}
		}

		workDir := cache.DeriveWorkDir(p.Exec.WorkDirRoot(), h)
		created := false
		var mkdirErr error
		p.Locker.WithLock(h, func() {
			if _, err := os.Stat(workDir); err == nil {
				// claimed by a concurrent materialization; retry at the
				// next attempt index.
				return
			}
			if err := os.MkdirAll(workDir, 0755); err != nil {
				mkdirErr = def.UnrecoverableError.New("cannot create work dir %q: %s", workDir, err)
				return
			}
			created = true
		})
		if mkdirErr != nil {
			return nil, mkdirErr
		}
		if !created {
			attempts++
			continue
		}

		t.WorkDir = workDir
		if err := stage.LinkIntoWorkDir(t, workDir); err != nil {
			return nil, def.UnrecoverableError.New("staging inputs into work dir: %s", err)
		}
		if err := p.writeScript(t); err != nil {
			return nil, err
		}

		if p.arr != nil && t.Attempt == 1 {
			return p.arr.Add(t), nil
		}
		job, err := p.Exec.Submit(t)
		if err != nil {
			return nil, err
		}
		return job, nil
	}
}

func (p *Processor) writeScript(t *def.Task) error {
	body := script.Assemble(t.ResolvedCommand, p.Proc.Shell)
	body += captureEpilogue(p.Proc.Outputs)
	path := filepath.Join(t.WorkDir, script.ScriptFilename)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		return def.UnrecoverableError.New("cannot write command script: %s", err)
	}
	return nil
}

/*
	captureEpilogue appends the shell lines that record env and cmd-eval
	outputs into `.command.env`, in the capture format the collector's
	parser reads back.
*/
func captureEpilogue(outputs []def.OutputParam) string {
	var b strings.Builder
	var emit func(ps []def.OutputParam)
	emit = func(ps []def.OutputParam) {
		for _, out := range ps {
			switch out.Kind {
			case def.OutEnv:
				b.WriteString("printf '%s=%s\\n' '" + out.Name + "' \"$" + out.Name + "\" >> " + script.EnvFilename + "\n")
				b.WriteString("printf '/%s/\\n' '" + out.Name + "' >> " + script.EnvFilename + "\n")
			case def.OutEval:
				b.WriteString("__rill_cap=$(" + out.EvalCommand + ")\n")
				b.WriteString("__rill_st=$?\n")
				b.WriteString("printf '%s=%s\\n' '" + out.Name + "' \"$__rill_cap\" >> " + script.EnvFilename + "\n")
				b.WriteString("printf '/%s/=exit:%s\\n' '" + out.Name + "' \"$__rill_st\" >> " + script.EnvFilename + "\n")
			case def.OutTuple:
				emit(out.Nested)
			}
		}
	}
	emit(outputs)
	if b.Len() == 0 {
		return ""
	}
	// The captures must not clobber the body's exit status.
	return "\n# output captures\n__rill_main_exit=$?\n" + b.String() + "exit $__rill_main_exit\n"
}

/*
	tryCachedOutput checks one fingerprint against the cache.  To count
	as a hit the entry must be completed, its work dir must still exist,
	the recorded exit must parse as success, the stored context must be
	present if lazy value outputs need it, and every declared output must
	collect cleanly from the old dir.  Anything short of that is a miss;
	the task falls through to fresh submission.
*/
func (p *Processor) tryCachedOutput(t *def.Task, h def.Fingerprint) (bool, error) {
	entry, err := p.Cache.Lookup(h, p.Proc)
	if err != nil {
		return false, err
	}
	if entry == nil || !entry.Trace.IsCompleted() {
		return false, nil
	}
	workDir := entry.Trace.WorkDir
	if workDir == "" {
		return false, nil
	}
	if _, err := os.Stat(workDir); err != nil {
		return false, nil
	}

	exitRaw, err := os.ReadFile(filepath.Join(workDir, script.ExitcodeFilename))
	if err != nil {
		return false, nil
	}
	exitCode, err := strconv.Atoi(strings.TrimSpace(string(exitRaw)))
	if err != nil || exitCode != 0 {
		return false, nil
	}

	if wantsStoredContext(p.Proc.Outputs) && entry.Context == nil {
		return false, nil
	}

	// Inherit and verify: collect against the old dir with a scratch
	// copy of the task state, so a failed verification leaves no residue.
	probe := *t
	probe.WorkDir = workDir
	probe.ExitStatus = exitCode
	probe.StdoutPath = filepath.Join(workDir, script.StdoutFilename)
	probe.StderrPath = filepath.Join(workDir, script.StderrFilename)
	probe.Context = t.Context.Clone()
	for k, v := range entry.Context {
		if _, bound := probe.Context[k]; !bound {
			probe.Context[k] = def.StringV(v)
		}
	}
	probe.Outputs = make(map[string]def.Value)

	collector := collect.Collector{Log: p.log}
	if err := collector.Collect(&probe, p.Proc); err != nil {
		p.log.Debug("cache entry failed output verification; re-running",
			"task", t.ID, "workDir", workDir, "err", err)
		return false, nil
	}

	t.WorkDir = probe.WorkDir
	t.ExitStatus = probe.ExitStatus
	t.StdoutPath = probe.StdoutPath
	t.StderrPath = probe.StderrPath
	t.Context = probe.Context
	t.Outputs = probe.Outputs
	return true, nil
}

/*
	checkStoredOutput is the storeDir short-circuit: when the process
	declares a persistent store and every declared file output is already
	present there, the task skips entirely — no work dir at all.

	Processes with non-file outputs can't be satisfied this way; the
	check declines rather than half-binding.
*/
func (p *Processor) checkStoredOutput(t *def.Task) (bool, error) {
	if _, err := os.Stat(p.Proc.StoreDir); err != nil {
		return false, nil
	}
	for _, out := range p.Proc.Outputs {
		if out.Kind != def.OutFile && out.Kind != def.OutDefault {
			return false, nil
		}
	}
	probe := *t
	probe.WorkDir = p.Proc.StoreDir
	probe.Outputs = make(map[string]def.Value)
	collector := collect.Collector{Log: p.log}
	if err := collector.Collect(&probe, p.Proc); err != nil {
		return false, nil
	}
	t.WorkDir = probe.WorkDir
	t.Outputs = probe.Outputs
	return true, nil
}

func wantsStoredContext(outputs []def.OutputParam) bool {
	for _, out := range outputs {
		if out.Kind == def.OutVal && out.Expr != "" {
			return true
		}
		if out.Kind == def.OutTuple && wantsStoredContext(out.Nested) {
			return true
		}
	}
	return false
}

/*
	baseFingerprint assembles the ordered identity key list for a task:
	session, process, command source, bound inputs (file sets as bags),
	captured globals, bin scripts the command invokes by name, and the
	configured execution environment.
*/
func (p *Processor) baseFingerprint(t *def.Task) def.Fingerprint {
	proc := p.Proc
	keys := []fingerprint.Key{
		{Name: "session", Value: def.StringV(p.Sess.UID)},
		{Name: "process", Value: def.StringV(proc.Name)},
		{Name: "source", Value: def.StringV(proc.Script)},
	}
	if proc.Container != "" {
		keys = append(keys, fingerprint.Key{Name: "container", Value: def.StringV(proc.Container)})
	}

	// every (input name, input value) pair, in declaration order
	for _, in := range proc.Inputs {
		v := t.Context[in.Name]
		bag := v.Kind == def.KindList && in.Kind == def.InFile
		keys = append(keys, fingerprint.Key{Name: "in:" + in.Name, Value: v, Bag: bag})
	}

	// referenced globals that aren't inputs
	inputNames := make(map[string]bool, len(proc.Inputs))
	for _, in := range proc.Inputs {
		inputNames[in.Name] = true
	}
	for _, name := range resolve.Captures(proc.Script) {
		if inputNames[name] {
			continue
		}
		if v, bound := t.Context[name]; bound {
			keys = append(keys, fingerprint.Key{Name: "var:" + name, Value: v})
		}
	}

	// project bin scripts invoked by name
	for _, bin := range p.referencedBinScripts(t) {
		keys = append(keys, fingerprint.Key{Name: "bin:" + filepath.Base(bin), Value: def.FileV(&def.FileHolder{
			Source:    bin,
			Staged:    bin,
			StageName: filepath.Base(bin),
			Origin:    def.OriginLocal,
		})})
	}

	if len(proc.Modules) > 0 {
		keys = append(keys, fingerprint.Key{Name: "modules", Value: def.StringV(strings.Join(proc.Modules, ","))})
	}
	if proc.CondaEnv != "" {
		keys = append(keys, fingerprint.Key{Name: "conda", Value: def.StringV(proc.CondaEnv)})
	}
	if proc.SpackEnv != "" {
		keys = append(keys, fingerprint.Key{Name: "spack", Value: def.StringV(proc.SpackEnv)})
	}
	if proc.Arch != "" {
		keys = append(keys, fingerprint.Key{Name: "arch", Value: def.StringV(proc.Arch)})
	}
	if p.Sess.StubRun {
		keys = append(keys, fingerprint.Key{Name: "stub-run", Value: def.BoolV(true)})
	}

	return fingerprint.Hasher{Mode: proc.HashMode}.Hash(keys)
}

/*
	referencedBinScripts scans the command for names of files living in
	the project bin dir.  Word-boundary string match on the basename; the
	point is "my script changed, my tasks re-run", not shell parsing.
*/
func (p *Processor) referencedBinScripts(t *def.Task) []string {
	binDir := p.Exec.BinDir()
	if binDir == "" {
		return nil
	}
	entries, err := os.ReadDir(binDir)
	if err != nil {
		return nil
	}
	var hits []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if containsWord(t.ResolvedCommand, e.Name()) {
			hits = append(hits, filepath.Join(binDir, e.Name()))
		}
	}
	sort.Strings(hits)
	return hits
}

func containsWord(haystack string, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || isWordBreak(haystack[start-1])
		afterOK := end == len(haystack) || isWordBreak(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordBreak(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		return false
	}
	return true
}
