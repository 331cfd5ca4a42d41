package processor

import (
	"go.rillflow.net/rill/core/resolve"
	"go.rillflow.net/rill/core/stage"
	"go.rillflow.net/rill/def"
)

/*
	materialize builds a Task out of one decoded input tuple: stages the
	inputs (populating the context), evaluates the `when:` guard, and
	resolves the command template against the frozen context.

	A false guard is not an error; the returned skip flag tells the
	caller to finalize the task as a no-op.
*/
func (p *Processor) materialize(t *def.Task, tuple map[string]def.Value) (skip bool, err error) {
	t.Inputs = tuple

	stager := stage.Stager{Exec: p.Exec, Porter: p.Porter, Log: p.log}
	if err := stager.StageInputs(t, p.Proc); err != nil {
		return false, err
	}

	// Directives and guards read the attempt; expose it the way task
	// context variables are read.
	t.Context["task_attempt"] = def.NumV(float64(t.Attempt))

	ok, err := resolve.EvalGuard(p.Proc.When, t.Context)
	if err != nil {
		return false, err
	}
	if !ok {
		p.log.Debug("when guard declined task", "task", t.ID, "tuple", t.TupleIndex)
		return true, nil
	}

	body := p.Proc.Script
	if p.Sess.StubRun && p.Proc.Stub != "" {
		body = p.Proc.Stub
	}
	command, err := resolve.Interpolate(body, t.Context)
	if err != nil {
		return false, err
	}
	t.ResolvedCommand = command
	return false, nil
}

/*
	finalizeSkip settles a guard-declined task: default outputs still
	bind (completion causality survives a skip), everything else goes
	missing so downstream tuples for this index stay suppressed.
*/
func (p *Processor) finalizeSkip(t *def.Task) {
	for _, out := range p.Proc.Outputs {
		if out.Kind == def.OutDefault {
			t.Outputs[out.Name] = def.BoolV(true)
		} else {
			t.Outputs[out.Name] = def.MissingOutput
		}
	}
}
