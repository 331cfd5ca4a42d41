/*
	resolve handles the `${name}` references that command templates,
	staging name patterns, and directives use to read the task context.

	Only the braced form is ours.  Bare `$name` passes through untouched,
	so shell variables in command bodies keep meaning what the shell
	thinks they mean.
*/
package resolve

import (
	"regexp"

	"github.com/Knetic/govaluate"

	"go.rillflow.net/rill/def"
)

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

/*
	Interpolate splices context values into a template.  A reference to a
	name the context doesn't hold is an unrecoverable error: a typo in a
	script is never something to retry into working.
*/
func Interpolate(body string, ctx def.Context) (string, error) {
	var missing string
	out := refPattern.ReplaceAllStringFunc(body, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		v, bound := ctx[name]
		if !bound {
			if missing == "" {
				missing = name
			}
			return ref
		}
		return v.Stringify()
	})
	if missing != "" {
		return "", def.UnrecoverableError.New("no variable %q in scope", missing)
	}
	return out, nil
}

/*
	Captures enumerates the names a template references, in order of first
	appearance.  The fingerprint hasher folds the bound values of these in
	rather than trying to serialize closure identity.
*/
func Captures(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range refPattern.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

/*
	Eval runs a guard or value-output expression against the context.
	Expressions see the plain (untagged) forms of every context value.
*/
func Eval(expr string, ctx def.Context) (interface{}, error) {
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, def.UnrecoverableError.New("cannot compile expression %q: %s", expr, err)
	}
	params := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		params[k] = v.Plain()
	}
	return compiled.Evaluate(params)
}

/*
	EvalGuard evaluates a `when:` expression down to a bool.  An empty
	expression is an unconditional yes.  The expression throwing is a
	guard failure, distinct from it evaluating false.
*/
func EvalGuard(expr string, ctx def.Context) (bool, error) {
	if expr == "" {
		return true, nil
	}
	result, err := Eval(expr, ctx)
	if err != nil {
		return false, def.GuardError.New("when guard %q: %s", expr, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, def.GuardError.New("when guard %q did not evaluate to a boolean", expr)
	}
	return b, nil
}
