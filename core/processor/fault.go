package processor

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.rillflow.net/rill/core/script"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/lib/tailbuf"
)

// How many trailing lines of a task's streams make it into a fault report.
const faultTailLines = 50

/*
	TaskFault is the terminal diagnosis for a failed task: the error, the
	task it killed, and the rendered multi-line report the user sees.
*/
type TaskFault struct {
	Process string
	Task    *def.Task
	Err     error
	Report  string
}

func (f *TaskFault) Error() string {
	return fmt.Sprintf("process %q faulted: %s", f.Process, f.Err)
}

/*
	TipProvider supplies the trailing `Tip:` line of fault reports.
	Swappable so a frontend can rotate hints; the default is honest
	and evergreen.
*/
var TipProvider = func() string {
	return "you can inspect a failing task by cd-ing into its work dir and rerunning ./.command.sh"
}

func renderFault(proc *def.Process, t *def.Task, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error executing process > '%s (%d)'\n", proc.Name, t.TupleIndex)
	fmt.Fprintf(&b, "\nCaused by:\n  %s\n", indentTail(err.Error()))

	if t.ResolvedCommand != "" {
		fmt.Fprintf(&b, "\nCommand executed:\n\n%s\n", indentBlock(strings.TrimSpace(t.ResolvedCommand)))
	}
	if t.ExitStatus != def.ExitUnset {
		fmt.Fprintf(&b, "\nCommand exit status:\n  %d\n", t.ExitStatus)
	}

	stdout := tailOf(t.StdoutPath)
	fmt.Fprintf(&b, "\nCommand output:\n%s\n", orEmptyMarker(stdout))

	stderr := tailOf(t.StderrPath)
	if stderr != "" {
		fmt.Fprintf(&b, "\nCommand error:\n%s\n", indentBlock(stderr))
	} else if t.ExitStatus != def.ExitUnset && t.ExitStatus != 0 && t.WorkDir != "" {
		// Nothing on stderr and a nonzero exit: the wrapper log is the
		// next best witness.
		wrapper := tailOf(filepath.Join(t.WorkDir, script.WrapperFilename))
		if wrapper != "" {
			fmt.Fprintf(&b, "\nCommand wrapper:\n%s\n", indentBlock(wrapper))
		}
	}

	if t.WorkDir != "" {
		fmt.Fprintf(&b, "\nWork dir:\n  %s\n", t.WorkDir)
	}
	if proc.Container != "" {
		fmt.Fprintf(&b, "\nContainer:\n  %s\n", proc.Container)
	}
	fmt.Fprintf(&b, "\nTip: %s\n", TipProvider())
	return b.String()
}

func tailOf(path string) string {
	if path == "" {
		return ""
	}
	tail, err := tailbuf.File(path, faultTailLines)
	if err != nil {
		return ""
	}
	out := tail.String()
	if tail.Truncated() {
		out = "(more omitted..)\n" + out
	}
	return out
}

func orEmptyMarker(s string) string {
	if s == "" {
		return "  (empty)"
	}
	return indentBlock(s)
}

func indentBlock(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func indentTail(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
