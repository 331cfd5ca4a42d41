/*
	script owns the last mile between a resolved command string and the
	`.command.sh` file a backend actually execs: shebang repair and the
	environment map the command runs under.
*/
package script

import (
	"regexp"
	"strings"

	"github.com/inconshreveable/log15"
)

// Control files every work dir carries.  The collector and the fault
// reporter key off these names, so they live in one place.
const (
	ScriptFilename   = ".command.sh"
	StdoutFilename   = ".command.out"
	StderrFilename   = ".command.err"
	WrapperFilename  = ".command.log"
	EnvFilename      = ".command.env"
	ExitcodeFilename = ".exitcode"
)

/*
	Assemble normalizes a resolved command body into an executable script:
	surrounding whitespace stripped, trailing newline guaranteed, and a
	shebang prepended when the user's script didn't open with one.

	The inferred shebang is `#!/usr/bin/env <shell>`, or `#!<shell>`
	directly when the configured shell is already an absolute path.
*/
func Assemble(body string, shell string) string {
	body = strings.TrimSpace(body)
	if shell == "" {
		shell = "bash"
	}
	if !strings.HasPrefix(body, "#!") {
		var shebang string
		if strings.HasPrefix(shell, "/") {
			shebang = "#!" + shell
		} else {
			shebang = "#!/usr/bin/env " + shell
		}
		body = shebang + "\n" + body
	}
	return body + "\n"
}

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

/*
	BuildEnv assembles the environment for a task.

	The base map comes from configuration.  When the work dir sits on the
	default filesystem and bin dirs are defined, PATH is extended: if the
	config already pins PATH, the bin dirs are appended to it; otherwise
	the runtime PATH is deferred to with a `$PATH` reference the shell
	resolves.  Names failing the POSIX name check are dropped with a
	warning; empty values export as empty strings, also with a warning.
*/
func BuildEnv(base map[string]string, localWorkDir bool, binDirs []string, log log15.Logger) map[string]string {
	out := make(map[string]string, len(base)+1)
	for name, value := range base {
		if !envNamePattern.MatchString(name) {
			log.Warn("dropping environment variable with illegal name", "name", name)
			continue
		}
		if value == "" {
			log.Warn("environment variable exported with empty value", "name", name)
		}
		out[name] = value
	}
	if localWorkDir && len(binDirs) > 0 {
		joined := strings.Join(binDirs, ":")
		if existing, set := out["PATH"]; set {
			out["PATH"] = existing + ":" + joined
		} else {
			out["PATH"] = "$PATH:" + joined
		}
	}
	return out
}
