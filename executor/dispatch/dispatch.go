package executordispatch

import (
	"path/filepath"

	"github.com/inconshreveable/log15"

	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/executor"
	"go.rillflow.net/rill/executor/impl/local"
	"go.rillflow.net/rill/executor/impl/mock"
)

// TODO: This should not require a global string -> class map :|
// Will make simpler to use out-of-tree backends, etc.

func Get(desire string, baseDir string, binDir string, env map[string]string, log log15.Logger) executor.Executor {
	workRoot := filepath.Join(baseDir, "work")
	stageDir := filepath.Join(baseDir, "stage")

	switch desire {
	case "", "local":
		return local.New(workRoot, stageDir, binDir, env, log)
	case "mock":
		return mock.New(baseDir)
	default:
		panic(def.ValidationError.New("No such executor %s", desire))
	}
}
