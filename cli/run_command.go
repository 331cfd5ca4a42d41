package cli

import (
	"fmt"
	"io"

	"github.com/codegangsta/cli"

	"go.rillflow.net/rill/core/session"
	"go.rillflow.net/rill/def"
)

func RunCommandPattern(output io.Writer) cli.Command {
	return cli.Command{
		Name:  "run",
		Usage: "Run a pipeline file, resuming from cached work where fingerprints match",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "executor, e",
				Value: "local",
				Usage: "Which executor to use",
			},
			cli.StringFlag{
				Name:  "base-dir, b",
				Value: "",
				Usage: "Base directory for work dirs and staging (default: under RILL_BASE)",
			},
			cli.IntFlag{
				Name:  "pool-size, p",
				Value: 8,
				Usage: "Size of the shared task worker pool",
			},
			cli.BoolFlag{
				Name:  "stub",
				Usage: "Run stub blocks instead of real commands where declared",
			},
			cli.StringFlag{
				Name:  "session, s",
				Value: "",
				Usage: "Session id to resume; task fingerprints are scoped by it",
			},
		},
		Action: func(ctx *cli.Context) {
			if len(ctx.Args()) != 1 {
				panic(Error.NewWith("`rill run` requires exactly one pipeline file", SetExitCode(EXIT_BADARGS)))
			}
			journal := ctx.App.Writer
			log := NewLogger(journal)
			sess := session.New(ctx.Int("pool-size"), log)
			sess.StubRun = ctx.Bool("stub")
			if sid := ctx.String("session"); sid != "" {
				sess.UID = sid
			}

			baseDir := ctx.String("base-dir")
			if baseDir == "" {
				baseDir = def.Base()
			}

			pl := LoadPipelineFromFile(ctx.Args()[0], sess)
			results, faulted := RunPipeline(pl, sess, ctx.String("executor"), baseDir, journal)

			for label, values := range results {
				for _, v := range values {
					fmt.Fprintf(output, "%s\t%s\n", label, v.Stringify())
				}
			}
			if faulted {
				panic(Error.NewWith("pipeline faulted", SetExitCode(EXIT_PIPELINE)))
			}
		},
	}
}
