package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/codegangsta/cli"
)

func Main(args []string, journal, output io.Writer) {
	App := cli.NewApp()

	App.Name = "rill"
	App.Usage = "Stream it through.  Same inputs, same answers."
	App.Version = "v0.2+dev"

	App.Writer = journal

	App.Commands = []cli.Command{
		RunCommandPattern(output),
	}

	// Slight touch to the phrasing on subcommands not found.
	App.CommandNotFound = func(ctx *cli.Context, command string) {
		panic(Error.NewWith(
			fmt.Sprintf("Incorrect usage: '%s %v' is not a rill subcommand\n", ctx.App.Name, command),
			SetExitCode(EXIT_BADARGS),
		))
	}

	// Invoking version as a subcommand should also fly.
	App.Commands = append(App.Commands,
		cli.Command{
			Name:  "version",
			Usage: "Shows the version of rill",
			Action: func(ctx *cli.Context) {
				cli.ShowVersion(ctx)
			},
		},
	)

	// Version goes to stdout, not the journal.
	cli.VersionPrinter = func(ctx *cli.Context) {
		fmt.Fprintf(os.Stdout, "%v %v\n", ctx.App.Name, ctx.App.Version)
	}

	if err := App.Run(args); err != nil {
		panic(Error.NewWith(
			fmt.Sprintf("Incorrect usage: %s", err),
			SetExitCode(EXIT_BADARGS),
		))
	}
}
