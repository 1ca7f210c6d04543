// Package main is the entry of the application.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog/pkg/cmdhelper"
	"github.com/wuxler/vlog/pkg/commands"
	"github.com/wuxler/vlog/pkg/commands/vlogctl"
)

func main() {
	app := cli.Command{
		Name:                  "vlogctl",
		Usage:                 "vlogctl operates write-ahead logs backed by an object store",
		Suggest:               true,
		EnableShellCompletion: true,
		HideVersion:           true,
		HideHelpCommand:       true,
		Commands: []*cli.Command{
			commands.NewVersionCommand().ToCLI(),
			vlogctl.NewLogCommand().ToCLI(),
		},
		ExitErrHandler: func(ctx context.Context, c *cli.Command, err error) {
			cli.HandleExitCoder(err)
			cmdhelper.Fprintf(c.ErrWriter, "Error: %+v\n", err)
			os.Exit(1)
		},
	}
	//nolint:errcheck // already checked in root command ExitErrHandler
	_ = app.Run(context.Background(), os.Args)
}
