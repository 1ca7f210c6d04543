package vlogctl

import (
	"github.com/urfave/cli/v3"
)

// NewLogCommand returns the top-level "log" command grouping every vlogctl
// subcommand under a single shared set of --data-dir/--prefix flags.
func NewLogCommand() *LogCommand {
	return &LogCommand{Common: NewCommon()}
}

// LogCommand is the parent of every vlogctl subcommand.
type LogCommand struct {
	Common *Common
}

// ToCLI returns a *cli.Command.
func (c *LogCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Operate on a write-ahead log",
		Commands: []*cli.Command{
			NewInitCommand(c.Common).ToCLI(),
			NewAppendCommand(c.Common).ToCLI(),
			NewScanCommand(c.Common).ToCLI(),
			NewScrubCommand(c.Common).ToCLI(),
			NewGCCommand(c.Common).ToCLI(),
			NewCopyCommand(c.Common).ToCLI(),
			NewDestroyCommand(c.Common).ToCLI(),
		},
	}
}
