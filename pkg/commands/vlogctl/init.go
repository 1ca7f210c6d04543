package vlogctl

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog"
	"github.com/wuxler/vlog/pkg/cmdhelper"
)

// NewInitCommand returns an init command.
func NewInitCommand(common *Common) *InitCommand {
	return &InitCommand{Common: common}
}

// InitCommand creates a fresh, empty manifest at Prefix.
type InitCommand struct {
	Common *Common

	WriterID string `json:"writer_id,omitempty" yaml:"writer_id,omitempty"`
}

// ToCLI returns a *cli.Command.
func (c *InitCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Create a fresh, empty log",
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current options.
func (c *InitCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "writer-id",
			Usage:       "identity recorded as the manifest's initial writer",
			Destination: &c.WriterID,
			Value:       "init",
		},
	}
	return append(flags, c.Common.Flags()...)
}

// Run implements *cli.Command Action function.
func (c *InitCommand) Run(ctx context.Context, cmd *cli.Command) error {
	if err := vlog.Initialize(ctx, c.Common.Store(), c.Common.Prefix, c.WriterID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.Writer, "initialized log at %q\n", c.Common.Prefix)
	return err
}
