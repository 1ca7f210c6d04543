package vlogctl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog"
	"github.com/wuxler/vlog/pkg/cmdhelper"
)

// NewDestroyCommand returns a destroy command.
func NewDestroyCommand(common *Common) *DestroyCommand {
	return &DestroyCommand{Common: common}
}

// DestroyCommand deletes a log's manifest, every fragment and snapshot blob
// it references, every cursor, and anything dangling underneath its prefix.
type DestroyCommand struct {
	Common *Common

	Force bool `json:"force,omitempty" yaml:"force,omitempty"`
}

// ToCLI returns a *cli.Command.
func (c *DestroyCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:   "destroy",
		Usage:  "Permanently delete a log and everything under its prefix",
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current options.
func (c *DestroyCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Usage:       "skip the confirmation prompt",
			Destination: &c.Force,
		},
	}
	return append(flags, c.Common.Flags()...)
}

// Run implements *cli.Command Action function.
func (c *DestroyCommand) Run(ctx context.Context, cmd *cli.Command) error {
	if !c.Force {
		confirmed, err := c.confirm()
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
	}

	if err := vlog.Destroy(ctx, c.Common.Store(), c.Common.Prefix); err != nil {
		return fmt.Errorf("destroying: %w", err)
	}
	_, err := fmt.Fprintf(cmd.Writer, "destroyed log at %q\n", c.Common.Prefix)
	return err
}

func (c *DestroyCommand) confirm() (bool, error) {
	prompt := &promptui.Prompt{
		Label:     fmt.Sprintf("Are you sure to permanently delete the log at %q", c.Common.Prefix),
		Default:   "N",
		IsConfirm: true,
	}
	userInput, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(userInput, "y"), nil
}
