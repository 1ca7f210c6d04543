package vlogctl

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog/internal/gc"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/pkg/cmdhelper"
)

// NewGCCommand returns a gc command.
func NewGCCommand(common *Common) *GCCommand {
	return &GCCommand{Common: common}
}

// GCCommand runs one garbage collection pass, reclaiming everything strictly
// below the lesser of --floor and the minimum position across every
// registered cursor.
type GCCommand struct {
	Common *Common

	Floor int64 `json:"floor,omitempty" yaml:"floor,omitempty"`
}

// ToCLI returns a *cli.Command.
func (c *GCCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:   "gc",
		Usage:  "Reclaim fragments and snapshots below the retention floor",
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current options.
func (c *GCCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "floor",
			Usage:       "absolute retention floor; cursors may lower it further but never raise it",
			Destination: &c.Floor,
		},
	}
	return append(flags, c.Common.Flags()...)
}

// Run implements *cli.Command Action function.
func (c *GCCommand) Run(ctx context.Context, cmd *cli.Command) error {
	floor := manifest.FirstPosition
	if c.Floor > 0 {
		floor = manifest.LogPosition(c.Floor)
	}

	report, err := gc.New(c.Common.Store(), gc.Options{Prefix: c.Common.Prefix}).Collect(ctx, floor)
	if err != nil {
		return fmt.Errorf("collecting garbage: %w", err)
	}
	_, err = fmt.Fprintf(cmd.Writer,
		"threshold=%s fragments_deleted=%d snapshots_deleted=%d resumed=%v\n",
		report.Threshold, report.FragmentsDeleted, report.SnapshotsDeleted, report.Resumed)
	return err
}
