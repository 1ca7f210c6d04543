package vlogctl

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog"
	"github.com/wuxler/vlog/pkg/cmdhelper"
)

// NewScrubCommand returns a scrub command.
func NewScrubCommand(common *Common) *ScrubCommand {
	return &ScrubCommand{Common: common}
}

// ScrubCommand walks a log end to end and reports whether the recomputed
// live setsum agrees with what the manifest claims.
type ScrubCommand struct {
	Common *Common
}

// ToCLI returns a *cli.Command.
func (c *ScrubCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:   "scrub",
		Usage:  "Verify a log's recomputed checksum matches its manifest",
		Flags:  c.Common.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Run implements *cli.Command Action function.
func (c *ScrubCommand) Run(ctx context.Context, cmd *cli.Command) error {
	reader, err := vlog.OpenReader(ctx, c.Common.Store(), c.Common.Prefix, vlog.LogReaderOptions{})
	if err != nil {
		return err
	}
	report, err := reader.Scrub(ctx)
	if err != nil {
		return fmt.Errorf("scrubbing: %w", err)
	}
	if _, err := fmt.Fprintf(cmd.Writer, "records=%d live_setsum=%s matches_manifest=%v\n",
		report.RecordCount, report.LiveSetsum, report.SetsumsMatch); err != nil {
		return err
	}
	if !report.SetsumsMatch {
		return fmt.Errorf("scrub: log at %q disagrees with its manifest", c.Common.Prefix)
	}
	return nil
}
