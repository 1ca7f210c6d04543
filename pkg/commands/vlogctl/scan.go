package vlogctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog"
	"github.com/wuxler/vlog/internal/iter"
	"github.com/wuxler/vlog/internal/manifest"
)

// NewScanCommand returns a scan command.
func NewScanCommand(common *Common) *ScanCommand {
	return &ScanCommand{Common: common}
}

// ScanCommand prints every record from a starting position onward.
type ScanCommand struct {
	Common *Common

	From int64 `json:"from,omitempty" yaml:"from,omitempty"`
}

// ToCLI returns a *cli.Command.
func (c *ScanCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:   "scan",
		Usage:  "Print every record from a position onward",
		Flags:  c.Flags(),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current options.
func (c *ScanCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "from",
			Usage:       "position to scan from; defaults to the first position in the log",
			Destination: &c.From,
		},
	}
	return append(flags, c.Common.Flags()...)
}

// Run implements *cli.Command Action function.
func (c *ScanCommand) Run(ctx context.Context, cmd *cli.Command) error {
	reader, err := vlog.OpenReader(ctx, c.Common.Store(), c.Common.Prefix, vlog.LogReaderOptions{})
	if err != nil {
		return err
	}

	from := manifest.FirstPosition
	if c.From > 0 {
		from = manifest.LogPosition(c.From)
	}

	it, err := reader.Scan(ctx, from)
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}
	for {
		page, err := it.Next(ctx)
		for _, rec := range page {
			if _, err := fmt.Fprintf(cmd.Writer, "%s\t%s\n", rec.Position, rec.Data); err != nil {
				return err
			}
		}
		if errors.Is(err, iter.ErrDone) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
	}
}
