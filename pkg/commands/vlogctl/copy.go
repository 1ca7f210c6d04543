package vlogctl

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog"
	"github.com/wuxler/vlog/internal/logwriter"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/pkg/cmdhelper"
	"github.com/wuxler/vlog/vlogconfig"
)

// NewCopyCommand returns a copy command.
func NewCopyCommand(common *Common) *CopyCommand {
	return &CopyCommand{Common: common, DestWriterID: "copy"}
}

// CopyCommand copies a log's content, from a starting position, into a
// freshly initialized destination prefix in the same object store.
type CopyCommand struct {
	Common *Common

	DestPrefix   string `json:"dest_prefix,omitempty" yaml:"dest_prefix,omitempty"`
	DestWriterID string `json:"dest_writer_id,omitempty" yaml:"dest_writer_id,omitempty"`
	From         int64  `json:"from,omitempty" yaml:"from,omitempty"`
}

// ToCLI returns a *cli.Command.
func (c *CopyCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:      "copy",
		Usage:     "Copy a log's content into a freshly initialized destination",
		ArgsUsage: "DEST_PREFIX",
		Flags:     c.Flags(),
		Before:    cli.BeforeFunc(cmdhelper.ExactArgs(1)),
		Action:    c.Run,
	}
}

// Flags returns the []cli.Flag related to the current options.
func (c *CopyCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "dest-writer-id",
			Usage:       "identity the destination writer publishes under",
			Destination: &c.DestWriterID,
			Value:       c.DestWriterID,
		},
		&cli.IntFlag{
			Name:        "from",
			Usage:       "position to start copying from; defaults to the first position in the log",
			Destination: &c.From,
		},
	}
	return append(flags, c.Common.Flags()...)
}

// Run implements *cli.Command Action function.
func (c *CopyCommand) Run(ctx context.Context, cmd *cli.Command) error {
	c.DestPrefix = cmd.Args().First()
	store := c.Common.Store()

	if err := vlog.Initialize(ctx, store, c.DestPrefix, c.DestWriterID); err != nil {
		return fmt.Errorf("initializing destination: %w", err)
	}

	reader, err := vlog.OpenReader(ctx, store, c.Common.Prefix, vlog.LogReaderOptions{})
	if err != nil {
		return err
	}

	from := manifest.FirstPosition
	if c.From > 0 {
		from = manifest.LogPosition(c.From)
	}

	opts, err := vlogconfig.Default().ToLogWriterOptions(c.DestPrefix, c.DestWriterID)
	if err != nil {
		return err
	}

	err = vlog.Copy(ctx, reader, func() (*logwriter.Writer, error) {
		return vlog.OpenWriter(ctx, store, c.DestPrefix, c.DestWriterID, opts)
	}, from)
	if err != nil {
		return fmt.Errorf("copying: %w", err)
	}
	_, err = fmt.Fprintf(cmd.Writer, "copied %q into %q starting at %s\n", c.Common.Prefix, c.DestPrefix, from)
	return err
}
