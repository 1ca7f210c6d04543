package vlogctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog"
	"github.com/wuxler/vlog/internal/logwriter"
	"github.com/wuxler/vlog/pkg/cmdhelper"
	"github.com/wuxler/vlog/vlogconfig"
)

// NewAppendCommand returns an append command.
func NewAppendCommand(common *Common) *AppendCommand {
	return &AppendCommand{Common: common, WriterID: "cli"}
}

// AppendCommand appends one record per line of stdin to a log, printing the
// position assigned to each.
type AppendCommand struct {
	Common *Common

	WriterID   string `json:"writer_id,omitempty" yaml:"writer_id,omitempty"`
	ConfigPath string `json:"config,omitempty" yaml:"config,omitempty"`
}

// ToCLI returns a *cli.Command.
func (c *AppendCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:   "append",
		Usage:  "Append records read from stdin, one per line",
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags returns the []cli.Flag related to the current options.
func (c *AppendCommand) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "writer-id",
			Usage:       "identity this writer handle publishes under",
			Destination: &c.WriterID,
			Value:       c.WriterID,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a writer config YAML file",
			Destination: &c.ConfigPath,
		},
	}
	return append(flags, c.Common.Flags()...)
}

// Run implements *cli.Command Action function.
func (c *AppendCommand) Run(ctx context.Context, cmd *cli.Command) error {
	opts, err := c.writerOptions()
	if err != nil {
		return err
	}

	w, err := vlog.OpenWriter(ctx, c.Common.Store(), c.Common.Prefix, c.WriterID, opts)
	if err != nil {
		return fmt.Errorf("opening writer: %w", err)
	}

	runErr := c.appendFromStdin(ctx, w, cmd.Writer)
	if closeErr := w.Close(ctx); runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func (c *AppendCommand) appendFromStdin(ctx context.Context, w *logwriter.Writer, out io.Writer) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		pos, err := w.Append(ctx, scanner.Bytes())
		if err != nil {
			return fmt.Errorf("appending record: %w", err)
		}
		if _, err := fmt.Fprintf(out, "%s\n", pos); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

func (c *AppendCommand) writerOptions() (vlog.LogWriterOptions, error) {
	cfg := vlogconfig.Default()
	if c.ConfigPath != "" {
		loaded, err := vlogconfig.Load(afero.NewOsFs(), c.ConfigPath)
		if err != nil {
			return vlog.LogWriterOptions{}, err
		}
		cfg = loaded
	}
	return cfg.ToLogWriterOptions(c.Common.Prefix, c.WriterID)
}
