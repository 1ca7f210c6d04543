// Package vlogctl wires the vlog facade into CLI subcommands: init, append,
// scan, scrub, gc, copy, and destroy, following the same Command-struct
// plus Flags()/ToCLI() shape the rest of this module's commands use.
package vlogctl

import (
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/pkg/util/homedir"
)

// defaultDataDir is "~/.vlog/data", expanded against the invoking user's
// home directory. Falls back to a relative directory if the home
// directory cannot be determined (e.g. no passwd entry in a minimal
// container).
func defaultDataDir() string {
	dir, err := homedir.Expand("~/.vlog/data")
	if err != nil {
		return "./vlog-data"
	}
	return dir
}

// NewCommon returns a *Common with default values.
func NewCommon() *Common {
	return &Common{
		DataDir: defaultDataDir(),
	}
}

// Common are the flags every vlogctl subcommand needs: where the log's
// objects live on disk, and which log prefix within that store to operate
// against.
type Common struct {
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Flags returns the []cli.Flag related to the current options.
func (c *Common) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "directory backing the object store",
			Sources:     cli.EnvVars("VLOG_DATA_DIR"),
			Destination: &c.DataDir,
			Value:       c.DataDir,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "log prefix within the object store",
			Sources:     cli.EnvVars("VLOG_PREFIX"),
			Destination: &c.Prefix,
			Required:    true,
		},
	}
}

// Store returns the object store this invocation operates against: a
// local filesystem rooted at DataDir.
func (c *Common) Store() objstore.Store {
	return objstore.NewFilesystem(afero.NewOsFs(), c.DataDir)
}
