// Package vlogconfig loads the recognized writer-side configuration options
// from YAML, the same way the teacher's command options load from flags and
// config files: a plain struct with json/yaml tags, a constructor seeding
// defaults, and a conversion into the internal options type the rest of the
// module actually consumes.
package vlogconfig

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/wuxler/vlog/internal/batch"
	"github.com/wuxler/vlog/internal/fragcodec"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/logwriter"
)

// SnapshotManifest bounds how large the manifest's fragment and snapshot
// lists are allowed to grow before rolling over.
type SnapshotManifest struct {
	FragmentRolloverThreshold int `json:"fragment_rollover_threshold,omitempty" yaml:"fragment_rollover_threshold,omitempty"`
	SnapshotRolloverThreshold int `json:"snapshot_rollover_threshold,omitempty" yaml:"snapshot_rollover_threshold,omitempty"`
}

// ThrottleManifest bounds how fast and how large a writer's batches grow
// before a fragment is cut and published.
type ThrottleManifest struct {
	Throughput     int `json:"throughput,omitempty" yaml:"throughput,omitempty"`
	BatchIntervalUs int `json:"batch_interval_us,omitempty" yaml:"batch_interval_us,omitempty"`
	BatchSizeBytes int `json:"batch_size_bytes,omitempty" yaml:"batch_size_bytes,omitempty"`
}

// Retention governs what a garbage collection pass is allowed to reclaim.
// MinVersionsToKeep and AbsoluteCutoffTime describe the original retention
// model; this module's collector resolves its threshold from a cursor floor
// (see Open question decisions in DESIGN.md), so AbsoluteCutoffTime is
// accepted and validated here but has no collector-side effect yet.
type Retention struct {
	MinVersionsToKeep   int    `json:"min_versions_to_keep,omitempty" yaml:"min_versions_to_keep,omitempty"`
	AbsoluteCutoffTime  string `json:"absolute_cutoff_time,omitempty" yaml:"absolute_cutoff_time,omitempty"`
}

// CutoffDuration parses AbsoluteCutoffTime as a Go duration string (e.g.
// "720h"), using cast for the same lenient string/number coercion the
// teacher's own flag-binding options use.
func (r Retention) CutoffDuration() (time.Duration, error) {
	if r.AbsoluteCutoffTime == "" {
		return 0, nil
	}
	return cast.ToDurationE(r.AbsoluteCutoffTime)
}

// Compression names a codec by its config-file string, matching the
// teacher's string-keyed format registry in pkg/util/xio/compression.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionXz   Compression = "xz"
	CompressionBz2  Compression = "bz2"
)

func (c Compression) toFragcodec() (fragcodec.Compression, error) {
	switch c {
	case CompressionNone, "":
		return fragcodec.CompressionNone, nil
	case CompressionGzip:
		return fragcodec.CompressionGzip, nil
	case CompressionZstd:
		return fragcodec.CompressionZstd, nil
	case CompressionXz:
		return fragcodec.CompressionXz, nil
	case CompressionBz2:
		return fragcodec.CompressionBz2, nil
	default:
		return 0, fmt.Errorf("vlogconfig: unrecognized compression %q", c)
	}
}

// WriterConfig is the recognized writer-side configuration surface: every
// option named in the external-interfaces configuration table.
type WriterConfig struct {
	SnapshotManifest SnapshotManifest `json:"snapshot_manifest,omitempty" yaml:"snapshot_manifest,omitempty"`
	ThrottleManifest ThrottleManifest `json:"throttle_manifest,omitempty" yaml:"throttle_manifest,omitempty"`
	Retention        Retention        `json:"retention,omitempty" yaml:"retention,omitempty"`
	Compression      Compression      `json:"compression,omitempty" yaml:"compression,omitempty"`
	FragmentIDScheme string           `json:"fragment_id_scheme,omitempty" yaml:"fragment_id_scheme,omitempty"`
}

// Default returns the configuration a fresh log starts from if the caller
// supplies no config file at all.
func Default() WriterConfig {
	return WriterConfig{
		SnapshotManifest: SnapshotManifest{
			FragmentRolloverThreshold: 512,
			SnapshotRolloverThreshold: 32,
		},
		ThrottleManifest: ThrottleManifest{
			Throughput:      10 << 20,
			BatchIntervalUs: 2000,
			BatchSizeBytes:  4 << 20,
		},
		FragmentIDScheme: string(manifest.FragmentIDSeqNo),
	}
}

// Load reads and parses a WriterConfig from a YAML file on fs, starting
// from Default() so a config that only overrides a handful of fields still
// produces a complete, valid WriterConfig.
func Load(fs afero.Fs, path string) (WriterConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return WriterConfig{}, fmt.Errorf("vlogconfig: reading %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WriterConfig{}, fmt.Errorf("vlogconfig: parsing %q: %w", path, err)
	}
	return cfg, nil
}

// ToLogWriterOptions converts the recognized configuration into the
// internal options type logwriter.Open consumes. prefix and writerID are
// supplied by the caller rather than the config file, matching
// vlog.OpenWriter's own signature.
func (c WriterConfig) ToLogWriterOptions(prefix, writerID string) (logwriter.Options, error) {
	compression, err := c.Compression.toFragcodec()
	if err != nil {
		return logwriter.Options{}, err
	}
	scheme := manifest.FragmentIDScheme(c.FragmentIDScheme)
	if scheme == "" {
		scheme = manifest.FragmentIDSeqNo
	}
	return logwriter.Options{
		Prefix:         prefix,
		WriterName:     writerID,
		FragmentScheme: scheme,
		Rollover: manifest.RolloverOptions{
			FragmentRolloverThreshold: c.SnapshotManifest.FragmentRolloverThreshold,
			SnapshotRolloverThreshold: c.SnapshotManifest.SnapshotRolloverThreshold,
		},
		Throttle: batch.ThrottleOptions{
			Throughput:      c.ThrottleManifest.Throughput,
			BatchIntervalUs: c.ThrottleManifest.BatchIntervalUs,
			BatchSizeBytes:  c.ThrottleManifest.BatchSizeBytes,
		},
		Codec: fragcodec.Options{Compression: compression},
	}, nil
}
