// Package pipeline orchestrates a metadata build end to end: harvest the
// identifier universe through the cached fetcher, reconcile concepts,
// classify, expand packages, assemble the hierarchy and serialize it.
package pipeline

import (
	"path/filepath"
	"time"
)

// Settings is the full configuration surface of one build run. The CLI
// populates it; the pipeline consumes it opaquely.
type Settings struct {
	// CachePath is the append-only response cache file.
	CachePath string
	// OutputDir and OutputFilename locate the metadata file.
	OutputDir      string
	OutputFilename string
	// LogDir receives the run log; consumed by the CLI when building the
	// logger, carried here so one settings object describes the whole run.
	LogDir string

	// Prefix is the leading path segment(s) of every row, without surrounding
	// backslashes. PrefixLevel is the root row's level; zero derives it from
	// the prefix's segment count.
	Prefix      string
	PrefixLevel int

	// Workers sizes the harvest worker pool.
	Workers int

	// BaseURL overrides the remote service endpoint; empty selects the
	// production endpoint.
	BaseURL string

	// LegacyRootID is the legacy taxonomy root class; empty disables the
	// legacy fallback.
	LegacyRootID string

	// AddProvenance emits the PROVENANCE folder and marks legacy-sourced rows.
	AddProvenance bool
	// SourceVersion labels the PROVENANCE VERSION row.
	SourceVersion string

	// ModifiersFile is an existing modifier metadata file whose rows are
	// passed through to the output; NoModifiers suppresses it.
	ModifiersFile string
	NoModifiers   bool

	// NDCNamesFile is the FDA-derived package name table; optional.
	NDCNamesFile string

	// DatabaseURL enables the bulk load of all rows into DatabaseTable.
	DatabaseURL   string
	DatabaseTable string

	// StatusAddr is the status/metrics HTTP listen address; consumed by the
	// CLI, empty disables the server.
	StatusAddr string

	// Append opens the output file for append and suppresses the header.
	Append bool

	// DrainTimeout bounds the harvest pool drain.
	DrainTimeout time.Duration
}

// DefaultSettings returns a runnable configuration; the cache path has no
// default and must be set.
func DefaultSettings() Settings {
	return Settings{
		OutputDir:      ".",
		OutputFilename: "rxnorm_metadata.txt",
		Prefix:         "rxmeta",
		Workers:        4,
		LegacyRootID:   "N0000010574",
		SourceVersion:  "RXNORM",
		DatabaseTable:  "rxnorm_metadata",
		DrainTimeout:   4 * time.Hour,
	}
}

// OutputPath joins the output directory and filename.
func (s Settings) OutputPath() string {
	return filepath.Join(s.OutputDir, s.OutputFilename)
}
