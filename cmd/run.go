// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-unwrap"
	"github.com/hashicorp/go-unwrap/texture"
	"github.com/pkg/errors"
)

// CLI are the cli parameters for go-unwrap binary
type CLI struct {
	Input                 string           `arg:"" name:"input" help:"Path to a game data file or directory. (\"-\" for STDIN)" type:"path"`
	Destination           string           `arg:"" name:"destination" default:"." help:"Output directory."`
	CacheInMemory         bool             `short:"m" help:"Cache STDIN in memory instead of a temporary file."`
	CarveFailureThreshold int              `optional:"" default:"5" help:"Consecutive carving failures of a format after which carving is skipped."`
	CreateDestination     bool             `short:"c" help:"Create destination directory if it does not exist."`
	MaxDepth              int              `optional:"" default:"16" help:"Maximum nesting of archives and compression layers. (disable check: -1)"`
	MaxExtractionSize     int64            `optional:"" default:"1073741824" help:"Maximum size of all persisted payloads (in bytes). (disable check: -1)"`
	MaxExtractionTime     int64            `optional:"" default:"-1" help:"Maximum time that a run should take (in seconds). (disable check: -1)"`
	MaxInputSize          int64            `optional:"" default:"1073741824" help:"Maximum size of an input file (in bytes). (disable check: -1)"`
	Metrics               bool             `short:"M" optional:"" default:"false" help:"Print telemetry data to log after the run."`
	Name                  string           `optional:"" default:"stdin.bin" help:"File name of the STDIN input, used as output path and extension hint."`
	Overwrite             bool             `short:"O" help:"Overwrite if exist."`
	Parallelism           int              `short:"p" optional:"" default:"4" help:"Number of concurrent tasks per directory or archive."`
	SkipDuplicates        bool             `short:"d" help:"Drop payloads with already persisted content."`
	SmallArchiveThreshold int              `optional:"" default:"30" help:"Archives with up to this many files are unwrapped sequentially."`
	Textures              bool             `short:"t" help:"Log every persisted texture payload."`
	Verbose               bool             `short:"v" optional:"" help:"Verbose logging."`
	Version               kong.VersionFlag `short:"V" optional:"" help:"Print release version information."`
}

// Run the entrypoint into go-unwrap as a cli tool
func Run(version, commit, date string) {
	ctx := context.Background()
	var cli CLI
	kong.Parse(&cli,
		kong.Description("Recover assets from game data files"),
		kong.UsageOnError(),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s), commit %s, built at %s", filepath.Base(os.Args[0]), version, commit, date),
		},
	)

	// Check for verbose output
	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// setup telemetry hook
	telemetryToLog := func(ctx context.Context, td *unwrap.TelemetryData) {
		logger.Info("unwrap finished",
			"files", td.PersistedFiles,
			"size", humanize.Bytes(uint64(max(td.ExtractionSize, 0))),
			"input", humanize.Bytes(uint64(max(td.InputSize, 0))),
			"errors", td.ExtractionErrors,
			"duration", td.ExtractionDuration.Round(time.Millisecond),
		)
		if cli.Metrics {
			logger.Info("telemetry", "data", td)
		}
	}

	opts := []unwrap.ConfigOption{
		unwrap.WithCacheInMemory(cli.CacheInMemory),
		unwrap.WithCarveFailureThreshold(cli.CarveFailureThreshold),
		unwrap.WithCreateDestination(cli.CreateDestination),
		unwrap.WithLogger(logger),
		unwrap.WithMaxDepth(cli.MaxDepth),
		unwrap.WithMaxExtractionSize(cli.MaxExtractionSize),
		unwrap.WithMaxInputSize(cli.MaxInputSize),
		unwrap.WithOverwrite(cli.Overwrite),
		unwrap.WithParallelism(cli.Parallelism),
		unwrap.WithSkipDuplicates(cli.SkipDuplicates),
		unwrap.WithSmallArchiveThreshold(cli.SmallArchiveThreshold),
		unwrap.WithTelemetryHook(telemetryToLog),
	}
	if cli.Textures {
		opts = append(opts, unwrap.WithTextureHook(func(ctx context.Context, e *texture.Entry) error {
			logger.Info("texture", "path", e.Path, "container", e.Container, "format", e.Format,
				"width", e.Width, "height", e.Height, "mipmaps", e.Mipmaps, "size", humanize.Bytes(uint64(e.Size)))
			return nil
		}))
	}
	cfg := unwrap.NewConfig(opts...)

	if cli.MaxExtractionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second*time.Duration(cli.MaxExtractionTime))
		defer cancel()
	}

	if err := run(ctx, cli, cfg); err != nil {
		logger.Error("unwrap failed", "error", err)
		os.Exit(-1)
	}
}

// run unwraps the input of cli according to cfg.
func run(ctx context.Context, cli CLI, cfg *unwrap.Config) error {
	if cli.Input != "-" {
		return errors.Wrapf(unwrap.Unpack(ctx, cli.Input, cli.Destination, cfg), "cannot unwrap %s", cli.Input)
	}
	err := unwrap.UnpackStream(ctx, bufio.NewReader(os.Stdin), cli.Name, unwrap.NewTargetDisk(), cli.Destination, cfg)
	return errors.Wrap(err, "cannot unwrap STDIN")
}
