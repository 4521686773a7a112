// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime/pprof"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-unwrap"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var CLI struct {
	CacheInMemory bool     `short:"c" long:"cache-in-memory" default:"false" description:"cache input streams in memory"`
	Compare       bool     `short:"C" long:"compare" default:"false" description:"compare the sequential and the parallel output of every input"`
	Inputs        []string `arg:"" name:"inputs" required:"true" description:"input files or directories to unwrap"`
	Iterations    int      `short:"i" long:"iterations" default:"1" description:"number of iterations to repeat the run"`
	Parallelism   []int    `short:"P" long:"parallelism" default:"1,4" description:"parallelism levels to profile"`
	Profile       bool     `short:"p" long:"profile" default:"false" description:"enable profiling of the run"`
	ProfileOut    string   `short:"o" long:"profile-out" default:"mem.pprof" description:"output file for the profile"`
	Verbose       bool     `short:"v" long:"verbose" description:"Enable verbose output"`
}

// main function
func main() {

	// parse command line arguments and create logger
	var ctx = context.Background()
	_ = kong.Parse(&CLI)
	lvl := slog.LevelInfo
	if CLI.Verbose {
		lvl = slog.LevelDebug
	}
	var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))

	// map with slice of int to capture execution duration
	var ed = make(map[string][]int64)

	for i := 0; i < CLI.Iterations; i++ {
		for _, input := range CLI.Inputs {
			for _, p := range CLI.Parallelism {
				duration, td, err := profileRun(ctx, logger, input, p)
				if err != nil {
					logger.Error("error during run", "error", err)
					continue
				}
				key := fmt.Sprintf("%s-p%d", input, p)
				ed[key] = append(ed[key], duration)
				logger.Debug("run finished", "key", key, "files", td.PersistedFiles, "size", humanize.Bytes(uint64(td.ExtractionSize)))
			}
			if CLI.Compare {
				if err := compareRuns(ctx, input); err != nil {
					logger.Error("sequential and parallel output differ", "input", input, "error", err)
				}
			}
		}
	}

	// log average, min and max duration
	for _, key := range sortedKeys(ed) {
		logger.Info("profiling results", "iterations", len(ed[key]), "average", fmt.Sprintf("%dms", avg(ed[key])), "min", fmt.Sprintf("%dms", minOf(ed[key])), "max", fmt.Sprintf("%dms", maxOf(ed[key])), "std", fmt.Sprintf("%dms", int(std(ed[key]))), "key", key)
	}

	// store memory profile
	if CLI.Profile {
		logger.Debug("writing memory profile", "filename", CLI.ProfileOut)
		logger.Info(fmt.Sprintf("analyze with: go tool pprof -http=:8080 %s", CLI.ProfileOut))
		f, err := os.Create(CLI.ProfileOut)
		if err != nil {
			logger.Error("error creating memory profile", "error", err)
			return
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			logger.Error("error writing memory profile", "error", err)
		}
	}
}

// config returns the configuration of a profiled run
func config(parallelism int, hook unwrap.TelemetryHook) *unwrap.Config {
	return unwrap.NewConfig(
		unwrap.WithCacheInMemory(CLI.CacheInMemory),
		unwrap.WithCreateDestination(true),
		unwrap.WithMaxExtractionSize(-1), // disable check for profiling
		unwrap.WithMaxInputSize(-1),      // disable check for profiling
		unwrap.WithParallelism(parallelism),
		unwrap.WithTelemetryHook(hook),
	)
}

// profileRun unwraps the input into a temporary directory and measures the duration
func profileRun(ctx context.Context, logger *slog.Logger, input string, parallelism int) (int64, *unwrap.TelemetryData, error) {

	// create temporary directory
	tmp, err := os.MkdirTemp("", "unwrap-bench-*")
	if err != nil {
		return -1, nil, fmt.Errorf("error creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	var td *unwrap.TelemetryData
	cfg := config(parallelism, func(_ context.Context, d *unwrap.TelemetryData) { td = d })

	start := time.Now()
	if err := unwrap.Unpack(ctx, input, tmp, cfg); err != nil {
		return -1, nil, errors.Wrapf(err, "error unwrapping %s", input)
	}
	duration := time.Since(start)

	logger.Debug("run finished", "input", input, "parallelism", parallelism, "duration", fmt.Sprintf("%dms", duration.Milliseconds()))
	return duration.Milliseconds(), td, nil
}

// compareRuns unwraps the input sequentially and in parallel at the same time and
// compares both outputs
func compareRuns(ctx context.Context, input string) error {
	seqDir, err := os.MkdirTemp("", "unwrap-seq-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(seqDir)
	parDir, err := os.MkdirTemp("", "unwrap-par-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(parDir)

	noop := func(context.Context, *unwrap.TelemetryData) {}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return unwrap.Unpack(ctx, input, seqDir, config(1, noop))
	})
	eg.Go(func() error {
		return unwrap.Unpack(ctx, input, parDir, config(slices.Max(CLI.Parallelism), noop))
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	return compareDirectories(seqDir, parDir)
}

// compareDirectories compares file names and sizes of two directories
func compareDirectories(a string, b string) error {
	filesA, err := listFiles(a)
	if err != nil {
		return err
	}
	filesB, err := listFiles(b)
	if err != nil {
		return err
	}
	if len(filesA) != len(filesB) {
		return fmt.Errorf("%d files in sequential output, %d in parallel output", len(filesA), len(filesB))
	}
	for path, size := range filesA {
		other, ok := filesB[path]
		if !ok {
			return fmt.Errorf("file %s not found in parallel output", path)
		}
		if size != other {
			return fmt.Errorf("file %s has different size in parallel output", path)
		}
	}
	return nil
}

// listFiles returns the sizes of all files below dir
func listFiles(dir string) (map[string]int64, error) {
	files := map[string]int64{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "Error walking directory")
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files[strings.TrimPrefix(path, dir)] = info.Size()
		return nil
	})
	return files, err
}

// sortedKeys returns the keys of the given map in sorted order
func sortedKeys(m map[string][]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// minOf returns the minimum value of the given slice
func minOf(slice []int64) int64 {
	m := int64(math.MaxInt64)
	for _, value := range slice {
		m = min(m, value)
	}
	return m
}

// maxOf returns the maximum value of the given slice
func maxOf(slice []int64) int64 {
	m := int64(math.MinInt64)
	for _, value := range slice {
		m = max(m, value)
	}
	return m
}

// avg returns the average of the given slice
func avg(slice []int64) int64 {
	var sum int64
	for _, value := range slice {
		sum += value
	}
	return sum / int64(len(slice))
}

// std returns the standard deviation of the given slice
func std(slice []int64) float64 {
	avg := avg(slice)
	var sum float64
	for _, value := range slice {
		sum += math.Pow(float64(value)-float64(avg), 2)
	}
	return math.Sqrt(sum / float64(len(slice)))
}
