// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/hashicorp/go-unwrap/texture"
)

var (
	// ErrMaxExtractionSizeExceeded indicates that the maximum size over all persisted payloads is exceeded.
	ErrMaxExtractionSizeExceeded = errors.New("maximum extraction size exceeded")

	// ErrMaxInputSizeExceeded indicates that an input file is larger than the configured maximum.
	ErrMaxInputSizeExceeded = errors.New("maximum input size exceeded")
)

// ConfigOption is a function pointer to implement the option pattern
type ConfigOption func(*Config)

// Config provides a configuration struct and options to adjust the configuration.
//
// The configuration struct holds all configuration options for the unwrap process.
// The configuration options can be adjusted using the option pattern style.
//
// The default configuration is designed to be safe for untrusted game data: output is
// limited in size, recursion is bounded and carving backs off after repeated failures.
type Config struct {
	// cacheInMemory offers the option to enable/disable caching in memory. This applies only
	// to inputs that are provided as a non seekable stream.
	cacheInMemory bool

	// carveFailureThreshold is the number of consecutive carving failures of a format after
	// which carving is skipped for that format.
	carveFailureThreshold int

	// create destination directory if it does not exist
	createDestination bool

	// customCreateDirMode is the file mode for created directories (respecting umask)
	customCreateDirMode fs.FileMode

	// customFileMode is the file mode for persisted payloads (respecting umask)
	customFileMode fs.FileMode

	// logger stream for the unwrap process
	logger logger

	// maxDepth is the maximum nesting of archives and compression layers. Deeper
	// payloads are persisted as they are. Set value to -1 to disable the check.
	maxDepth int

	// maxExtractionSize is the maximum size over all persisted payloads. It is also the
	// output limit of a single decompression.
	// Set value to -1 to disable the check.
	maxExtractionSize int64

	// maxInputSize is the maximum size of an input file
	// Set value to -1 to disable the check.
	maxInputSize int64

	// Define if files should be overwritten in the destination
	overwrite bool

	// parallelism is the number of concurrent tasks per dispatch
	parallelism int

	// skipDuplicates drops payloads whose content was already persisted
	skipDuplicates bool

	// smallArchiveThreshold is the number of files up to which an archive is unwrapped sequentially
	smallArchiveThreshold int

	// telemetryHook is a function to consume telemetry data after finished unwrap process
	// Important: do not adjust this value after the process started
	telemetryHook TelemetryHook

	// textureHook receives every persisted texture payload
	textureHook texture.Handler
}

// CacheInMemory returns true if caching in memory is enabled. This applies only to
// inputs that are provided as a stream.
//
// If set to false, the cache is stored on disk to avoid memory exhaustion.
func (c *Config) CacheInMemory() bool {
	return c.cacheInMemory
}

// CarveFailureThreshold returns the number of consecutive carving failures after which
// carving is skipped for a format.
func (c *Config) CarveFailureThreshold() int {
	return c.carveFailureThreshold
}

// CheckExtractionSize checks if size exceeds configured maximum. If the maximum is exceeded,
// a [ErrMaxExtractionSizeExceeded] error is returned.
func (c *Config) CheckExtractionSize(size int64) error {

	// check if disabled
	if c.MaxExtractionSize() == -1 {
		return nil
	}

	// check value
	if size > c.MaxExtractionSize() {
		return ErrMaxExtractionSizeExceeded
	}
	return nil
}

// CheckInputSize checks if size exceeds configured maximum. If the maximum is exceeded,
// a [ErrMaxInputSizeExceeded] error is returned.
func (c *Config) CheckInputSize(size int64) error {
	if c.MaxInputSize() == -1 {
		return nil
	}
	if size > c.MaxInputSize() {
		return ErrMaxInputSizeExceeded
	}
	return nil
}

// CreateDestination returns true if the destination directory should be
// created if it does not exist.
func (c *Config) CreateDestination() bool {
	return c.createDestination
}

// CustomCreateDirMode returns the file mode for created directories. (respecting umask)
func (c *Config) CustomCreateDirMode() fs.FileMode {
	return c.customCreateDirMode
}

// CustomFileMode returns the file mode for persisted payloads. (respecting umask)
func (c *Config) CustomFileMode() fs.FileMode {
	return c.customFileMode
}

// Logger returns the logger.
func (c *Config) Logger() logger {
	return c.logger
}

// MaxDepth returns the maximum nesting depth.
func (c *Config) MaxDepth() int {
	return c.maxDepth
}

// MaxExtractionSize returns the maximum size over all persisted payloads.
func (c *Config) MaxExtractionSize() int64 {
	return c.maxExtractionSize
}

// MaxInputSize returns the maximum size of an input file.
func (c *Config) MaxInputSize() int64 {
	return c.maxInputSize
}

// Overwrite returns true if files should be overwritten in the destination.
func (c *Config) Overwrite() bool {
	return c.overwrite
}

// Parallelism returns the number of concurrent tasks per dispatch. A value of 1
// processes everything sequentially and in a deterministic order.
func (c *Config) Parallelism() int {
	return c.parallelism
}

// SkipDuplicates returns true if payloads with already persisted content are dropped.
func (c *Config) SkipDuplicates() bool {
	return c.skipDuplicates
}

// SmallArchiveThreshold returns the number of files up to which an archive is unwrapped
// sequentially.
func (c *Config) SmallArchiveThreshold() int {
	return c.smallArchiveThreshold
}

// TelemetryHook returns the telemetry hook.
func (c *Config) TelemetryHook() TelemetryHook {
	if c.telemetryHook == nil {
		return defaultTelemetryHook
	}
	return c.telemetryHook
}

// TextureHook returns the texture hook, or nil if none is configured.
func (c *Config) TextureHook() texture.Handler {
	return c.textureHook
}

const (
	defaultCacheInMemory         = false         // cache on disk
	defaultCarveFailureThreshold = 5             // skip carving after 5 failures in a row
	defaultCreateDestination     = false         // don't create destination directory
	defaultCustomCreateDirMode   = 0750          // default directory permissions rwxr-x---
	defaultCustomFileMode        = 0640          // default file permissions rw-r-----
	defaultMaxDepth              = 16            // nesting levels
	defaultMaxExtractionSize     = 1 << (10 * 3) // 1 Gb
	defaultMaxInputSize          = 1 << (10 * 3) // 1 Gb
	defaultOverwrite             = false         // don't overwrite existing files
	defaultParallelism           = 4             // concurrent tasks
	defaultSkipDuplicates        = false         // persist every payload
	defaultSmallArchiveThreshold = 30            // sequential for small archives
)

var (
	// slog to discard
	defaultLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	// no operation telemetry hook
	defaultTelemetryHook = func(ctx context.Context, d *TelemetryData) {
		// noop
	}
)

// NewConfig is a generator option that takes opts as adjustments of the
// default configuration in an option pattern style.
func NewConfig(opts ...ConfigOption) *Config {

	// setup default values
	config := &Config{
		cacheInMemory:         defaultCacheInMemory,
		carveFailureThreshold: defaultCarveFailureThreshold,
		createDestination:     defaultCreateDestination,
		customCreateDirMode:   defaultCustomCreateDirMode,
		customFileMode:        defaultCustomFileMode,
		logger:                defaultLogger,
		maxDepth:              defaultMaxDepth,
		maxExtractionSize:     defaultMaxExtractionSize,
		maxInputSize:          defaultMaxInputSize,
		overwrite:             defaultOverwrite,
		parallelism:           defaultParallelism,
		skipDuplicates:        defaultSkipDuplicates,
		smallArchiveThreshold: defaultSmallArchiveThreshold,
		telemetryHook:         defaultTelemetryHook,
	}

	// Loop through each option
	for _, opt := range opts {
		opt(config)
	}

	return config
}

// WithCacheInMemory options pattern function to enable/disable caching in memory.
// This applies only to inputs that are provided as a stream.
//
// If set to false, the cache is stored on disk to avoid memory exhaustion.
func WithCacheInMemory(cache bool) ConfigOption {
	return func(c *Config) {
		c.cacheInMemory = cache
	}
}

// WithCarveFailureThreshold options pattern function to set the number of consecutive
// carving failures after which carving is skipped for a format. Values below 1 are ignored.
func WithCarveFailureThreshold(n int) ConfigOption {
	return func(c *Config) {
		if n > 0 {
			c.carveFailureThreshold = n
		}
	}
}

// WithCreateDestination options pattern function to create
// destination directory if it does not exist.
func WithCreateDestination(create bool) ConfigOption {
	return func(c *Config) {
		c.createDestination = create
	}
}

// WithCustomCreateDirMode options pattern function to set the file mode
// for created directories. (respecting umask)
func WithCustomCreateDirMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) {
		c.customCreateDirMode = mode
	}
}

// WithCustomFileMode options pattern function to set the file mode for persisted
// payloads. (respecting umask)
func WithCustomFileMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) {
		c.customFileMode = mode
	}
}

// WithLogger options pattern function to set a custom logger.
func WithLogger(logger logger) ConfigOption {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithMaxDepth options pattern function to set the maximum nesting of archives and
// compression layers. (-1 to disable check)
func WithMaxDepth(depth int) ConfigOption {
	return func(c *Config) {
		c.maxDepth = depth
	}
}

// WithMaxExtractionSize options pattern function to set maximum size over all
// persisted payloads. (-1 to disable check)
func WithMaxExtractionSize(maxExtractionSize int64) ConfigOption {
	return func(c *Config) {
		c.maxExtractionSize = maxExtractionSize
	}
}

// WithMaxInputSize options pattern function to set MaxInputSize for input files. (-1 to disable check)
func WithMaxInputSize(maxInputSize int64) ConfigOption {
	return func(c *Config) {
		c.maxInputSize = maxInputSize
	}
}

// WithOverwrite options pattern function specify if files should be overwritten in the destination.
func WithOverwrite(enable bool) ConfigOption {
	return func(c *Config) {
		c.overwrite = enable
	}
}

// WithParallelism options pattern function to set the number of concurrent tasks per
// dispatch. Values below 1 are ignored.
func WithParallelism(n int) ConfigOption {
	return func(c *Config) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithSkipDuplicates options pattern function to drop payloads whose content was
// already persisted during the same run.
func WithSkipDuplicates(skip bool) ConfigOption {
	return func(c *Config) {
		c.skipDuplicates = skip
	}
}

// WithSmallArchiveThreshold options pattern function to set the number of files up to
// which an archive is unwrapped sequentially.
func WithSmallArchiveThreshold(n int) ConfigOption {
	return func(c *Config) {
		if n >= 0 {
			c.smallArchiveThreshold = n
		}
	}
}

// WithTelemetryHook options pattern function to set a [TelemetryHook], which is called after the unwrap process.
func WithTelemetryHook(hook TelemetryHook) ConfigOption {
	return func(c *Config) {
		c.telemetryHook = hook
	}
}

// WithTextureHook options pattern function to hand every persisted texture payload to
// the decode stage. The hook is called concurrently.
func WithTextureHook(hook texture.Handler) ConfigOption {
	return func(c *Config) {
		c.textureHook = hook
	}
}
