// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// TelemetryData holds all telemetry data of an unwrap run.
type TelemetryData struct {
	// ArchivesUnpacked is the number of parsed archives, including carved ones
	ArchivesUnpacked int64 `json:"archives_unpacked"`

	// CarvedRegions is the number of regions recovered by carving
	CarvedRegions int64 `json:"carved_regions"`

	// CarvingScans is the number of carving scans that were performed
	CarvingScans int64 `json:"carving_scans"`

	// CarvingSkipped is the number of carving attempts skipped after repeated failures
	CarvingSkipped int64 `json:"carving_skipped"`

	// Decompressions is the number of decoded compression layers
	Decompressions int64 `json:"decompressions"`

	// DecodeErrors is the number of failed decompressions
	DecodeErrors int64 `json:"decode_errors"`

	// Duplicates is the number of payloads dropped because their content was already persisted
	Duplicates int64 `json:"duplicates"`

	// ExtractionDuration is the time it took to process the input
	ExtractionDuration time.Duration `json:"extraction_duration"`

	// ExtractionErrors is the number of item-level errors
	ExtractionErrors int64 `json:"extraction_errors"`

	// ExtractionSize is the size of the persisted payloads
	ExtractionSize int64 `json:"extraction_size"`

	// InputFiles is the number of processed input files
	InputFiles int64 `json:"input_files"`

	// InputSize is the size of the processed input files
	InputSize int64 `json:"input_size"`

	// LastExtractionError is the last error during the run
	LastExtractionError error `json:"last_extraction_error"`

	// LearnedFormats is the number of descriptors added to the learned set
	LearnedFormats int64 `json:"learned_formats"`

	// MalformedArchives is the number of archives that failed to parse
	MalformedArchives int64 `json:"malformed_archives"`

	// PersistedFiles is the number of persisted payloads
	PersistedFiles int64 `json:"persisted_files"`

	// SkippedInputs is the number of input files that exceeded the input size limit
	SkippedInputs int64 `json:"skipped_inputs"`

	// TexturePayloads is the number of persisted texture payloads
	TexturePayloads int64 `json:"texture_payloads"`

	// UnknownFiles is the number of persisted payloads of unknown format
	UnknownFiles int64 `json:"unknown_files"`
}

// String returns a string representation of [TelemetryData].
func (m TelemetryData) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// MarshalJSON implements the [encoding/json.Marshaler] interface.
func (m TelemetryData) MarshalJSON() ([]byte, error) {
	var lastError string
	if m.LastExtractionError != nil {
		lastError = m.LastExtractionError.Error()
	}

	type Alias TelemetryData
	return json.Marshal(&struct {
		LastExtractionError string `json:"last_extraction_error"`
		*Alias
	}{
		LastExtractionError: lastError,
		Alias:               (*Alias)(&m),
	})
}

// TelemetryHook is a function type that performs operations on [TelemetryData]
// after a run has finished which can be used to submit the [TelemetryData]
// to a telemetry service, for example.
type TelemetryHook func(context.Context, *TelemetryData)

// Equals returns true if the counters of the given [TelemetryData] are equal to the
// receiver. Duration and last error are not compared.
func (td *TelemetryData) Equals(other *TelemetryData) bool {
	if td == nil && other == nil {
		return true
	}
	if td == nil || other == nil {
		return false
	}
	return td.ArchivesUnpacked == other.ArchivesUnpacked &&
		td.CarvedRegions == other.CarvedRegions &&
		td.CarvingScans == other.CarvingScans &&
		td.CarvingSkipped == other.CarvingSkipped &&
		td.Decompressions == other.Decompressions &&
		td.DecodeErrors == other.DecodeErrors &&
		td.Duplicates == other.Duplicates &&
		td.ExtractionErrors == other.ExtractionErrors &&
		td.ExtractionSize == other.ExtractionSize &&
		td.InputFiles == other.InputFiles &&
		td.InputSize == other.InputSize &&
		td.LearnedFormats == other.LearnedFormats &&
		td.MalformedArchives == other.MalformedArchives &&
		td.PersistedFiles == other.PersistedFiles &&
		td.SkippedInputs == other.SkippedInputs &&
		td.TexturePayloads == other.TexturePayloads &&
		td.UnknownFiles == other.UnknownFiles
}

// telemetry collects the counters of a run from concurrent tasks.
type telemetry struct {
	archives       atomic.Int64
	carved         atomic.Int64
	carveSkipped   atomic.Int64
	decompressions atomic.Int64
	decodeErrors   atomic.Int64
	duplicates     atomic.Int64
	errors         atomic.Int64
	size           atomic.Int64
	inputFiles     atomic.Int64
	inputSize      atomic.Int64
	malformed      atomic.Int64
	persisted      atomic.Int64
	skippedInputs  atomic.Int64
	textures       atomic.Int64
	unknown        atomic.Int64

	mu      sync.Mutex
	lastErr error
}

// recordError counts an item-level error and remembers it.
func (t *telemetry) recordError(err error) {
	t.errors.Add(1)
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

// data returns a snapshot of the counters.
func (t *telemetry) data() *TelemetryData {
	t.mu.Lock()
	lastErr := t.lastErr
	t.mu.Unlock()
	return &TelemetryData{
		ArchivesUnpacked:    t.archives.Load(),
		CarvedRegions:       t.carved.Load(),
		CarvingSkipped:      t.carveSkipped.Load(),
		Decompressions:      t.decompressions.Load(),
		DecodeErrors:        t.decodeErrors.Load(),
		Duplicates:          t.duplicates.Load(),
		ExtractionErrors:    t.errors.Load(),
		ExtractionSize:      t.size.Load(),
		InputFiles:          t.inputFiles.Load(),
		InputSize:           t.inputSize.Load(),
		LastExtractionError: lastErr,
		MalformedArchives:   t.malformed.Load(),
		PersistedFiles:      t.persisted.Load(),
		SkippedInputs:       t.skippedInputs.Load(),
		TexturePayloads:     t.textures.Load(),
		UnknownFiles:        t.unknown.Load(),
	}
}
