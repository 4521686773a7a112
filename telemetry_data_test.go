// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unwrap_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-unwrap"
)

// TestDataString tests the String method of the data struct
func TestDataString(t *testing.T) {
	m := unwrap.TelemetryData{
		ArchivesUnpacked:    2,
		ExtractionDuration:  time.Duration(5 * time.Millisecond),
		ExtractionErrors:    1,
		ExtractionSize:      1024,
		InputFiles:          1,
		InputSize:           2048,
		LastExtractionError: fmt.Errorf("example error"),
		PersistedFiles:      5,
	}

	expected := `{"last_extraction_error":"example error","archives_unpacked":2,"carved_regions":0,"carving_scans":0,"carving_skipped":0,"decompressions":0,"decode_errors":0,"duplicates":0,"extraction_duration":5000000,"extraction_errors":1,"extraction_size":1024,"input_files":1,"input_size":2048,"learned_formats":0,"malformed_archives":0,"persisted_files":5,"skipped_inputs":0,"texture_payloads":0,"unknown_files":0}`
	if m.String() != expected {
		t.Errorf("Expected '%s', but got '%s'", expected, m.String())
	}
}

func TestDataEquals(t *testing.T) {
	a := &unwrap.TelemetryData{PersistedFiles: 3, ExtractionDuration: time.Second}
	b := &unwrap.TelemetryData{PersistedFiles: 3, LastExtractionError: fmt.Errorf("ignored")}

	tests := []struct {
		name string
		a, b *unwrap.TelemetryData
		want bool
	}{
		{name: "duration and last error are ignored", a: a, b: b, want: true},
		{name: "different counter", a: a, b: &unwrap.TelemetryData{PersistedFiles: 4}, want: false},
		{name: "both nil", want: true},
		{name: "one nil", a: a, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equals(tt.b); got != tt.want {
				t.Errorf("Equals() = %v, want %v", got, tt.want)
			}
		})
	}
}
