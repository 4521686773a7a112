// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package unwrap recovers asset payloads from nested and compressed game data containers.
//
// Every input file is identified by the [Registry], unwrapped layer by layer with the
// parsers of the archive package and the codecs of the codec package, and the irreducible
// payloads are persisted to a [Target] in a tree that mirrors the nesting. Inputs that
// cannot be identified are carved for embedded archives.
//
// Configuration is done using the [Config], which sets the parallelism, the logger, the
// telemetry hook and the resource limits. Telemetry data is captured during the process and
// handed to the [TelemetryHook] once per run.
package unwrap
