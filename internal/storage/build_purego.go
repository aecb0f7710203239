//go:build !cgo_sqlite
// +build !cgo_sqlite

package storage

// Compiled by default, without CGO.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// The pure Go driver needs no C compiler and cross-compiles everywhere,
// at some cost in query throughput.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
