//go:build cgo_sqlite
// +build cgo_sqlite

package storage

// Compiled when building with CGO and the cgo_sqlite tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags cgo_sqlite ./...
//
// The C driver is noticeably faster on large snippet tables and is the
// recommended configuration for production deployments.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
