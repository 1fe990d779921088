//go:build !cgo_sqlite

package sqlitedb

// This file is compiled by default. It uses the pure Go SQLite
// implementation, which requires no C compiler and cross-compiles
// cleanly at the cost of slower query execution.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
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
