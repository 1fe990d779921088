//go:build cgo_sqlite

package sqlitedb

// This file is compiled when building with CGO and the cgo_sqlite tag.
// The C implementation is noticeably faster on large indexes and is the
// recommended configuration for production use.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "cgo_sqlite,fts5" ./...
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
