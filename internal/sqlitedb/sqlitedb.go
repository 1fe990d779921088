// Package sqlitedb provides shared SQLite connection helpers for the
// index stores and the read-only source database. Driver selection is a
// build-time choice between the pure Go and cgo implementations.
package sqlitedb

import (
	"database/sql"
	"fmt"
)

// Open opens (creating if needed) a writable SQLite database with the
// settings every index store uses: WAL journaling and a single
// connection, since SQLite benefits from a single writer.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// OpenReadOnly opens an existing SQLite database in read-only mode. The
// source message store is never written through this handle.
func OpenReadOnly(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}
