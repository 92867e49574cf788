// Package store opens the embedded SQLite file that holds the active table.
//
// Connections are opened without a busy timeout so lock contention surfaces
// immediately as SQLITE_BUSY and is handled by the retrying executor, and
// transactions start IMMEDIATE so a check-then-write unit holds the write
// lock from its first statement.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// DSN builds the driver connection string for path. The path is
// percent-encoded because the driver opens it as a file: URI.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(0)")
	q.Add("_txlock", "immediate")
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}

// Open opens (creating if needed) the store file at path and verifies it with
// a ping. The returned close function releases the pool.
func Open(ctx context.Context, path string) (*sql.DB, func(), error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("store: path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, DSN(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping store: %w", err)
	}

	closeFn := func() { db.Close() }
	return db, closeFn, nil
}
