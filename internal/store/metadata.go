package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// MetadataTable records where the active table came from. It is rewritten on
// every load.
const MetadataTable = "sheetql_metadata"

const createMetadataTable = `
	CREATE TABLE IF NOT EXISTS ` + MetadataTable + ` (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)
`

// Conn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteMetadata replaces the stored metadata with meta.
func WriteMetadata(ctx context.Context, conn Conn, meta map[string]string) error {
	if _, err := conn.ExecContext(ctx, createMetadataTable); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM "+MetadataTable); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, err := conn.ExecContext(ctx, "INSERT INTO "+MetadataTable+" (key, value) VALUES (?, ?)", k, meta[k])
		if err != nil {
			return fmt.Errorf("failed to insert metadata: %w", err)
		}
	}
	return nil
}

// ReadMetadata returns the stored metadata, or an empty map when nothing has
// been loaded yet.
func ReadMetadata(ctx context.Context, conn Conn) (map[string]string, error) {
	meta := make(map[string]string)

	var n int
	row, err := conn.QueryContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", MetadataTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	if row.Next() {
		if err := row.Scan(&n); err != nil {
			row.Close()
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
	}
	row.Close()
	if n == 0 {
		return meta, nil
	}

	rows, err := conn.QueryContext(ctx, "SELECT key, value FROM "+MetadataTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta[key] = value
	}
	return meta, rows.Err()
}
