// Package catalog introspects the active table from the store's live
// metadata. Nothing is cached: an upload replaces the table wholesale and its
// shape may change between two calls.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/schema"
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Describe reads the column list of table through q. The table name is bound
// as a parameter of the pragma table function, never spliced.
func Describe(ctx context.Context, q Queryer, table string) (*schema.TableSchema, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT cid, name, type FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSchemaUnavailable, err,
			fmt.Sprintf("failed to read schema of %s: %v", table, err))
	}
	defer rows.Close()

	ts := &schema.TableSchema{Name: table, Columns: []schema.Column{}}
	for rows.Next() {
		var col schema.Column
		if err := rows.Scan(&col.Position, &col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	if len(ts.Columns) == 0 {
		return nil, apperr.New(apperr.KindSchemaUnavailable, "table %s does not exist", table)
	}
	return ts, nil
}

// Columns reads the ordered column names of table through q.
func Columns(ctx context.Context, q Queryer, table string) ([]string, error) {
	ts, err := Describe(ctx, q, table)
	if err != nil {
		return nil, err
	}
	return ts.ColumnNames(), nil
}

// Allow reports whether name is one of columns. Identifiers that reach a
// statement must pass this check.
func Allow(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

// Fingerprint hashes the ordered column list so log lines can show which
// table shape a query was generated against.
func Fingerprint(columns []string) uint64 {
	return xxh3.HashString(strings.Join(columns, "\x00"))
}
