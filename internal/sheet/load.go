// Package sheet moves spreadsheets in and out of the store: it parses CSV and
// XLSX uploads into the active table, replacing it wholesale, and writes
// query results back out as CSV or XLSX.
package sheet

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/koba/sheetql/internal/catalog"
	"github.com/koba/sheetql/internal/executor"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/statement"
	"github.com/koba/sheetql/internal/store"
)

// Loader replaces the active table with uploaded data.
type Loader struct {
	db     *sql.DB
	exec   *executor.Executor
	logger *zap.Logger
}

// NewLoader creates a Loader. Lock contention during the replace is retried
// with exec's policy.
func NewLoader(db *sql.DB, exec *executor.Executor, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{db: db, exec: exec, logger: logger}
}

// InferSchema normalizes the headers of s and picks a column affinity from
// the values: INTEGER or REAL when every non-empty value is written the way
// SQLite would print it back, TEXT otherwise. Values such as "0123", "+5" or
// "1e3" keep the column TEXT so they are stored unchanged.
func InferSchema(table string, s *Sheet) *schema.TableSchema {
	names := schema.NormalizeColumnNames(s.Headers)
	ts := &schema.TableSchema{Name: table, Columns: make([]schema.Column, len(names))}
	for i, name := range names {
		ts.Columns[i] = schema.Column{
			Name:     name,
			Type:     inferType(s.Rows, i),
			Position: i,
		}
	}
	return ts
}

func inferType(rows [][]string, col int) string {
	isInt, isReal, seen := true, true, false
	for _, row := range rows {
		v := row[col]
		if v == "" {
			continue
		}
		seen = true
		if isInt && !canonicalInt(v) {
			isInt = false
		}
		if isReal && !canonicalReal(v) {
			isReal = false
		}
		if !isInt && !isReal {
			break
		}
	}
	switch {
	case !seen:
		return "TEXT"
	case isInt:
		return "INTEGER"
	case isReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func canonicalInt(v string) bool {
	n, err := strconv.ParseInt(v, 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == v
}

// canonicalReal accepts integers and plain decimals whose text SQLite
// reproduces exactly: no exponent, no leading zeros, no trailing zeros after
// the point, and at most 15 significant digits.
func canonicalReal(v string) bool {
	if canonicalInt(v) {
		return true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return false
	}
	if !realPattern.MatchString(v) {
		return false
	}
	digits := strings.TrimLeft(strings.Replace(strings.TrimPrefix(v, "-"), ".", "", 1), "0")
	return len(digits) <= 15
}

var realPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)\.[0-9]*[1-9]$`)

// Load replaces table with the contents of s and returns the created schema
// and the number of rows inserted. Empty cells are stored as NULL.
func (l *Loader) Load(ctx context.Context, table string, s *Sheet) (*schema.TableSchema, int64, error) {
	ts := InferSchema(table, s)
	rows := make([]schema.Row, len(s.Rows))
	for i, rec := range s.Rows {
		row := make(schema.Row, len(rec))
		for j, v := range rec {
			if v != "" {
				row[j] = v
			}
		}
		rows[i] = row
	}

	meta := map[string]string{
		"source":    s.Source,
		"loaded_at": time.Now().UTC().Format(time.RFC3339),
		"rows":      strconv.Itoa(len(rows)),
	}
	n, err := l.Replace(ctx, ts, rows, meta)
	if err != nil {
		return nil, 0, err
	}
	return ts, n, nil
}

// Replace drops and recreates the table described by ts and inserts rows, all
// in one transaction. meta is stored as the load metadata together with the
// table name and schema fingerprint.
func (l *Loader) Replace(ctx context.Context, ts *schema.TableSchema, rows []schema.Row, meta map[string]string) (int64, error) {
	create, err := statement.BuildCreateTable(ts)
	if err != nil {
		return 0, err
	}
	insert, err := statement.BuildInsert(ts.Name, ts.ColumnNames(), nil)
	if err != nil {
		return 0, err
	}

	record := map[string]string{
		"table":       ts.Name,
		"columns":     strings.Join(ts.ColumnNames(), ","),
		"fingerprint": fmt.Sprintf("%016x", catalog.Fingerprint(ts.ColumnNames())),
	}
	for k, v := range meta {
		record[k] = v
	}

	var inserted int64
	err = l.exec.Retry(ctx, func() error {
		inserted = 0
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, statement.BuildDropTable(ts.Name)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, insert.SQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, row := range rows {
			if len(row) != len(ts.Columns) {
				return fmt.Errorf("row %d has %d values, table has %d columns", i+1, len(row), len(ts.Columns))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return err
			}
			inserted++
		}
		if err := store.WriteMetadata(ctx, tx, record); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replace table %s: %w", ts.Name, err)
	}

	l.logger.Info("table replaced",
		zap.String("table", ts.Name),
		zap.Int("columns", len(ts.Columns)),
		zap.Int64("rows", inserted),
	)
	return inserted, nil
}
