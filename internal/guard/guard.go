// Package guard checks that a filter matches at least one row before an
// update or delete is allowed to run.
package guard

import (
	"context"
	"fmt"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/catalog"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/statement"
)

// Exists reports whether filters match at least one row of table.
func Exists(ctx context.Context, q catalog.Queryer, table string, columns []string, filters schema.FilterSet) (bool, error) {
	st, err := statement.BuildExists(table, columns, filters)
	if err != nil {
		return false, err
	}

	rows, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return found, nil
}

// Require returns apperr.ErrNoMatchingRecord when filters match nothing.
func Require(ctx context.Context, q catalog.Queryer, table string, columns []string, filters schema.FilterSet) error {
	ok, err := Exists(ctx, q, table, columns, filters)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindNoMatchingRecord, "no matching record found")
	}
	return nil
}
