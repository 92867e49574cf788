// Package statement builds parameterized statements against the active
// table. Values are always bound as positional parameters; identifiers must
// come from the schema catalog and are checked against it before use.
package statement

import (
	"fmt"
	"strings"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/catalog"
	"github.com/koba/sheetql/internal/schema"
)

// Statement is SQL text plus its bound parameters.
type Statement struct {
	SQL     string
	Args    []interface{}
	Mutates bool
}

// Query returns a read statement with no parameters.
func Query(sql string) Statement {
	return Statement{SQL: sql}
}

// BuildInsert builds a single-row INSERT naming every table column. Columns
// without a value in values are inserted as empty text.
func BuildInsert(table string, columns []string, values map[string]string) (Statement, error) {
	if len(columns) == 0 {
		return Statement{}, apperr.New(apperr.KindNoColumns, "table %s has no columns", table)
	}
	for col := range values {
		if !catalog.Allow(columns, col) {
			return Statement{}, unknownColumn(table, col)
		}
	}

	names := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		names[i] = quoteIdentifier(col)
		placeholders[i] = "?"
		args[i] = values[col]
	}

	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdentifier(table),
			strings.Join(names, ", "),
			strings.Join(placeholders, ", "),
		),
		Args:    args,
		Mutates: true,
	}, nil
}

// BuildUpdate builds UPDATE ... SET ... WHERE ... with parameters ordered as
// the update values followed by the filter values. Blank update values are
// dropped first.
func BuildUpdate(table string, columns []string, set schema.UpdateSet, filters schema.FilterSet) (Statement, error) {
	set = set.Compact()
	if len(set) == 0 {
		return Statement{}, apperr.New(apperr.KindEmptyUpdateSet, "enter at least one value to update")
	}
	if len(filters) == 0 {
		return Statement{}, apperr.New(apperr.KindEmptyFilterSet, "provide at least one filter condition")
	}
	if err := checkColumns(table, columns, set.Columns()); err != nil {
		return Statement{}, err
	}
	where, err := buildWhereClause(table, columns, filters)
	if err != nil {
		return Statement{}, err
	}

	setClauses := make([]string, len(set))
	for i, p := range set {
		setClauses[i] = fmt.Sprintf("%s = ?", quoteIdentifier(p.Column))
	}

	args := append(set.Values(), filters.Values()...)
	return Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			quoteIdentifier(table),
			strings.Join(setClauses, ", "),
			where,
		),
		Args:    args,
		Mutates: true,
	}, nil
}

// BuildDelete builds DELETE FROM ... WHERE ... with parameters in filter order.
func BuildDelete(table string, columns []string, filters schema.FilterSet) (Statement, error) {
	if len(filters) == 0 {
		return Statement{}, apperr.New(apperr.KindEmptyFilterSet, "provide at least one filter to delete")
	}
	where, err := buildWhereClause(table, columns, filters)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:     fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdentifier(table), where),
		Args:    filters.Values(),
		Mutates: true,
	}, nil
}

// BuildExists builds SELECT 1 ... WHERE ... LIMIT 1 for the existence guard.
func BuildExists(table string, columns []string, filters schema.FilterSet) (Statement, error) {
	if len(filters) == 0 {
		return Statement{}, apperr.New(apperr.KindEmptyFilterSet, "provide at least one filter condition")
	}
	where, err := buildWhereClause(table, columns, filters)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", quoteIdentifier(table), where),
		Args: filters.Values(),
	}, nil
}

// BuildSelectAll builds a SELECT of every column in table order.
func BuildSelectAll(table string, columns []string) (Statement, error) {
	if len(columns) == 0 {
		return Statement{}, apperr.New(apperr.KindNoColumns, "table %s has no columns", table)
	}
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = quoteIdentifier(col)
	}
	return Statement{
		SQL: fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), quoteIdentifier(table)),
	}, nil
}

// buildWhereClause conjoins one equality per filter with AND, in filter order.
func buildWhereClause(table string, columns []string, filters schema.FilterSet) (string, error) {
	if err := checkColumns(table, columns, filters.Columns()); err != nil {
		return "", err
	}
	conditions := make([]string, len(filters))
	for i, f := range filters {
		conditions[i] = fmt.Sprintf("%s = ?", quoteIdentifier(f.Column))
	}
	return strings.Join(conditions, " AND "), nil
}

func checkColumns(table string, columns, names []string) error {
	for _, name := range names {
		if !catalog.Allow(columns, name) {
			return unknownColumn(table, name)
		}
	}
	return nil
}

func unknownColumn(table, col string) error {
	return apperr.New(apperr.KindUnknownColumn, "column %q is not part of %s", col, table)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
