package statement

import (
	"fmt"
	"strings"

	"github.com/koba/sheetql/internal/schema"
)

// BuildCreateTable builds the CREATE TABLE for an uploaded sheet. Names come
// from header normalization, not from free user text, and are quoted.
func BuildCreateTable(tableSchema *schema.TableSchema) (string, error) {
	if len(tableSchema.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", tableSchema.Name)
	}

	parts := make([]string, len(tableSchema.Columns))
	for i, col := range tableSchema.Columns {
		parts[i] = columnDefinition(col)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)",
		quoteIdentifier(tableSchema.Name),
		strings.Join(parts, ",\n  "),
	), nil
}

// BuildDropTable builds DROP TABLE IF EXISTS for table.
func BuildDropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(table))
}

func columnDefinition(col schema.Column) string {
	if col.Type == "" {
		return quoteIdentifier(col.Name)
	}
	return quoteIdentifier(col.Name) + " " + col.Type
}
