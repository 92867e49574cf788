package nlsql

import (
	"fmt"
	"strings"
)

const promptTemplate = `You translate questions about a spreadsheet into SQLite queries.

The only table you may use is named %[1]s. Never use any other table name.
Columns of %[1]s, in order: %[2]s

Rules:
1. Use only columns from the list above.
2. The query must be valid SQLite. Place ORDER BY after UNION ALL if present.
3. Compare text case-insensitively with LOWER(column) LIKE LOWER('%%value%%') so partial values match.
4. Use CASE to map short forms to full forms.
5. Alias computed values, for example AVG(price) AS avg_price.
6. If the question is a yes/no question, answer "Yes" or "No" instead of a query.
7. If the question is irrelevant or cannot be answered from this data, answer:
   "Sorry, I can't answer that question based on the provided data."

Reply with a single JSON object and nothing else:
{"kind": "sql" | "yes_no" | "refusal", "text": "<the query or the answer>"}`

// BuildPrompt renders the system prompt for table and its columns.
func BuildPrompt(table string, columns []string) string {
	return fmt.Sprintf(promptTemplate, table, strings.Join(columns, ", "))
}
