package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/koba/sheetql/internal/app"
	"github.com/koba/sheetql/internal/candidate"
	"github.com/koba/sheetql/internal/executor"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/sheet"
)

// parsePairs turns col=value arguments into an ordered set. Column names are
// normalized the same way upload headers are.
func parsePairs(args []string) (schema.FilterSet, error) {
	pairs := make(schema.FilterSet, 0, len(args))
	for _, arg := range args {
		i := strings.IndexByte(arg, '=')
		if i <= 0 {
			return nil, fmt.Errorf("expected col=value, got %q", arg)
		}
		pairs = append(pairs, schema.Pair{
			Column: schema.NormalizeColumnName(arg[:i]),
			Value:  arg[i+1:],
		})
	}
	return pairs, nil
}

func printSchema(w io.Writer, ts *schema.TableSchema) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tCOLUMN\tTYPE\n")
	for i, col := range ts.Columns {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, col.Name, col.Type)
	}
	tw.Flush()
}

func printResult(w io.Writer, res *executor.Result) {
	if len(res.Columns) == 0 {
		fmt.Fprintf(w, "%d row(s) affected\n", res.RowsAffected)
		return
	}
	if res.Empty() {
		fmt.Fprintln(w, "No data found matching your query.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	cells := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, v := range row {
			cells[i] = sheet.FormatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}

// printAnswer shows the outcome of a question and passes err through.
func printAnswer(w io.Writer, ans *app.Answer, err error) error {
	if ans == nil {
		return err
	}
	switch ans.Kind {
	case candidate.Refusal:
		fmt.Fprintf(w, "Warning: %s\n", ans.Text)
	case candidate.YesNoAnswer:
		fmt.Fprintln(w, ans.Text)
	case candidate.Executable:
		fmt.Fprintf(w, "Generated SQL Query: %s\n", ans.Text)
		if ans.Result != nil && ans.Result.OK() {
			printResult(w, ans.Result)
		}
	}
	return err
}
