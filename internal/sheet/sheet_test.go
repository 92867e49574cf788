package sheet

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/sheetql/internal/catalog"
	"github.com/koba/sheetql/internal/executor"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/statement"
	"github.com/koba/sheetql/internal/store"
)

const people = "\xef\xbb\xbfFirst Name,Age,Score,Home-Town\nAnn,31,4.5,Oslo\nBo,40,,Bergen\n\nCy,7,3\n"

func newLoader(tb testing.TB) (*sql.DB, *Loader) {
	tb.Helper()
	db, closeFn, err := store.Open(context.Background(), filepath.Join(tb.TempDir(), "sheet.db"))
	require.NoError(tb, err)
	tb.Cleanup(closeFn)
	exec := executor.New(executor.WithDelay(time.Millisecond))
	return db, NewLoader(db, exec, nil)
}

func TestReadCSV(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(people))
	require.NoError(t, err)
	assert.Equal(t, []string{"First Name", "Age", "Score", "Home-Town"}, s.Headers)
	require.Len(t, s.Rows, 3)
	assert.Equal(t, []string{"Cy", "7", "3", ""}, s.Rows[2])
}

func TestReadCSVNoHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("\n\n"))
	assert.Error(t, err)
}

func TestInferSchema(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(people))
	require.NoError(t, err)

	ts := InferSchema("uploaded_data", s)
	assert.Equal(t, []string{"first_name", "age", "score", "home_town"}, ts.ColumnNames())
	types := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		types[i] = c.Type
	}
	assert.Equal(t, []string{"TEXT", "INTEGER", "REAL", "TEXT"}, types)
}

func TestInferSchemaKeepsNonCanonicalNumbersText(t *testing.T) {
	s := &Sheet{
		Headers: []string{"zip", "signed", "padded", "exp", "price", "trailing", "count"},
		Rows: [][]string{
			{"0123", "+5", " 7", "1e3", "2.5", "2.50", "10"},
			{"4567", "6", "8", "2", "-0.75", "1.5", ""},
		},
	}
	ts := InferSchema("uploaded_data", s)
	types := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		types[i] = c.Type
	}
	assert.Equal(t, []string{"TEXT", "TEXT", "TEXT", "TEXT", "REAL", "TEXT", "INTEGER"}, types)
}

func TestLoadKeepsLeadingZeros(t *testing.T) {
	db, l := newLoader(t)
	ctx := context.Background()

	_, _, err := l.Load(ctx, "uploaded_data", &Sheet{
		Headers: []string{"Name", "Zip Code"},
		Rows:    [][]string{{"Ann", "0123"}, {"Bo", "4567"}},
	})
	require.NoError(t, err)

	var zips []string
	rows, err := db.Query(`SELECT "zip_code", typeof("zip_code") FROM "uploaded_data" ORDER BY "name"`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var zip, typ string
		require.NoError(t, rows.Scan(&zip, &typ))
		assert.Equal(t, "text", typ)
		zips = append(zips, zip)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"0123", "4567"}, zips)
}

func TestLoadReplacesTable(t *testing.T) {
	db, l := newLoader(t)
	ctx := context.Background()

	s, err := ReadCSV(strings.NewReader(people))
	require.NoError(t, err)
	_, n, err := l.Load(ctx, "uploaded_data", s)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	cols, err := catalog.Columns(ctx, db, "uploaded_data")
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "age", "score", "home_town"}, cols)

	// a second upload with a different shape replaces the first
	s2, err := ReadCSV(strings.NewReader("City,Pop\nOslo,700000\n"))
	require.NoError(t, err)
	s2.Source = "cities.csv"
	_, n, err = l.Load(ctx, "uploaded_data", s2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	cols, err = catalog.Columns(ctx, db, "uploaded_data")
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "pop"}, cols)

	meta, err := store.ReadMetadata(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "cities.csv", meta["source"])
	assert.Equal(t, "1", meta["rows"])
	assert.Equal(t, "city,pop", meta["columns"])
	assert.Equal(t, fmt.Sprintf("%016x", catalog.Fingerprint(cols)), meta["fingerprint"])
	assert.NotEmpty(t, meta["loaded_at"])
}

func TestLoadStoresEmptyCellsAsNull(t *testing.T) {
	db, l := newLoader(t)
	ctx := context.Background()

	s, err := ReadCSV(strings.NewReader(people))
	require.NoError(t, err)
	_, _, err = l.Load(ctx, "uploaded_data", s)
	require.NoError(t, err)

	var nulls int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM uploaded_data WHERE score IS NULL`).Scan(&nulls))
	assert.Equal(t, 1, nulls)
}

func TestReplaceRejectsRaggedRows(t *testing.T) {
	_, l := newLoader(t)
	ts := &schema.TableSchema{Name: "uploaded_data", Columns: []schema.Column{{Name: "a", Type: "TEXT"}, {Name: "b", Type: "TEXT"}}}

	_, err := l.Replace(context.Background(), ts, []schema.Row{{"1"}}, nil)
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	res := &executor.Result{
		Columns: []string{"name", "age", "note"},
		Rows:    []schema.Row{{"ann", int64(31), nil}, {"bo, jr", 4.5, "x"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, "uploaded_data", res))
	assert.Equal(t, "name,age,note\nann,31,\n\"bo, jr\",4.5,x\n", buf.String())
}

func TestXLSXRoundTrip(t *testing.T) {
	db, l := newLoader(t)
	ctx := context.Background()

	s, err := ReadCSV(strings.NewReader(people))
	require.NoError(t, err)
	ts, _, err := l.Load(ctx, "uploaded_data", s)
	require.NoError(t, err)

	sel, err := statement.BuildSelectAll(ts.Name, ts.ColumnNames())
	require.NoError(t, err)
	res := executor.New().Execute(ctx, db, sel)
	require.True(t, res.OK())

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, "uploaded_data", res))

	back, err := ReadXLSX(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "age", "score", "home_town"}, back.Headers)
	require.Len(t, back.Rows, 3)
	assert.Equal(t, "Ann", back.Rows[0][0])
	assert.Equal(t, "Bergen", back.Rows[1][3])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("ods")
	assert.Error(t, err)
}
