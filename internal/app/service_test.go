package app

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/auth"
	"github.com/koba/sheetql/internal/candidate"
	"github.com/koba/sheetql/internal/executor"
	"github.com/koba/sheetql/internal/schema"
	"github.com/koba/sheetql/internal/sheet"
	"github.com/koba/sheetql/internal/store"
)

var (
	admin  = &auth.Session{Username: "admin", Role: auth.RoleAdmin}
	viewer = &auth.Session{Username: "viewer", Role: auth.RoleViewer}
)

type fakeGenerator struct {
	reply   candidate.Candidate
	columns []string
}

func (f *fakeGenerator) Generate(_ context.Context, columns []string, _ string) (candidate.Candidate, error) {
	f.columns = columns
	return f.reply, nil
}

func openStore(t *testing.T) *sql.DB {
	t.Helper()
	db, closeFn, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(closeFn)
	return db
}

func newService(t *testing.T, gen *fakeGenerator) (*Service, *sql.DB) {
	t.Helper()
	db := openStore(t)
	svc := New(db, Options{
		Executor:  executor.New(executor.WithAttempts(2), executor.WithDelay(time.Millisecond)),
		Generator: gen,
	})
	_, _, err := svc.loader.Load(context.Background(), svc.Table(), &sheet.Sheet{
		Headers: []string{"Name", "City"},
		Rows:    [][]string{{"Ann", "Oslo"}, {"Bo", "Rome"}},
	})
	require.NoError(t, err)
	return svc, db
}

func filter(pairs ...string) schema.FilterSet {
	var f schema.FilterSet
	for i := 0; i+1 < len(pairs); i += 2 {
		f = append(f, schema.Pair{Column: pairs[i], Value: pairs[i+1]})
	}
	return f
}

func update(pairs ...string) schema.UpdateSet {
	return schema.UpdateSet(filter(pairs...))
}

func selectWhere(t *testing.T, svc *Service, sql string) *executor.Result {
	t.Helper()
	ans, err := svc.RunCandidate(context.Background(), admin, candidate.Candidate{Kind: candidate.Executable, Text: sql})
	require.NoError(t, err)
	return ans.Result
}

func TestIntrospectSchema(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	ts, err := svc.IntrospectSchema(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "city"}, ts.ColumnNames())

	_, err = svc.IntrospectSchema(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	empty := New(openStore(t), Options{})
	_, err = empty.IntrospectSchema(ctx, admin)
	assert.ErrorIs(t, err, apperr.ErrSchemaUnavailable)
}

func TestInsertRoundTrip(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	n, err := svc.InsertRecord(ctx, admin, map[string]string{"name": "Cy", "city": "Lima"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	res := selectWhere(t, svc, `SELECT * FROM uploaded_data WHERE name = 'Cy' AND city = 'Lima'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, schema.Row{"Cy", "Lima"}, res.Rows[0])
}

func TestInsertMissingValueIsEmptyText(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.InsertRecord(context.Background(), admin, map[string]string{"name": "Di"})
	require.NoError(t, err)

	res := selectWhere(t, svc, `SELECT city FROM uploaded_data WHERE name = 'Di'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "", res.Rows[0][0])
}

func TestInsertRejects(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.InsertRecord(ctx, viewer, map[string]string{"name": "Cy"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = svc.InsertRecord(ctx, admin, map[string]string{"age": "3"})
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
}

func TestUpdateIsIdempotent(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	set := update("city", "Paris", "name", "")
	where := filter("name", "Ann")

	for i := 0; i < 2; i++ {
		n, err := svc.UpdateRecord(ctx, admin, set, where)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}

	res, err := svc.Rows(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, []schema.Row{{"Ann", "Paris"}, {"Bo", "Rome"}}, res.Rows)
}

func TestLeadingZerosRoundTrip(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, _, err := svc.loader.Load(ctx, svc.Table(), &sheet.Sheet{
		Headers: []string{"Name", "Zip Code"},
		Rows:    [][]string{{"Ann", "0123"}, {"Bo", "4567"}},
	})
	require.NoError(t, err)

	_, err = svc.InsertRecord(ctx, admin, map[string]string{"name": "Cy", "zip_code": "0042"})
	require.NoError(t, err)

	n, err := svc.UpdateRecord(ctx, admin, update("zip_code", "0999"), filter("name", "Ann"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	res, err := svc.Rows(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, []schema.Row{{"Ann", "0999"}, {"Bo", "4567"}, {"Cy", "0042"}}, res.Rows)

	n, err = svc.DeleteRecord(ctx, admin, filter("zip_code", "0042"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUpdateNoMatch(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.UpdateRecord(ctx, admin, update("city", "Paris"), filter("name", "Zed"))
	assert.ErrorIs(t, err, apperr.ErrNoMatchingRecord)

	res, err := svc.Rows(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, []schema.Row{{"Ann", "Oslo"}, {"Bo", "Rome"}}, res.Rows)
}

func TestEmptySetsNeverTouchStore(t *testing.T) {
	// A nil database would panic if any statement reached it.
	svc := New(nil, Options{})
	ctx := context.Background()

	_, err := svc.UpdateRecord(ctx, admin, update("city", "Paris"), nil)
	assert.ErrorIs(t, err, apperr.ErrEmptyFilterSet)

	_, err = svc.UpdateRecord(ctx, admin, update("city", ""), filter("name", "Ann"))
	assert.ErrorIs(t, err, apperr.ErrEmptyUpdateSet)

	_, err = svc.DeleteRecord(ctx, admin, schema.FilterSet{})
	assert.ErrorIs(t, err, apperr.ErrEmptyFilterSet)
}

func TestDelete(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.DeleteRecord(ctx, viewer, filter("name", "Bo"))
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	n, err := svc.DeleteRecord(ctx, admin, filter("name", "Bo", "city", "Rome"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.DeleteRecord(ctx, admin, filter("name", "Bo"))
	assert.ErrorIs(t, err, apperr.ErrNoMatchingRecord)

	_, err = svc.DeleteRecord(ctx, admin, filter("name; DROP TABLE uploaded_data", "x"))
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
}

func TestMutationUnderHeldLock(t *testing.T) {
	svc, db := newService(t, nil)
	ctx := context.Background()

	holder, err := db.Conn(ctx)
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)

	_, err = svc.DeleteRecord(ctx, admin, filter("name", "Ann"))
	assert.ErrorIs(t, err, apperr.ErrTransientLockTimeout)

	_, err = holder.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	n, err := svc.DeleteRecord(ctx, admin, filter("name", "Ann"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUploadAndExport(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("First Name,Age\nEve,30\nFay,41\n"), 0644))

	_, _, err := svc.Upload(ctx, viewer, path)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	ts, n, err := svc.Upload(ctx, admin, path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"first_name", "age"}, ts.ColumnNames())

	info, err := svc.LoadInfo(ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, "people.csv", info["source"])
	assert.Equal(t, "2", info["rows"])

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, viewer, sheet.FormatCSV, &buf))
	assert.Equal(t, "first_name,age\nEve,30\nFay,41\n", buf.String())
}
