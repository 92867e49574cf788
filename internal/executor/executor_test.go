package executor

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/statement"
	"github.com/koba/sheetql/internal/store"
)

func newStore(tb testing.TB) *sql.DB {
	tb.Helper()
	db, closeFn, err := store.Open(context.Background(), filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatalf("open store: %v", err)
	}
	tb.Cleanup(closeFn)
	if _, err := db.Exec(`CREATE TABLE "uploaded_data" ("name" TEXT, "age" INTEGER)`); err != nil {
		tb.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO "uploaded_data" VALUES ('ann', 31), ('bo', 40)`); err != nil {
		tb.Fatalf("seed: %v", err)
	}
	return db
}

func newTestExecutor(attempts int) (*Executor, *[]time.Duration) {
	var slept []time.Duration
	e := New(WithAttempts(attempts), WithDelay(10*time.Millisecond))
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

// flakyConn fails the first n calls with a lock error, then delegates.
type flakyConn struct {
	Conn
	failures int
	calls    int
	err      error
}

func (f *flakyConn) QueryContext(ctx context.Context, q string, args ...interface{}) (*sql.Rows, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Conn.QueryContext(ctx, q, args...)
}

func (f *flakyConn) ExecContext(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Conn.ExecContext(ctx, q, args...)
}

func TestExecuteSelect(t *testing.T) {
	db := newStore(t)
	e, _ := newTestExecutor(3)

	res := e.Execute(context.Background(), db, statement.Query(`SELECT name, age FROM uploaded_data ORDER BY name`))
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, []string{"name", "age"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "ann", res.Rows[0][0])
	assert.EqualValues(t, 31, res.Rows[0][1])
}

func TestExecuteEmptyResultIsNotAnError(t *testing.T) {
	db := newStore(t)
	e, _ := newTestExecutor(3)

	res := e.Execute(context.Background(), db, statement.Query(`SELECT * FROM uploaded_data WHERE age > 100`))
	assert.True(t, res.OK())
	assert.True(t, res.Empty())
	assert.Equal(t, []string{"name", "age"}, res.Columns)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	db := newStore(t)
	e, slept := newTestExecutor(3)
	conn := &flakyConn{Conn: db, failures: 2, err: errors.New("database is locked (5) (SQLITE_BUSY)")}

	res := e.Execute(context.Background(), conn, statement.Query(`SELECT count(*) FROM uploaded_data`))
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, 3, conn.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, *slept)
	assert.EqualValues(t, 2, res.Rows[0][0])
}

func TestExecuteExhaustsBudget(t *testing.T) {
	db := newStore(t)
	e, slept := newTestExecutor(3)
	conn := &flakyConn{Conn: db, failures: 3, err: errors.New("database is locked")}

	res := e.Execute(context.Background(), conn, statement.Query(`SELECT 1`))
	require.False(t, res.OK())
	assert.Equal(t, apperr.KindTransientLockTimeout, res.Kind())
	assert.Equal(t, 3, conn.calls)
	assert.Len(t, *slept, 2)
}

func TestExecuteNonLockErrorIsNotRetried(t *testing.T) {
	db := newStore(t)
	e, slept := newTestExecutor(3)

	res := e.Execute(context.Background(), db, statement.Query(`SELECT * FROM missing_table`))
	require.False(t, res.OK())
	assert.Equal(t, apperr.KindExecution, res.Kind())
	assert.Contains(t, res.Err.Error(), "missing_table")
	assert.Empty(t, *slept)
}

func TestExecuteMutationReportsRowsAffected(t *testing.T) {
	db := newStore(t)
	e, _ := newTestExecutor(3)

	res := e.Execute(context.Background(), db, statement.Statement{
		SQL:     `UPDATE uploaded_data SET age = ? WHERE name = ?`,
		Args:    []interface{}{"50", "bo"},
		Mutates: true,
	})
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.EqualValues(t, 1, res.RowsAffected)
}

func TestExecuteAgainstHeldWriteLock(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	holder, err := db.Conn(ctx)
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)
	defer holder.ExecContext(ctx, "ROLLBACK")

	e, slept := newTestExecutor(3)
	res := e.Execute(ctx, db, statement.Statement{
		SQL:     `INSERT INTO uploaded_data VALUES (?, ?)`,
		Args:    []interface{}{"cy", "7"},
		Mutates: true,
	})
	require.False(t, res.OK())
	assert.Equal(t, apperr.KindTransientLockTimeout, res.Kind())
	assert.Len(t, *slept, 2)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	e := New(WithAttempts(5), WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Retry(ctx, func() error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsLocked(t *testing.T) {
	assert.True(t, IsLocked(errors.New("database is locked")))
	assert.True(t, IsLocked(errors.New("Database Table Is Locked")))
	assert.False(t, IsLocked(errors.New("no such table: x")))
	assert.False(t, IsLocked(nil))
}
