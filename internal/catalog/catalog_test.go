package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/store"
)

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	db, closeFn, err := store.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer closeFn()

	_, err = Columns(ctx, db, "uploaded_data")
	assert.ErrorIs(t, err, apperr.ErrSchemaUnavailable)

	_, err = db.Exec(`CREATE TABLE "uploaded_data" ("name" TEXT, "age" INTEGER)`)
	require.NoError(t, err)

	ts, err := Describe(ctx, db, "uploaded_data")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, ts.ColumnNames())
	assert.Equal(t, "INTEGER", ts.Columns[1].Type)

	// shape changes are visible on the next call
	_, err = db.Exec(`ALTER TABLE "uploaded_data" ADD COLUMN "city" TEXT`)
	require.NoError(t, err)
	cols, err := Columns(ctx, db, "uploaded_data")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "city"}, cols)

	_, err = Columns(ctx, db, "uploaded_data'; DROP TABLE uploaded_data; --")
	assert.ErrorIs(t, err, apperr.ErrSchemaUnavailable)
}

func TestAllow(t *testing.T) {
	cols := []string{"name", "age"}
	assert.True(t, Allow(cols, "age"))
	assert.False(t, Allow(cols, "Age"))
	assert.False(t, Allow(cols, `age" OR 1=1 --`))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"name", "age"})
	assert.Equal(t, a, Fingerprint([]string{"name", "age"}))
	assert.NotEqual(t, a, Fingerprint([]string{"age", "name"}))
	assert.NotEqual(t, Fingerprint([]string{"ab", "c"}), Fingerprint([]string{"a", "bc"}))
}
