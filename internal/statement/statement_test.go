package statement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/schema"
)

var cols = []string{"name", "city", "age"}

func TestBuildInsert(t *testing.T) {
	st, err := BuildInsert("uploaded_data", cols, map[string]string{"name": "ann", "age": "31"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "uploaded_data" ("name", "city", "age") VALUES (?, ?, ?)`, st.SQL)
	assert.Equal(t, []interface{}{"ann", "", "31"}, st.Args)
	assert.True(t, st.Mutates)
}

func TestBuildInsertNoColumns(t *testing.T) {
	_, err := BuildInsert("uploaded_data", nil, map[string]string{"a": "b"})
	assert.ErrorIs(t, err, apperr.ErrNoColumns)
}

func TestBuildInsertUnknownColumn(t *testing.T) {
	_, err := BuildInsert("uploaded_data", cols, map[string]string{"name); DROP TABLE x; --": "v"})
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
}

func TestBuildUpdateParameterOrder(t *testing.T) {
	set := schema.UpdateSet{{Column: "city", Value: "Oslo"}, {Column: "name", Value: ""}, {Column: "age", Value: "40"}}
	filters := schema.FilterSet{{Column: "name", Value: "ann"}, {Column: "city", Value: "Bergen"}}

	st, err := BuildUpdate("uploaded_data", cols, set, filters)
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "uploaded_data" SET "city" = ?, "age" = ? WHERE "name" = ? AND "city" = ?`,
		st.SQL)
	assert.Equal(t, []interface{}{"Oslo", "40", "ann", "Bergen"}, st.Args)
}

func TestBuildUpdateEmptySets(t *testing.T) {
	_, err := BuildUpdate("uploaded_data", cols, schema.UpdateSet{{Column: "city", Value: ""}}, schema.FilterSet{{Column: "name", Value: "a"}})
	assert.ErrorIs(t, err, apperr.ErrEmptyUpdateSet)

	_, err = BuildUpdate("uploaded_data", cols, schema.UpdateSet{{Column: "city", Value: "x"}}, nil)
	assert.ErrorIs(t, err, apperr.ErrEmptyFilterSet)
}

func TestBuildDelete(t *testing.T) {
	filters := schema.FilterSet{{Column: "age", Value: "3"}, {Column: "name", Value: "bo"}, {Column: "city", Value: "x"}}
	st, err := BuildDelete("uploaded_data", cols, filters)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "uploaded_data" WHERE "age" = ? AND "name" = ? AND "city" = ?`, st.SQL)
	assert.Len(t, st.Args, len(filters))
	assert.Equal(t, []interface{}{"3", "bo", "x"}, st.Args)

	_, err = BuildDelete("uploaded_data", cols, schema.FilterSet{})
	assert.ErrorIs(t, err, apperr.ErrEmptyFilterSet)
}

func TestBuildDeleteUnknownFilterColumn(t *testing.T) {
	_, err := BuildDelete("uploaded_data", cols, schema.FilterSet{{Column: "1=1 OR name", Value: "x"}})
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
}

func TestBuildExists(t *testing.T) {
	st, err := BuildExists("uploaded_data", cols, schema.FilterSet{{Column: "city", Value: "x"}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT 1 FROM "uploaded_data" WHERE "city" = ? LIMIT 1`, st.SQL)
	assert.False(t, st.Mutates)
}

func TestQuoteIdentifierEscapes(t *testing.T) {
	assert.Equal(t, `"a""b"`, quoteIdentifier(`a"b`))
}
