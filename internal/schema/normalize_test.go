package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumnName(t *testing.T) {
	cases := map[string]string{
		"  First Name ":  "first_name",
		"e-mail":         "e_mail",
		"Owner's Phone":  "owners_phone",
		"Café Año":       "cafe_ano",
		"already_snake":  "already_snake",
		"MIXED-Case Col": "mixed_case_col",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeColumnName(in), "input %q", in)
	}
}

func TestNormalizeColumnNamesDeduplicates(t *testing.T) {
	got := NormalizeColumnNames([]string{"Name", "name ", "NAME", "", "Age"})
	assert.Equal(t, []string{"name", "name_2", "name_3", "column_4", "age"}, got)
}

func TestNormalizeColumnNamesSuffixCollision(t *testing.T) {
	got := NormalizeColumnNames([]string{"a", "a_2", "a"})
	assert.Equal(t, []string{"a", "a_2", "a_3"}, got)
}

func TestUpdateSetCompact(t *testing.T) {
	u := UpdateSet{{"a", "1"}, {"b", ""}, {"c", "3"}}
	c := u.Compact()
	assert.Equal(t, []string{"a", "c"}, c.Columns())
	assert.Equal(t, []interface{}{"1", "3"}, c.Values())
}
