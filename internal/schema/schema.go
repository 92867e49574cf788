package schema

// Column represents a column of the active table
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // SQLite affinity: INTEGER, REAL or TEXT
	Position int    `json:"position"`
}

// TableSchema represents the shape of the active table
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnNames returns the column names in table order
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Row is a single row of values aligned to a column list
type Row []interface{}

// Pair binds a column to a scalar text value
type Pair struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// FilterSet selects rows by exact equality on every pair, in order
type FilterSet []Pair

// UpdateSet assigns new values to columns, in order
type UpdateSet []Pair

// Columns returns the column names of the pairs in order
func (f FilterSet) Columns() []string {
	return pairColumns(f)
}

// Values returns the values of the pairs in order
func (f FilterSet) Values() []interface{} {
	return pairValues(f)
}

// Compact drops pairs with an empty value. Blank form fields mean "leave as
// is" for updates.
func (u UpdateSet) Compact() UpdateSet {
	out := make(UpdateSet, 0, len(u))
	for _, p := range u {
		if p.Value != "" {
			out = append(out, p)
		}
	}
	return out
}

// Columns returns the column names of the pairs in order
func (u UpdateSet) Columns() []string {
	return pairColumns(u)
}

// Values returns the values of the pairs in order
func (u UpdateSet) Values() []interface{} {
	return pairValues(u)
}

func pairColumns(pairs []Pair) []string {
	cols := make([]string, len(pairs))
	for i, p := range pairs {
		cols[i] = p.Column
	}
	return cols
}

func pairValues(pairs []Pair) []interface{} {
	vals := make([]interface{}, len(pairs))
	for i, p := range pairs {
		vals[i] = p.Value
	}
	return vals
}
