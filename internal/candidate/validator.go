package candidate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pingcap/parser"
	"github.com/pingcap/parser/ast"
	"github.com/pingcap/parser/mysql"
	_ "github.com/pingcap/parser/test_driver"

	"github.com/koba/sheetql/internal/apperr"
	"github.com/koba/sheetql/internal/statement"
)

// placeholderTable is the generic identifier some generators emit instead of
// the real table name.
const placeholderTable = "table_name"

var placeholderPattern = regexp.MustCompile(`(?i)\b` + placeholderTable + `\b`)

// Validator gates executable candidates: one statement, of an allowed kind,
// referencing only the permitted table.
type Validator struct {
	table              string
	rewritePlaceholder bool
}

// NewValidator creates a Validator for table. When rewritePlaceholder is set
// the identifier table_name is replaced by table before checking, which also
// rewrites any column that happens to be called table_name.
func NewValidator(table string, rewritePlaceholder bool) *Validator {
	return &Validator{table: strings.ToLower(table), rewritePlaceholder: rewritePlaceholder}
}

// Check returns the statement to execute for an Executable candidate. The SQL
// text is passed on unmodified apart from the optional placeholder rewrite.
// readOnly restricts the candidate to SELECT.
func (v *Validator) Check(c Candidate, readOnly bool) (statement.Statement, error) {
	if c.Kind != Executable {
		return statement.Statement{}, fmt.Errorf("candidate of kind %s is not executable", c.Kind)
	}

	sql := strings.TrimSpace(c.Text)
	if v.rewritePlaceholder {
		sql = placeholderPattern.ReplaceAllString(sql, v.table)
	}

	info, err := inspectParsed(sql)
	if err != nil {
		info = inspectText(sql, v.table)
	}

	if !info.allowed {
		if info.reason != "" {
			return statement.Statement{}, apperr.New(apperr.KindForbiddenStatement, "%s", info.reason)
		}
		return statement.Statement{}, apperr.New(apperr.KindForbiddenStatement,
			"only a single SELECT, INSERT, UPDATE or DELETE statement can be run")
	}
	if readOnly && info.mutates {
		return statement.Statement{}, apperr.New(apperr.KindForbiddenStatement,
			"your role may only run read queries")
	}
	if err := v.checkTables(info.tables); err != nil {
		return statement.Statement{}, err
	}

	return statement.Statement{SQL: sql, Mutates: info.mutates}, nil
}

func (v *Validator) checkTables(tables []string) error {
	if len(tables) == 0 {
		return apperr.New(apperr.KindWrongTableReference,
			"the generated query doesn't refer to the %s table", v.table)
	}
	for _, t := range tables {
		if t != v.table {
			return apperr.New(apperr.KindWrongTableReference,
				"the generated query refers to %s; only %s may be queried", t, v.table)
		}
	}
	return nil
}

type statementInfo struct {
	allowed bool
	mutates bool
	tables  []string
	reason  string
}

// inspectParsed walks the statement's syntax tree. Double quotes are read as
// identifiers, as SQLite does.
func inspectParsed(sql string) (*statementInfo, error) {
	p := parser.New()
	p.SetSQLMode(mysql.ModeANSIQuotes)
	stmts, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, err
	}

	info := &statementInfo{}
	if len(stmts) != 1 {
		return info, nil
	}

	switch stmts[0].(type) {
	case *ast.SelectStmt, *ast.UnionStmt:
		info.allowed = true
	case *ast.InsertStmt, *ast.UpdateStmt, *ast.DeleteStmt:
		info.allowed = true
		info.mutates = true
	}

	c := &tableCollector{}
	stmts[0].Accept(c)
	info.tables = c.tables
	return info, nil
}

type tableCollector struct {
	tables []string
}

func (c *tableCollector) Enter(n ast.Node) (ast.Node, bool) {
	if t, ok := n.(*ast.TableName); ok {
		name := t.Name.L
		if s := t.Schema.L; s != "" && s != "main" {
			name = s + "." + name
		}
		c.tables = append(c.tables, name)
	}
	return n, false
}

func (c *tableCollector) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

var (
	mutatingPattern = regexp.MustCompile(`\b(insert|update|delete)\b|\breplace\s+into\b`)
	wordPattern     = regexp.MustCompile(`[a-z0-9_$]+|[(),.;]`)
	readKeywords    = map[string]bool{"select": true, "with": true}
	writeKeywords   = map[string]bool{"insert": true, "update": true, "delete": true, "replace": true}

	// tableKeywords are followed by a table reference.
	tableKeywords = map[string]bool{"from": true, "join": true, "into": true, "update": true}

	// fromEnd words close the table list opened by FROM at the same nesting depth.
	fromEnd = map[string]bool{
		"where": true, "group": true, "having": true, "order": true, "limit": true,
		"window": true, "union": true, "intersect": true, "except": true,
		"returning": true, "set": true, "values": true, "select": true,
	}
)

// inspectText is the fallback for SQLite syntax the parser does not accept.
// It works on the text with literals and comments removed, collects every
// table named after FROM, JOIN, INTO, UPDATE or a comma in a FROM list, and
// accepts only reads. Names defined by a WITH clause resolve to the permitted
// table; their bodies are checked like the rest of the query.
func inspectText(sql, table string) *statementInfo {
	stripped := strings.ToLower(removeStringsAndComments(sql))
	stripped = strings.TrimRight(strings.TrimSpace(stripped), "; \t\r\n")

	info := &statementInfo{}
	if strings.Contains(stripped, ";") {
		return info
	}
	first := firstWord(stripped)
	if !readKeywords[first] || mutatingPattern.MatchString(stripped) {
		// Writes the parser could not read are never run.
		info.mutates = writeKeywords[first] || mutatingPattern.MatchString(stripped)
		if info.mutates {
			info.reason = "this write query could not be verified and was not run"
		}
		return info
	}

	toks := wordPattern.FindAllString(stripped, -1)
	ctes := map[string]bool{}
	if first == "with" {
		names, ok := cteNames(toks)
		if !ok {
			return info
		}
		for _, n := range names {
			ctes[n] = true
		}
	}

	refs, ok := tableRefs(toks)
	if !ok {
		return info
	}
	info.allowed = true
	for _, ref := range refs {
		switch {
		case ctes[ref]:
			ref = table
		case strings.HasPrefix(ref, "main."):
			ref = strings.TrimPrefix(ref, "main.")
		}
		info.tables = append(info.tables, ref)
	}
	return info
}

// tableRefs returns the names in table position, schema-qualified names as
// schema.name. It fails when a table position
// holds something other than a name or a subquery.
func tableRefs(toks []string) ([]string, bool) {
	var (
		refs   []string
		depth  int
		expect bool
		froms  []int
	)
	inFrom := func() bool { return len(froms) > 0 && froms[len(froms)-1] == depth }

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		switch {
		case tok == "(":
			if expect && i+1 < len(toks) && (toks[i+1] == "select" || toks[i+1] == "with" || toks[i+1] == "values") {
				expect = false
			}
			depth++
		case tok == ")":
			if expect {
				return nil, false
			}
			for inFrom() {
				froms = froms[:len(froms)-1]
			}
			depth--
		case expect:
			if !isIdent(tok) {
				return nil, false
			}
			name := tok
			if i+2 < len(toks) && toks[i+1] == "." && isIdent(toks[i+2]) {
				name = tok + "." + toks[i+2]
				i += 2
			}
			refs = append(refs, name)
			expect = false
		case tok == ",":
			if inFrom() {
				expect = true
			}
		case tableKeywords[tok]:
			expect = true
			if tok == "from" && !inFrom() {
				froms = append(froms, depth)
			}
		case fromEnd[tok]:
			if inFrom() {
				froms = froms[:len(froms)-1]
			}
		}
	}
	if expect {
		return nil, false
	}
	return refs, true
}

// cteNames returns the names defined by a leading WITH clause.
func cteNames(toks []string) ([]string, bool) {
	i := 1
	if i < len(toks) && toks[i] == "recursive" {
		i++
	}
	var names []string
	for {
		if i >= len(toks) || !isIdent(toks[i]) {
			return nil, false
		}
		names = append(names, toks[i])
		i++
		if i < len(toks) && toks[i] == "(" {
			if i = skipParens(toks, i); i < 0 {
				return nil, false
			}
		}
		if i >= len(toks) || toks[i] != "as" {
			return nil, false
		}
		i++
		for i < len(toks) && (toks[i] == "not" || toks[i] == "materialized") {
			i++
		}
		if i >= len(toks) || toks[i] != "(" {
			return nil, false
		}
		if i = skipParens(toks, i); i < 0 {
			return nil, false
		}
		if i < len(toks) && toks[i] == "," {
			i++
			continue
		}
		return names, true
	}
}

// skipParens returns the index after the parenthesis opened at toks[i], or -1
// when it is never closed.
func skipParens(toks []string, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i] {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func isIdent(tok string) bool {
	switch tok {
	case "(", ")", ",", ".", ";", "select", "values", "where", "on", "using":
		return false
	}
	return true
}

// removeStringsAndComments blanks out quoted literals and comments so that
// keyword and table scans only see SQL structure. Quoted identifiers keep
// their content.
func removeStringsAndComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'':
			j := i + 1
			for j < len(sql) {
				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			b.WriteString("''")
			i = j
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				return b.String()
			}
			b.WriteByte(' ')
			i += j - 1
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				return b.String()
			}
			b.WriteByte(' ')
			i += j + 3
		case ch == '"' || ch == '`' || ch == '[':
			b.WriteByte(' ')
		case ch == ']':
			b.WriteByte(' ')
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
