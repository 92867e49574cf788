// Package candidate decides what to do with text produced by the
// natural-language-to-SQL generator: show it as a refusal, show it as a
// yes/no answer, or execute it as SQL once it has been checked against the
// permitted table.
package candidate

import (
	"strings"
	"unicode"
)

// Kind is the classification of a generator response.
type Kind int

const (
	// Untagged means the generator did not say what it returned.
	Untagged Kind = iota
	Refusal
	YesNoAnswer
	Executable
)

func (k Kind) String() string {
	switch k {
	case Refusal:
		return "refusal"
	case YesNoAnswer:
		return "yes_no"
	case Executable:
		return "sql"
	default:
		return "untagged"
	}
}

// ParseKind maps a wire tag (refusal, yes_no, sql) to a Kind. Unknown tags
// are Untagged.
func ParseKind(tag string) Kind {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "refusal":
		return Refusal
	case "yes_no", "yesno":
		return YesNoAnswer
	case "sql":
		return Executable
	default:
		return Untagged
	}
}

// Candidate is one generator response. It is produced per question and
// consumed once.
type Candidate struct {
	Kind Kind
	Text string
}

// maxYesNoWords bounds how long a literal yes/no answer may be.
const maxYesNoWords = 4

var sqlKeywords = map[string]bool{
	"select": true, "with": true, "insert": true, "update": true,
	"delete": true, "replace": true, "create": true, "drop": true,
	"alter": true, "pragma": true, "attach": true, "detach": true,
	"vacuum": true, "explain": true, "begin": true, "commit": true,
	"rollback": true, "reindex": true, "analyze": true, "values": true,
}

// Resolve returns c with its Kind filled in. Tagged candidates are trusted
// as to their kind; untagged text goes through Classify.
func Resolve(c Candidate) Candidate {
	c.Text = strings.TrimSpace(c.Text)
	if c.Kind != Untagged {
		return c
	}
	return Classify(c.Text)
}

// Classify is the compatibility shim for generators that return plain text.
// Text that does not open with a SQL keyword is a refusal when it mentions
// "sorry" and a yes/no answer when it is a short literal yes or no. Anything
// else is treated as SQL and still has to pass Validator.Check.
func Classify(text string) Candidate {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	if !startsWithKeyword(lower) {
		if strings.Contains(lower, "sorry") {
			return Candidate{Kind: Refusal, Text: text}
		}
		if isYesNo(lower) {
			return Candidate{Kind: YesNoAnswer, Text: text}
		}
	}
	return Candidate{Kind: Executable, Text: text}
}

func startsWithKeyword(lower string) bool {
	return sqlKeywords[firstWord(lower)]
}

func isYesNo(lower string) bool {
	words := strings.Fields(lower)
	if len(words) == 0 || len(words) > maxYesNoWords {
		return false
	}
	first := strings.TrimFunc(words[0], func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return first == "yes" || first == "no"
}

func firstWord(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end < 0 {
		return s
	}
	return s[:end]
}
