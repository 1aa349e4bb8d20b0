// Package sqltext tokenizes SQL text just enough to find positional placeholders.
package sqltext

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// SQLLexer splits SQL into literals, quoted identifiers, comments, placeholders and plain text.
// Placeholders inside literals, identifiers and comments are not placeholders.
var SQLLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "LineComment", Pattern: `--[^\n]*`},
	{Name: "BlockComment", Pattern: `/\*(?:[^*]|\*+[^*/])*\*+/`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "QuotedIdent", Pattern: `"(?:[^"]|"")*"`},
	{Name: "BacktickIdent", Pattern: "`(?:[^`]|``)*`"},
	{Name: "Placeholder", Pattern: `\?`},
	{Name: "Text", Pattern: "[^'\"`?/-]+"},
	{Name: "Punct", Pattern: "['\"`/-]"},
})

var placeholder = SQLLexer.Symbols()["Placeholder"]

// tokens lexes sql, returning nil if the input cannot be tokenized.
func tokens(sql string) []lexer.Token {
	lex, err := SQLLexer.LexString("", sql)
	if err != nil {
		return nil
	}
	toks, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil
	}
	return toks
}

// CountPlaceholders returns the number of positional `?` markers in sql.
func CountPlaceholders(sql string) int {
	toks := tokens(sql)
	if toks == nil {
		return strings.Count(sql, "?")
	}
	n := 0
	for _, t := range toks {
		if t.Type == placeholder {
			n++
		}
	}
	return n
}

// Rebind rewrites `?` markers into numbered `$n` markers.
func Rebind(sql string) string {
	if !strings.Contains(sql, "?") {
		return sql
	}
	toks := tokens(sql)
	if toks == nil {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	for _, t := range toks {
		if t.EOF() {
			break
		}
		if t.Type == placeholder {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteString(t.Value)
	}
	return b.String()
}
