package grammar

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/satishbabariya/gorel/query/ast"
)

// compileWhere dispatches on the node kind. Unknown kinds are a compile error.
func (g *base) compileWhere(w ast.Where) (string, error) {
	switch w := w.(type) {
	case *ast.Basic:
		return g.Wrap(w.Column) + " " + w.Operator + " " + g.Parameter(w.Value), nil
	case *ast.ColumnCompare:
		return g.Wrap(w.First) + " " + w.Operator + " " + g.Wrap(w.Second), nil
	case *ast.RawClause:
		return w.Expr.SQL(), nil
	case *ast.Null:
		if w.Not {
			return g.Wrap(w.Column) + " is not null", nil
		}
		return g.Wrap(w.Column) + " is null", nil
	case *ast.Between:
		op := " between "
		if w.Not {
			op = " not between "
		}
		return g.Wrap(w.Column) + op + g.Parameter(w.Min) + " and " + g.Parameter(w.Max), nil
	case *ast.In:
		if len(w.Values) == 0 {
			if w.Not {
				return "1 = 1", nil
			}
			return "0 = 1", nil
		}
		op := " in ("
		if w.Not {
			op = " not in ("
		}
		return g.Wrap(w.Column) + op + g.parameterize(w.Values) + ")", nil
	case *ast.InSub:
		sub, err := g.compileSubquery(w.Query)
		if err != nil {
			return "", err
		}
		op := " in ("
		if w.Not {
			op = " not in ("
		}
		return g.Wrap(w.Column) + op + sub + ")", nil
	case *ast.Sub:
		sub, err := g.compileSubquery(w.Query)
		if err != nil {
			return "", err
		}
		return g.Wrap(w.Column) + " " + w.Operator + " (" + sub + ")", nil
	case *ast.Nested:
		conds, err := g.compileConditions(w.Query.Wheres)
		if err != nil {
			return "", err
		}
		if w.Not {
			return "not (" + conds + ")", nil
		}
		return "(" + conds + ")", nil
	case *ast.Exists:
		sub, err := g.compileSubquery(w.Query)
		if err != nil {
			return "", err
		}
		if w.Not {
			return "not exists (" + sub + ")", nil
		}
		return "exists (" + sub + ")", nil
	case *ast.DatePart:
		return g.self.whereDatePart(w)
	case *ast.Regexp:
		return g.self.whereRegexp(w)
	case *ast.FullText:
		return g.self.whereFullText(w)
	case *ast.JSONContains:
		return g.self.whereJSONContains(w)
	case *ast.JSONLength:
		return g.self.whereJSONLength(w)
	}
	return "", fmt.Errorf("%w: %T", ErrUnknownWhere, w)
}

// splitJSON separates `field->a->b` into the field and its path segments.
func splitJSON(value string) (string, []string) {
	segments := strings.Split(value, "->")
	path := segments[1:]
	for i, p := range path {
		path[i] = strings.Trim(strings.TrimSpace(p), `'"`)
	}
	return strings.TrimSpace(segments[0]), path
}

// jsonPath renders path segments as a `$."a"."b"` path literal.
func jsonPath(path []string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, p := range path {
		if _, err := strconv.Atoi(p); err == nil {
			b.WriteString("[" + p + "]")
			continue
		}
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(p, `'`, `''`), `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('\'')
	return b.String()
}

func jsonEncode(value any) any {
	if ast.IsRaw(value) {
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	return string(data)
}
