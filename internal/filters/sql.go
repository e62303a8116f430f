package filters

import (
	"strings"

	"statsq/internal/events"
)

const sqlTrue = "1=1"

// ToSQL compiles a filter tree into a WHERE fragment over the events table. Every value
// is bound as an argument. Leaves that SQLite cannot evaluate with the same semantics
// are widened (down to TRUE), which keeps the fragment a superset of the predicate
// because the tree only combines leaves with AND and OR. Callers must still apply the
// predicate returned by Compile to the rows read.
func ToSQL(filters []Filter, table *SymbolTable) (string, []any, error) {
	nodes, err := build(filters, table, "filters")
	if err != nil {
		return "", nil, err
	}
	if len(nodes) == 0 {
		return "", nil, nil
	}
	clause, args := levelSQL(nodes)
	return clause, args, nil
}

func levelSQL(nodes []node) (string, []any) {
	if len(nodes) == 0 {
		return sqlTrue, nil
	}
	acc, args := nodes[0].sql()
	acc = "(" + acc + ")"
	for _, n := range nodes[1:] {
		clause, more := n.sql()
		op := " AND "
		if n.logical == LogicalOr {
			op = " OR "
		}
		acc = "(" + acc + op + "(" + clause + "))"
		args = append(args, more...)
	}
	return acc, args
}

func (n node) sql() (string, []any) {
	if n.leaf == nil {
		return levelSQL(n.children)
	}
	return n.leaf.sql()
}

func (l *leaf) sql() (string, []any) {
	var expr string
	var exprArgs []any
	switch l.field.Kind {
	case Custom:
		if !events.ValidJSONKey(l.field.Key) {
			return sqlTrue, nil
		}
		expr = "(CASE WHEN json_valid(custom_properties) THEN json_extract(custom_properties, ?) END)"
		exprArgs = []any{events.JSONPath(l.field.Key)}
	default:
		expr = l.field.Column
	}
	with := func(clause string, args ...any) (string, []any) {
		all := make([]any, 0, len(args)+len(exprArgs)*strings.Count(clause, "%s"))
		for i := 0; i < strings.Count(clause, "%s"); i++ {
			all = append(all, exprArgs...)
		}
		all = append(all, args...)
		return strings.ReplaceAll(clause, "%s", expr), all
	}

	switch l.condition {
	case ConditionIsNull:
		return with("%s IS NULL")
	case ConditionIsNotNull:
		return with("%s IS NOT NULL")
	}

	// Text comparisons only translate for plain text columns: custom values are typed
	// JSON and revenue has numeric affinity.
	textual := l.field.Kind == BuiltIn && !l.field.numeric

	switch l.condition {
	case ConditionIs:
		parts := make([]string, 0, len(l.values))
		var args []any
		for _, v := range l.values {
			if v.kind == literalNumber {
				parts = append(parts, "CAST(%s AS REAL) = ?")
			} else if textual {
				parts = append(parts, "%s = ?")
			} else {
				parts = append(parts, "%s IS NOT NULL")
			}
			args = append(args, sqlValue(v))
		}
		return withArgsPerPart(expr, exprArgs, parts, args)
	case ConditionIsNot:
		if !textual || hasNumber(l.values) {
			return with("%s IS NOT NULL")
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(l.values)), ", ")
		args := make([]any, 0, len(l.values))
		for _, v := range l.values {
			args = append(args, v.str)
		}
		return with("%s IS NOT NULL AND %s NOT IN ("+placeholders+")", args...)
	case ConditionContains:
		if !textual {
			return with("%s IS NOT NULL")
		}
		return with("%s GLOB ?", "*"+globEscape(l.values[0].str)+"*")
	case ConditionDoesNotContain:
		if !textual {
			return with("%s IS NOT NULL")
		}
		return with("%s IS NOT NULL AND %s NOT GLOB ?", "*"+globEscape(l.values[0].str)+"*")
	case ConditionMatches, ConditionDoesNotMatch:
		return with("%s IS NOT NULL")
	}

	op := map[Condition]string{
		ConditionGreaterThan:        ">",
		ConditionLessThan:           "<",
		ConditionGreaterThanOrEqual: ">=",
		ConditionLessThanOrEqual:    "<=",
	}[l.condition]
	v := l.values[0]
	switch {
	case v.kind == literalNumber:
		return with("CAST(%s AS REAL) "+op+" ?", v.num)
	case textual:
		return with("%s "+op+" ?", v.str)
	default:
		return with("%s IS NOT NULL")
	}
}

// withArgsPerPart ORs the parts of a multi-value leaf, binding the field expression
// arguments for every occurrence of the field.
func withArgsPerPart(expr string, exprArgs []any, parts []string, values []any) (string, []any) {
	clauses := make([]string, 0, len(parts))
	var args []any
	for i, p := range parts {
		for j := 0; j < strings.Count(p, "%s"); j++ {
			args = append(args, exprArgs...)
		}
		if strings.Contains(p, "?") {
			args = append(args, values[i])
		}
		clauses = append(clauses, strings.ReplaceAll(p, "%s", expr))
	}
	if len(clauses) == 1 {
		return clauses[0], args
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}

func sqlValue(v literal) any {
	if v.kind == literalNumber {
		return v.num
	}
	return v.str
}

func hasNumber(values []literal) bool {
	for _, v := range values {
		if v.kind == literalNumber {
			return true
		}
	}
	return false
}

// globEscape quotes GLOB wildcards so the value matches literally.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
