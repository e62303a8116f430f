package filters

import (
	"fmt"
	"strings"

	"go.elara.ws/pcre"

	"statsq/internal/events"
	"statsq/internal/pkg/apperrors"
)

// Predicate reports whether an event passes a filter tree.
type Predicate func(*events.Event) bool

// MatchAll is the predicate of an empty filter list.
func MatchAll(*events.Event) bool { return true }

type leaf struct {
	field     Field
	condition Condition
	values    []literal
	regex     *pcre.Regexp
}

// node is a compiled filter: a leaf, or a group evaluated left to right.
type node struct {
	logical  Logical
	leaf     *leaf
	children []node
}

// Compile validates a filter tree and returns its predicate. Element i > 0 of every
// level combines with the accumulated result of elements 0..i-1 through its own
// logical tag; the tag of the first element is ignored.
func Compile(filters []Filter, table *SymbolTable) (Predicate, error) {
	nodes, err := build(filters, table, "filters")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return MatchAll, nil
	}
	return func(e *events.Event) bool {
		return evalLevel(nodes, e)
	}, nil
}

func build(filters []Filter, table *SymbolTable, path string) ([]node, error) {
	if err := validateLevel(filters, path); err != nil {
		return nil, err
	}
	return buildLevel(filters, table, path)
}

func buildLevel(filters []Filter, table *SymbolTable, path string) ([]node, error) {
	nodes := make([]node, 0, len(filters))
	for i, f := range filters {
		at := fmt.Sprintf("%s[%d]", path, i)
		n := node{logical: f.Logical}
		if n.logical == "" {
			n.logical = LogicalAnd
		}

		if f.IsGroup() {
			children, err := buildLevel(f.NestedFilters, table, at+".nestedFilters")
			if err != nil {
				return nil, err
			}
			n.children = children
		} else {
			l, err := buildLeaf(f, table, at)
			if err != nil {
				return nil, err
			}
			n.leaf = l
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func buildLeaf(f Filter, table *SymbolTable, at string) (*leaf, error) {
	l := &leaf{
		field:     table.Resolve(f.Property, f.Custom),
		condition: f.Condition,
	}
	if !f.usesValue() {
		return l, nil
	}

	values, _, err := parseValue(f.Value)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".value", "%v", err)
	}
	if l.field.Kind == BuiltIn && l.field.Name == "country" &&
		(f.Condition == ConditionIs || f.Condition == ConditionIsNot) {
		for i := range values {
			if values[i].kind == literalString {
				values[i].str = NormalizeCountry(values[i].str)
			}
		}
	}
	l.values = values

	if f.Condition == ConditionMatches || f.Condition == ConditionDoesNotMatch {
		re, err := table.regexes.get(values[0].str)
		if err != nil {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidRegex, at+".value",
				"invalid regular expression %q: %v", values[0].str, err)
		}
		l.regex = re
	}
	return l, nil
}

func evalLevel(nodes []node, e *events.Event) bool {
	if len(nodes) == 0 {
		return true
	}
	acc := nodes[0].eval(e)
	for _, n := range nodes[1:] {
		if n.logical == LogicalOr {
			acc = acc || n.eval(e)
		} else {
			acc = acc && n.eval(e)
		}
	}
	return acc
}

func (n node) eval(e *events.Event) bool {
	if n.leaf == nil {
		return evalLevel(n.children, e)
	}
	return n.leaf.match(e)
}

func (l *leaf) match(e *events.Event) bool {
	raw, present := l.field.Value(e)
	switch l.condition {
	case ConditionIsNull:
		return !present
	case ConditionIsNotNull:
		return present
	}
	if !present {
		return false
	}

	switch l.condition {
	case ConditionIs:
		return l.equalsAny(raw)
	case ConditionIsNot:
		return !l.equalsAny(raw)
	case ConditionContains:
		return strings.Contains(raw, l.values[0].str)
	case ConditionDoesNotContain:
		return !strings.Contains(raw, l.values[0].str)
	case ConditionMatches:
		return l.regex.MatchString(raw)
	case ConditionDoesNotMatch:
		return !l.regex.MatchString(raw)
	}

	cmp, ok := compare(raw, l.values[0])
	if !ok {
		return false
	}
	switch l.condition {
	case ConditionGreaterThan:
		return cmp > 0
	case ConditionLessThan:
		return cmp < 0
	case ConditionGreaterThanOrEqual:
		return cmp >= 0
	case ConditionLessThanOrEqual:
		return cmp <= 0
	}
	return false
}

func (l *leaf) equalsAny(raw string) bool {
	for _, v := range l.values {
		if cmp, ok := compare(raw, v); ok && cmp == 0 {
			return true
		}
	}
	return false
}

// compare orders a field value against a literal. Number literals cast the field and
// report false when it is not numeric; other literals compare text.
func compare(raw string, v literal) (int, bool) {
	if v.kind == literalNumber {
		n, ok := toNumber(raw)
		if !ok {
			return 0, false
		}
		switch {
		case n < v.num:
			return -1, true
		case n > v.num:
			return 1, true
		default:
			return 0, true
		}
	}
	return strings.Compare(raw, v.str), true
}
