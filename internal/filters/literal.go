package filters

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type literalKind int

const (
	literalString literalKind = iota
	literalNumber
	literalBool
)

// literal is a filter value after type resolution. The literal's kind decides how
// the field is compared: numbers cast the field, strings and bools compare text.
type literal struct {
	kind literalKind
	str  string
	num  float64
}

func parseValue(v any) ([]literal, bool, error) {
	switch val := v.(type) {
	case []any:
		return parseList(len(val), func(i int) any { return val[i] })
	case []string:
		return parseList(len(val), func(i int) any { return val[i] })
	case []float64:
		return parseList(len(val), func(i int) any { return val[i] })
	case []int:
		return parseList(len(val), func(i int) any { return val[i] })
	}
	lit, err := parseScalar(v)
	if err != nil {
		return nil, false, err
	}
	return []literal{lit}, false, nil
}

func parseList(n int, at func(int) any) ([]literal, bool, error) {
	out := make([]literal, 0, n)
	for i := 0; i < n; i++ {
		lit, err := parseScalar(at(i))
		if err != nil {
			return nil, true, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, lit)
	}
	return out, true, nil
}

func parseScalar(v any) (literal, error) {
	switch val := v.(type) {
	case string:
		return literal{kind: literalString, str: val}, nil
	case bool:
		return literal{kind: literalBool, str: strconv.FormatBool(val)}, nil
	case float64:
		return numberLiteral(val)
	case float32:
		return numberLiteral(float64(val))
	case int:
		return numberLiteral(float64(val))
	case int32:
		return numberLiteral(float64(val))
	case int64:
		return numberLiteral(float64(val))
	case uint:
		return numberLiteral(float64(val))
	case uint64:
		return numberLiteral(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return literal{}, fmt.Errorf("invalid number %q", val.String())
		}
		return numberLiteral(f)
	case nil:
		return literal{}, fmt.Errorf("null is not a valid value")
	default:
		return literal{}, fmt.Errorf("unsupported value of type %T", v)
	}
}

func numberLiteral(f float64) (literal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return literal{}, fmt.Errorf("number must be finite")
	}
	return literal{kind: literalNumber, num: f, str: strconv.FormatFloat(f, 'f', -1, 64)}, nil
}

// toNumber casts a stored text value to a number. Anything that is not a plain
// finite decimal number is treated as null.
func toNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "xX_pP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
