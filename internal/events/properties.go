package events

import (
	"strings"

	"github.com/tidwall/gjson"
)

// JSONPath builds the SQLite JSON path addressing a top-level key. Keys containing a
// double quote have no SQLite path form; check ValidJSONKey first.
func JSONPath(key string) string {
	return `$."` + key + `"`
}

// ValidJSONKey reports whether key can be addressed in SQL through JSONPath.
func ValidJSONKey(key string) bool {
	return !strings.Contains(key, `"`)
}

// PropertyText returns the text form of a custom property, and false when the document
// is not valid JSON or the key is missing or null. Numbers are rendered canonically,
// so 1e3 and 1000 both read "1000"; booleans read "true" and "false".
func PropertyText(doc *string, key string) (string, bool) {
	if doc == nil || !gjson.Valid(*doc) {
		return "", false
	}
	res := gjson.Get(*doc, gjsonPath(key))
	if !res.Exists() || res.Type == gjson.Null {
		return "", false
	}
	return res.String(), true
}

// gjsonPath makes a property key safe to use as a single gjson path component.
func gjsonPath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
