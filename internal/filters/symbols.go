package filters

import (
	"sort"

	"statsq/internal/events"
)

// FieldKind tells whether a field is a column of the events table or a custom property.
type FieldKind int

const (
	BuiltIn FieldKind = iota
	Custom
)

// Field is a resolved property name.
type Field struct {
	Name   string
	Kind   FieldKind
	Column string
	// Key is the JSON key for custom fields.
	Key string

	numeric bool
	get     func(*events.Event) (string, bool)
}

// Value returns the field's text form for the event, and false when the field is null.
func (f Field) Value(e *events.Event) (string, bool) {
	return f.get(e)
}

func optional(get func(*events.Event) *string) func(*events.Event) (string, bool) {
	return func(e *events.Event) (string, bool) {
		if v := get(e); v != nil {
			return *v, true
		}
		return "", false
	}
}

func required(get func(*events.Event) string) func(*events.Event) (string, bool) {
	return func(e *events.Event) (string, bool) {
		return get(e), true
	}
}

var builtInFields = map[string]Field{
	"type":         {Column: "type", get: required(func(e *events.Event) string { return string(e.Type) })},
	"path":         {Column: "path", get: required(func(e *events.Event) string { return e.Path })},
	"name":         {Column: "name", get: optional(func(e *events.Event) *string { return e.Name })},
	"hostname":     {Column: "hostname", get: optional(func(e *events.Event) *string { return e.Hostname })},
	"referrer":     {Column: "referrer", get: optional(func(e *events.Event) *string { return e.Referrer })},
	"referrerPath": {Column: "referrer_path", get: optional(func(e *events.Event) *string { return e.ReferrerPath })},
	"utmSource":    {Column: "utm_source", get: optional(func(e *events.Event) *string { return e.UTMSource })},
	"utmMedium":    {Column: "utm_medium", get: optional(func(e *events.Event) *string { return e.UTMMedium })},
	"utmCampaign":  {Column: "utm_campaign", get: optional(func(e *events.Event) *string { return e.UTMCampaign })},
	"utmTerm":      {Column: "utm_term", get: optional(func(e *events.Event) *string { return e.UTMTerm })},
	"utmContent":   {Column: "utm_content", get: optional(func(e *events.Event) *string { return e.UTMContent })},
	"country":      {Column: "country", get: optional(func(e *events.Event) *string { return e.Country })},
	"region":       {Column: "region", get: optional(func(e *events.Event) *string { return e.Region })},
	"city":         {Column: "city", get: optional(func(e *events.Event) *string { return e.City })},
	"device":       {Column: "device", get: optional(func(e *events.Event) *string { return e.Device })},
	"browser":      {Column: "browser", get: optional(func(e *events.Event) *string { return e.Browser })},
	"os":           {Column: "os", get: optional(func(e *events.Event) *string { return e.OS })},
	"language":     {Column: "language", get: optional(func(e *events.Event) *string { return e.Language })},
	"visitorHash":  {Column: "visitor_hash", get: required(func(e *events.Event) string { return e.VisitorHash })},
	"revenue": {Column: "revenue", numeric: true, get: func(e *events.Event) (string, bool) {
		if !e.Revenue.Valid {
			return "", false
		}
		return e.Revenue.Decimal.String(), true
	}},
}

// IsBuiltIn reports whether name is one of the event columns exposed to queries.
func IsBuiltIn(name string) bool {
	_, ok := builtInFields[name]
	return ok
}

// BuiltInFields returns the sorted names of the built-in fields.
func BuiltInFields() []string {
	names := make([]string, 0, len(builtInFields))
	for name := range builtInFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type symbolKey struct {
	name   string
	custom bool
}

// SymbolTable resolves property names for one query and records which storage
// columns the query reads. It is filled while planning and read-only afterwards.
// It also owns the regular expressions compiled for the query; Close releases them
// once the query's predicates are no longer used.
type SymbolTable struct {
	fields  map[symbolKey]Field
	columns map[string]bool
	regexes *RegexCache
}

// NewSymbolTable creates an empty SymbolTable
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		fields:  make(map[symbolKey]Field),
		columns: make(map[string]bool),
		regexes: newRegexCache(),
	}
}

// Close frees the compiled regular expressions. Predicates built from the table must
// not be evaluated afterwards.
func (t *SymbolTable) Close() error {
	return t.regexes.close()
}

// Resolve maps a property name to a field. Names outside the built-in list, or any
// name when forceCustom is set, resolve to a custom property lookup.
func (t *SymbolTable) Resolve(name string, forceCustom bool) Field {
	key := symbolKey{name: name, custom: forceCustom}
	if f, ok := t.fields[key]; ok {
		return f
	}

	var f Field
	if b, ok := builtInFields[name]; ok && !forceCustom {
		f = b
		f.Name = name
		f.Kind = BuiltIn
	} else {
		f = customField(name)
	}
	t.fields[key] = f
	t.columns[f.Column] = true
	return f
}

// RequiredColumns returns the sorted storage columns referenced so far.
func (t *SymbolTable) RequiredColumns() []string {
	cols := make([]string, 0, len(t.columns))
	for c := range t.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func customField(key string) Field {
	return Field{
		Name:   key,
		Kind:   Custom,
		Column: "custom_properties",
		Key:    key,
		get: func(e *events.Event) (string, bool) {
			return events.PropertyText(e.CustomProperties, key)
		},
	}
}
