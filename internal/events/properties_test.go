package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsq/internal/events"
	"statsq/internal/testsupport"
)

func TestPropertyText(t *testing.T) {
	tests := []struct {
		name   string
		doc    *string
		key    string
		want   string
		wantOK bool
	}{
		{"string", lo.ToPtr(`{"plan":"pro"}`), "plan", "pro", true},
		{"integer", lo.ToPtr(`{"n":1000}`), "n", "1000", true},
		{"exponent", lo.ToPtr(`{"n":1e3}`), "n", "1000", true},
		{"trailing zero", lo.ToPtr(`{"n":1.50}`), "n", "1.5", true},
		{"boolean", lo.ToPtr(`{"beta":true}`), "beta", "true", true},
		{"dotted key", lo.ToPtr(`{"a.b":"x","a":{"b":"y"}}`), "a.b", "x", true},
		{"json null", lo.ToPtr(`{"plan":null}`), "plan", "", false},
		{"missing key", lo.ToPtr(`{"plan":"pro"}`), "seats", "", false},
		{"malformed document", lo.ToPtr(`{"plan":`), "plan", "", false},
		{"no document", nil, "plan", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := events.PropertyText(tt.doc, tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDistinctPropertyValues(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	site := testsupport.CreateTestSite(t, db, "example.com", "alice")
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	docs := []string{
		`{"beta":true,"n":1e3}`,
		`{"n":1000}`,
		`{"n":1.50}`,
		`{"seats":"3","n":null}`,
		`{"beta":false,"seats":3}`,
		`{"n":`,
		`{"a\"b":1}`,
	}
	var evs []events.Event
	for i, doc := range docs {
		evs = append(evs, testsupport.PageView(site.ID, "v", "/", day.Add(time.Duration(i)*time.Minute), testsupport.WithProps(doc)))
	}
	testsupport.InsertEvents(t, db, evs...)

	store := events.NewStore(db)
	list := func(key string, limit int) ([]string, error) {
		return store.DistinctFieldValues(context.Background(), events.FieldValuesParams{
			SiteID:    site.ID,
			From:      day,
			To:        day.Add(24 * time.Hour),
			CustomKey: key,
			Limit:     limit,
		})
	}

	tests := []struct {
		key   string
		limit int
		want  []string
	}{
		{"beta", 0, []string{"false", "true"}},
		{"n", 0, []string{"1000", "1.5"}},
		{"n", 1, []string{"1000"}},
		{"seats", 0, []string{"3"}},
		{"missing", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			values, err := list(tt.key, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, values)
		})
	}

	_, err := list(`a"b`, 0)
	assert.Error(t, err)
	assert.False(t, events.ValidJSONKey(`a"b`))
}
