package analytics_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"statsq/internal/analytics"
	"statsq/internal/events"
	"statsq/internal/pkg/apperrors"
	"statsq/internal/sites"
	"statsq/internal/testsupport"
	"statsq/internal/timeframe"
)

var (
	// Sunday, March 10, 2024
	day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	now = day.Add(36 * time.Hour)
)

func newEngine(t *testing.T, db *gorm.DB) *analytics.Engine {
	t.Helper()
	return analytics.NewEngine(analytics.EngineOptions{
		Reader:           events.NewStore(db),
		Access:           sites.NewStore(db),
		Logger:           testsupport.GetLogger(),
		SessionTimeout:   30 * time.Minute,
		Workers:          4,
		MaxIntervals:     1000,
		FieldValuesLimit: 100,
		DefaultTimezone:  "UTC",
		TimeProvider:     &testsupport.FixedTimeProvider{T: now},
	})
}

func minutes(n int) time.Time {
	return day.Add(9*time.Hour + time.Duration(n)*time.Minute)
}

func decodeRequest(t *testing.T, siteID uint, raw string) analytics.QueryRequest {
	t.Helper()
	var req analytics.QueryRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	req.SiteID = siteID
	req.CallerID = "alice"
	return req
}

func setup(t *testing.T) (*gorm.DB, *sites.Site, *analytics.Engine) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	site := testsupport.CreateTestSite(t, db, "example.com", "alice")
	return db, site, newEngine(t, db)
}

func TestFunnelGreedyChain(t *testing.T) {
	db, site, engine := setup(t)

	var evs []events.Event
	for i := 0; i < 10; i++ {
		v := fmt.Sprintf("v%d", i)
		evs = append(evs, testsupport.PageView(site.ID, v, "/", minutes(i)))
		if i < 3 {
			evs = append(evs, testsupport.PageView(site.ID, v, "/pricing", minutes(20+i)))
		}
		if i < 2 {
			evs = append(evs, testsupport.CustomEvent(site.ID, v, "signup", "/pricing", minutes(40+i)))
		}
	}
	// v9 signs up before seeing pricing: counts for step 1 only
	evs = append(evs,
		testsupport.CustomEvent(site.ID, "v9", "signup", "/", minutes(30)),
		testsupport.PageView(site.ID, "v9", "/pricing", minutes(35)),
	)
	// v10 skips the landing page
	evs = append(evs, testsupport.PageView(site.ID, "v10", "/pricing", minutes(50)))
	testsupport.InsertEvents(t, db, evs...)

	req := decodeRequest(t, site.ID, `{
		"timeData": {"range": "yesterday"},
		"metrics": ["funnels"],
		"funnels": [{"name": "signup", "steps": [
			[{"property": "path", "condition": "is", "value": "/"}],
			[{"property": "path", "condition": "is", "value": "/pricing"}],
			[{"property": "name", "condition": "is", "value": "signup"}]
		]}]
	}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Totals.Funnels, 1)
	steps := res.Totals.Funnels[0].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, []int64{10, 4, 2}, []int64{steps[0].Visitors, steps[1].Visitors, steps[2].Visitors})
	assert.InDelta(t, 0.4, *steps[1].ConversionFromPrevious, 1e-9)
	assert.InDelta(t, 0.5, *steps[2].ConversionFromPrevious, 1e-9)
	assert.InDelta(t, 0.2, *steps[2].ConversionFromFirst, 1e-9)
	assert.Nil(t, steps[0].ConversionFromPrevious)
	assert.Empty(t, res.Totals.Aggregations)
}

func TestCountSortTiesKeepNaturalOrder(t *testing.T) {
	db, site, engine := setup(t)

	visits := map[string][]string{
		"/d": {"v1", "v2"},
		"/a": {"v1", "v2", "v3"},
		"/c": {"v3", "v4"},
		"/b": {"v5", "v6"},
	}
	var evs []events.Event
	n := 0
	for path, visitors := range visits {
		for _, v := range visitors {
			evs = append(evs, testsupport.PageView(site.ID, v, path, minutes(n)))
			n++
		}
	}
	testsupport.InsertEvents(t, db, evs...)

	values := func(groups []analytics.CountRow) []string {
		var out []string
		for _, g := range groups {
			out = append(out, *g.Value)
		}
		return out
	}

	tests := []struct {
		name string
		agg  string
		want []string
	}{
		{"desc with limit", `{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"visitors","order":"desc"},"limit":2}`, []string{"/a", "/b"}},
		{"desc with offset", `{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"visitors"},"limit":2,"offset":1}`, []string{"/b", "/c"}},
		{"asc", `{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"visitors","order":"asc"}}`, []string{"/b", "/c", "/d", "/a"}},
		{"by value desc", `{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"currentField","order":"desc"}}`, []string{"/d", "/c", "/b", "/a"}},
		{"unknown dimension keeps natural order", `{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"nope"}}`, []string{"/a", "/b", "/c", "/d"}},
		{"offset past the end", `{"type":"count","property":"path","metrics":["visitors"],"offset":10}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},"aggregations":[`+tt.agg+`]}`)
			res, err := engine.GetStats(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, res.Totals.Aggregations, 1)
			assert.Equal(t, tt.want, values(res.Totals.Aggregations[0].Groups))
		})
	}
}

func TestSortOnlyMetricIsNotEmitted(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/a", minutes(0)),
		testsupport.PageView(site.ID, "v1", "/b", minutes(1)),
		testsupport.PageView(site.ID, "v2", "/b", minutes(2)),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},"aggregations":[
		{"type":"count","property":"path","metrics":["completions"],"sort":{"dimension":"visitors"}}]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	groups := res.Totals.Aggregations[0].Groups
	require.Len(t, groups, 2)
	assert.Equal(t, "/b", *groups[0].Value)
	assert.Equal(t, int64(2), *groups[0].Completions)
	assert.Nil(t, groups[0].Visitors)
}

func TestCountGroupsNullLast(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", minutes(0)),
		testsupport.PageView(site.ID, "v2", "/", minutes(1), testsupport.WithCountry("us")),
		testsupport.PageView(site.ID, "v3", "/", minutes(2), testsupport.WithCountry("de")),
		testsupport.PageView(site.ID, "v4", "/", minutes(3), testsupport.WithCountry("de")),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},"aggregations":[
		{"type":"count","property":"country","metrics":["completions","visitors","entries","exits","bounceRate"]}]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	groups := res.Totals.Aggregations[0].Groups
	require.Len(t, groups, 3)
	assert.Equal(t, "de", *groups[0].Value)
	assert.Equal(t, int64(2), *groups[0].Visitors)
	assert.Equal(t, "us", *groups[1].Value)
	assert.Nil(t, groups[2].Value)
	assert.Equal(t, int64(1), *groups[2].Entries)
	assert.Equal(t, int64(1), *groups[2].Exits)
	assert.InDelta(t, 100.0, *groups[2].BounceRate, 1e-9)
}

func TestSumAndAvg(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.CustomEvent(site.ID, "v1", "purchase", "/checkout", minutes(0), testsupport.WithRevenue("49.90")),
		testsupport.CustomEvent(site.ID, "v2", "purchase", "/checkout", minutes(1), testsupport.WithRevenue("5")),
		testsupport.CustomEvent(site.ID, "v3", "purchase", "/checkout", minutes(2), testsupport.WithProps(`{"qty":"three"}`)),
		testsupport.CustomEvent(site.ID, "v4", "purchase", "/checkout", minutes(3), testsupport.WithProps(`{"qty":4}`)),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},"aggregations":[
		{"type":"sum","property":"revenue"},
		{"type":"avg","property":"revenue"},
		{"type":"avg","property":"qty"},
		{"type":"sum","property":"revenue","filters":[{"property":"path","condition":"is","value":"/nowhere"}]},
		{"type":"avg","property":"revenue","filters":[{"property":"path","condition":"is","value":"/nowhere"}]}
	]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	aggs := res.Totals.Aggregations
	require.Len(t, aggs, 5)
	assert.InDelta(t, 54.9, *aggs[0].Value, 1e-9)
	assert.InDelta(t, 27.45, *aggs[1].Value, 1e-9)
	assert.InDelta(t, 4.0, *aggs[2].Value, 1e-9, "non-numeric values are skipped")
	require.NotNil(t, aggs[3].Value, "sum over no rows is zero")
	assert.Zero(t, *aggs[3].Value)
	assert.Nil(t, aggs[4].Value, "avg over no rows is null")
}

func TestDerivedMetrics(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", minutes(0)),
		testsupport.PageView(site.ID, "v1", "/pricing", minutes(5)),
		testsupport.PageView(site.ID, "v1", "/docs", minutes(40)),
		testsupport.CustomEvent(site.ID, "v1", "click", "/docs", minutes(41)),
		testsupport.PageView(site.ID, "v2", "/", minutes(10)),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},
		"metrics":["bounceRate","sessionDuration","viewsPerSession","averageTimeSpent"]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	m := res.Totals.Metrics
	require.NotNil(t, m)
	assert.InDelta(t, 200.0/3, *m.BounceRate, 1e-9)
	assert.InDelta(t, 100.0, *m.SessionDuration, 1e-9)
	assert.InDelta(t, 4.0/3, *m.ViewsPerSession, 1e-9)
	assert.InDelta(t, 300.0, *m.AverageTimeSpent, 1e-9)
	assert.Empty(t, res.Totals.Aggregations)
	assert.Empty(t, res.Totals.Funnels)
}

func TestGlobalFiltersApplyEverywhere(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", minutes(0), testsupport.WithBrowser("Firefox")),
		testsupport.PageView(site.ID, "v1", "/pricing", minutes(1), testsupport.WithBrowser("Firefox")),
		testsupport.PageView(site.ID, "v2", "/", minutes(2), testsupport.WithBrowser("Chrome")),
		testsupport.PageView(site.ID, "v2", "/pricing", minutes(3), testsupport.WithBrowser("Chrome")),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},
		"filters":[{"property":"browser","condition":"is","value":"Firefox"}],
		"aggregations":[{"type":"count","property":"path","metrics":["visitors"]}],
		"funnels":[{"name":"pricing","steps":[
			[{"property":"path","condition":"is","value":"/"}],
			[{"property":"path","condition":"is","value":"/pricing"}]]}]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	groups := res.Totals.Aggregations[0].Groups
	require.Len(t, groups, 2)
	assert.Equal(t, int64(1), *groups[0].Visitors)
	assert.Equal(t, int64(1), res.Totals.Funnels[0].Steps[1].Visitors)
}

func TestIntervalBreakdown(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", day.Add(-2*time.Hour)),
		testsupport.PageView(site.ID, "v1", "/", day.Add(1*time.Hour)),
		testsupport.PageView(site.ID, "v2", "/", day.Add(7*time.Hour)),
		testsupport.PageView(site.ID, "v3", "/", day.Add(7*time.Hour+time.Minute)),
		testsupport.PageView(site.ID, "v4", "/", day.Add(23*time.Hour)),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday","calendarDuration":"6 hours"},
		"aggregations":[{"type":"count","property":"path","metrics":["completions"]}]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Intervals, 4)
	counts := make([]int64, len(res.Intervals))
	var sum int64
	for i, iv := range res.Intervals {
		if groups := iv.Aggregations[0].Groups; len(groups) > 0 {
			counts[i] = *groups[0].Completions
		}
		sum += counts[i]
	}
	assert.Equal(t, []int64{1, 2, 0, 1}, counts)
	assert.Equal(t, *res.Totals.Aggregations[0].Groups[0].Completions, sum)
	assert.True(t, day.Add(6*time.Hour).Equal(res.Intervals[1].Start))
}

func TestIntervalsSortAndLimitIndependently(t *testing.T) {
	db, site, engine := setup(t)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }
	testsupport.InsertEvents(t, db,
		// first half of the day: /a leads
		testsupport.PageView(site.ID, "u1", "/a", at(1, 0)),
		testsupport.PageView(site.ID, "u1", "/c", at(1, 5)),
		testsupport.PageView(site.ID, "u2", "/a", at(2, 0)),
		testsupport.PageView(site.ID, "u2", "/c", at(2, 5)),
		testsupport.PageView(site.ID, "u3", "/a", at(3, 0)),
		// second half: /b leads, u3 reaches /c across the boundary
		testsupport.PageView(site.ID, "u4", "/b", at(13, 0)),
		testsupport.PageView(site.ID, "u4", "/c", at(13, 5)),
		testsupport.PageView(site.ID, "u5", "/b", at(14, 0)),
		testsupport.PageView(site.ID, "u5", "/c", at(14, 5)),
		testsupport.PageView(site.ID, "u6", "/b", at(15, 0)),
		testsupport.PageView(site.ID, "u3", "/c", at(16, 0)),
	)

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday","calendarDuration":"12 hours"},
		"aggregations":[
			{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"visitors","order":"desc"},"limit":1},
			{"type":"count","property":"path","metrics":["visitors"],"sort":{"dimension":"visitors","order":"desc"},"limit":1,"offset":1}],
		"funnels":[{"name":"a to c","steps":[
			[{"property":"path","condition":"is","value":"/a"}],
			[{"property":"path","condition":"is","value":"/c"}]]}]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Intervals, 2)

	top := func(b analytics.Block, agg int) (string, int64) {
		groups := b.Aggregations[agg].Groups
		require.Len(t, groups, 1)
		return *groups[0].Value, *groups[0].Visitors
	}
	steps := func(b analytics.Block) []int64 {
		require.Len(t, b.Funnels, 1)
		var out []int64
		for _, s := range b.Funnels[0].Steps {
			out = append(out, s.Visitors)
		}
		return out
	}

	tests := []struct {
		name       string
		block      analytics.Block
		first      string
		firstCount int64
		second     string
		funnel     []int64
	}{
		{"first interval", res.Intervals[0].Block, "/a", 3, "/c", []int64{3, 2}},
		{"second interval", res.Intervals[1].Block, "/b", 3, "/c", []int64{0, 0}},
		{"totals", res.Totals, "/c", 5, "/a", []int64{3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, visitors := top(tt.block, 0)
			assert.Equal(t, tt.first, value)
			assert.Equal(t, tt.firstCount, visitors)
			value, _ = top(tt.block, 1)
			assert.Equal(t, tt.second, value)
			assert.Equal(t, tt.funnel, steps(tt.block))
		})
	}

	second := res.Intervals[1].Funnels[0].Steps[1]
	assert.Nil(t, second.ConversionFromPrevious)
	assert.InDelta(t, 2.0/3.0, *res.Intervals[0].Funnels[0].Steps[1].ConversionFromFirst, 1e-9)
}

func TestListedPropertyValuesMatchFilters(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", minutes(0), testsupport.WithProps(`{"beta":true,"n":1e3}`)),
		testsupport.PageView(site.ID, "v2", "/", minutes(1), testsupport.WithProps(`{"n":1000}`)),
		testsupport.PageView(site.ID, "v3", "/", minutes(2), testsupport.WithProps(`{"n":1.50}`)),
		testsupport.PageView(site.ID, "v4", "/", minutes(3), testsupport.WithProps(`{"seats":"3"}`)),
		testsupport.PageView(site.ID, "v5", "/", minutes(4), testsupport.WithProps(`{"beta":false,"seats":3}`)),
		testsupport.PageView(site.ID, "v6", "/", minutes(5), testsupport.WithProps(`{"n":`)),
	)
	ctx := context.Background()

	tests := []struct {
		key  string
		want map[string]int64
	}{
		{"beta", map[string]int64{"false": 1, "true": 1}},
		{"n", map[string]int64{"1000": 2, "1.5": 1}},
		{"seats", map[string]int64{"3": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			values, err := engine.ListFieldValues(ctx, analytics.FieldValuesRequest{
				SiteID: site.ID, CallerID: "alice", Field: tt.key, Custom: true,
				TimeData: &timeframe.TimeData{Range: "yesterday"},
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, keysOf(tt.want), values)

			for _, v := range values {
				raw, err := json.Marshal(map[string]any{
					"timeData": map[string]any{"range": "yesterday"},
					"filters": []map[string]any{
						{"property": tt.key, "custom": true, "condition": "is", "value": v},
					},
					"aggregations": []map[string]any{
						{"type": "count", "property": "path", "metrics": []string{"completions"}},
					},
				})
				require.NoError(t, err)

				res, err := engine.GetStats(ctx, decodeRequest(t, site.ID, string(raw)))
				require.NoError(t, err)
				groups := res.Totals.Aggregations[0].Groups
				require.Len(t, groups, 1, "value %q", v)
				assert.Equal(t, tt.want[v], *groups[0].Completions, "value %q", v)
			}
		})
	}
}

func keysOf(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestListFieldValuesRejectsUnlistableKey(t *testing.T) {
	reader := &recordingReader{}
	engine := analytics.NewEngine(analytics.EngineOptions{
		Reader: reader,
		Access: allowAll{},
		Logger: testsupport.GetLogger(),
	})

	_, err := engine.ListFieldValues(context.Background(), analytics.FieldValuesRequest{
		SiteID: 1, CallerID: "alice", Field: `a"b`, Custom: true,
	})
	var verr *analytics.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apperrors.CodeInvalidRequest, verr.Code)
	assert.Equal(t, 400, analytics.HTTPStatus(err))
	assert.Zero(t, reader.calls)
}

func TestStorageFailuresAreInternal(t *testing.T) {
	locked := errors.New("database is locked")
	engine := analytics.NewEngine(analytics.EngineOptions{
		Reader:       failingReader{err: locked},
		Access:       allowAll{},
		Logger:       testsupport.GetLogger(),
		TimeProvider: &testsupport.FixedTimeProvider{T: now},
	})
	ctx := context.Background()

	_, statsErr := engine.GetStats(ctx, analytics.QueryRequest{
		SiteID:   1,
		CallerID: "alice",
		TimeData: timeframe.TimeData{Range: "yesterday"},
	})
	_, earliestErr := engine.GetStats(ctx, analytics.QueryRequest{
		SiteID:   1,
		CallerID: "alice",
		TimeData: timeframe.TimeData{Range: "all_time"},
	})
	_, valuesErr := engine.ListFieldValues(ctx, analytics.FieldValuesRequest{SiteID: 1, CallerID: "alice", Field: "path"})
	_, keysErr := engine.ListCustomProperties(ctx, analytics.CustomPropertiesRequest{SiteID: 1, CallerID: "alice"})

	tests := []struct {
		name string
		err  error
	}{
		{"stats", statsErr},
		{"earliest event", earliestErr},
		{"field values", valuesErr},
		{"custom properties", keysErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.ErrorIs(t, tt.err, locked)
			assert.False(t, analytics.IsData(tt.err))
			assert.False(t, analytics.IsValidation(tt.err))
			assert.Equal(t, 500, analytics.HTTPStatus(tt.err))
		})
	}
}

func TestAuthorizationBeforeRead(t *testing.T) {
	reader := &recordingReader{}
	engine := analytics.NewEngine(analytics.EngineOptions{
		Reader: reader,
		Access: denyAll{},
		Logger: testsupport.GetLogger(),
	})

	_, err := engine.GetStats(context.Background(), analytics.QueryRequest{
		SiteID:   1,
		CallerID: "mallory",
		TimeData: timeframe.TimeData{Range: "all_time"},
	})
	require.Error(t, err)
	assert.True(t, analytics.IsAuthorization(err))
	assert.Equal(t, 403, analytics.HTTPStatus(err))

	_, err = engine.ListFieldValues(context.Background(), analytics.FieldValuesRequest{SiteID: 1, CallerID: "mallory", Field: "path"})
	assert.True(t, analytics.IsAuthorization(err))
	_, err = engine.ListCustomProperties(context.Background(), analytics.CustomPropertiesRequest{SiteID: 1, CallerID: "mallory"})
	assert.True(t, analytics.IsAuthorization(err))

	assert.Zero(t, reader.calls)
}

func TestGetStatsValidation(t *testing.T) {
	_, site, engine := setup(t)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"count without metrics", `{"timeData":{"range":"today"},"aggregations":[{"type":"count","property":"path"}]}`, apperrors.CodeInvalidAggregation},
		{"count with only unknown metrics", `{"timeData":{"range":"today"},"aggregations":[{"type":"count","property":"path","metrics":["hits"]}]}`, apperrors.CodeInvalidAggregation},
		{"sum with metrics", `{"timeData":{"range":"today"},"aggregations":[{"type":"sum","property":"revenue","metrics":["visitors"]}]}`, apperrors.CodeInvalidAggregation},
		{"unknown aggregation type", `{"timeData":{"range":"today"},"aggregations":[{"type":"median","property":"revenue"}]}`, apperrors.CodeInvalidAggregation},
		{"negative limit", `{"timeData":{"range":"today"},"aggregations":[{"type":"count","property":"path","metrics":["visitors"],"limit":-1}]}`, apperrors.CodeInvalidAggregation},
		{"funnel without steps", `{"timeData":{"range":"today"},"funnels":[{"name":"x","steps":[]}]}`, apperrors.CodeInvalidFunnel},
		{"funnel with empty step", `{"timeData":{"range":"today"},"funnels":[{"name":"x","steps":[[]]}]}`, apperrors.CodeInvalidFunnel},
		{"unknown top-level metric", `{"timeData":{"range":"today"},"metrics":["pageviews"]}`, apperrors.CodeInvalidMetric},
		{"bad filter", `{"timeData":{"range":"today"},"filters":[{"property":"path","condition":"near","value":"/"}]}`, apperrors.CodeUnknownCondition},
		{"bad time data", `{"timeData":{}}`, apperrors.CodeInvalidTimeData},
		{"conflicting intervals", `{"timeData":{"range":"today","intervals":2,"calendarDuration":"1 hour"}}`, apperrors.CodeConflictingIntervals},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.GetStats(context.Background(), decodeRequest(t, site.ID, tt.raw))
			var verr *analytics.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)
			assert.Equal(t, 400, analytics.HTTPStatus(err))
		})
	}
}

func TestUnknownMetricsAreDropped(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db, testsupport.PageView(site.ID, "v1", "/", minutes(0)))

	req := decodeRequest(t, site.ID, `{"timeData":{"range":"yesterday"},"aggregations":[
		{"type":"count","property":"path","metrics":["hits","visitors"]}]}`)
	res, err := engine.GetStats(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *res.Totals.Aggregations[0].Groups[0].Visitors)
}

func TestListFieldValuesAndCustomProperties(t *testing.T) {
	db, site, engine := setup(t)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", minutes(0), testsupport.WithBrowser("Firefox"), testsupport.WithProps(`{"plan":"pro","seats":3}`)),
		testsupport.PageView(site.ID, "v2", "/", minutes(1), testsupport.WithBrowser("Chrome"), testsupport.WithProps(`{"plan":"free"}`)),
		testsupport.PageView(site.ID, "v3", "/", minutes(2), testsupport.WithBrowser("Chrome"), testsupport.WithProps(`not json`)),
		testsupport.PageView(site.ID, "v4", "/", minutes(3)),
	)
	ctx := context.Background()

	values, err := engine.ListFieldValues(ctx, analytics.FieldValuesRequest{SiteID: site.ID, CallerID: "alice", Field: "browser"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Chrome", "Firefox"}, values)

	values, err = engine.ListFieldValues(ctx, analytics.FieldValuesRequest{SiteID: site.ID, CallerID: "alice", Field: "browser", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Chrome"}, values)

	values, err = engine.ListFieldValues(ctx, analytics.FieldValuesRequest{SiteID: site.ID, CallerID: "alice", Field: "plan"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pro", "free"}, values)

	values, err = engine.ListFieldValues(ctx, analytics.FieldValuesRequest{
		SiteID: site.ID, CallerID: "alice", Field: "browser",
		TimeData: &timeframe.TimeData{Range: "today"},
	})
	require.NoError(t, err)
	assert.Empty(t, values)

	keys, err := engine.ListCustomProperties(ctx, analytics.CustomPropertiesRequest{SiteID: site.ID, CallerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"plan", "seats"}, keys)

	_, err = engine.ListFieldValues(ctx, analytics.FieldValuesRequest{SiteID: site.ID, CallerID: "alice"})
	assert.True(t, analytics.IsValidation(err))
}

type recordingReader struct {
	calls int
}

func (r *recordingReader) FetchEvents(context.Context, events.FetchParams) ([]events.Event, error) {
	r.calls++
	return nil, nil
}

func (r *recordingReader) EarliestEventTimestamp(context.Context, uint) (*time.Time, error) {
	r.calls++
	return nil, nil
}

func (r *recordingReader) DistinctFieldValues(context.Context, events.FieldValuesParams) ([]string, error) {
	r.calls++
	return nil, nil
}

func (r *recordingReader) CustomPropertyKeys(context.Context, uint, time.Time, time.Time) ([]string, error) {
	r.calls++
	return nil, nil
}

type denyAll struct{}

func (denyAll) CallerMayAccessSite(context.Context, string, uint) (bool, error) {
	return false, nil
}

type allowAll struct{}

func (allowAll) CallerMayAccessSite(context.Context, string, uint) (bool, error) {
	return true, nil
}

type failingReader struct {
	err error
}

func (r failingReader) FetchEvents(context.Context, events.FetchParams) ([]events.Event, error) {
	return nil, r.err
}

func (r failingReader) EarliestEventTimestamp(context.Context, uint) (*time.Time, error) {
	return nil, r.err
}

func (r failingReader) DistinctFieldValues(context.Context, events.FieldValuesParams) ([]string, error) {
	return nil, r.err
}

func (r failingReader) CustomPropertyKeys(context.Context, uint, time.Time, time.Time) ([]string, error) {
	return nil, r.err
}
