package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsq/app"
	"statsq/internal/testsupport"
)

func TestNewEngine(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	site := testsupport.CreateTestSite(t, db, "example.com", "embedder")
	day := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	testsupport.InsertEvents(t, db,
		testsupport.PageView(site.ID, "v1", "/", day),
		testsupport.PageView(site.ID, "v2", "/", day.Add(time.Hour)),
	)

	engine := app.NewEngine(db, testsupport.TestConfig(), testsupport.GetLogger(), app.NewMetrics())

	res, err := engine.GetStats(context.Background(), app.QueryRequest{
		SiteID:   site.ID,
		CallerID: "embedder",
		TimeData: app.TimeData{StartDate: "2024-05-01", EndDate: "2024-05-01"},
		Aggregations: []app.Aggregation{
			{Type: "count", Property: "path", Metrics: []string{"visitors"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Totals.Aggregations[0].Groups, 1)
	assert.Equal(t, int64(2), *res.Totals.Aggregations[0].Groups[0].Visitors)

	_, err = engine.GetStats(context.Background(), app.QueryRequest{SiteID: site.ID, CallerID: "stranger"})
	assert.True(t, app.IsAuthorization(err))
	assert.Equal(t, 403, app.HTTPStatus(err))
}
