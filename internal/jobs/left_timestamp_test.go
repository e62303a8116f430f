package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsq/internal/events"
	"statsq/internal/jobs"
	"statsq/internal/pkg/metrics"
	"statsq/internal/testsupport"
)

func TestLeftTimestampJob(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	cfg := testsupport.TestConfig()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	inserted := testsupport.InsertEvents(t, db,
		testsupport.PageView(1, "v1", "/", now.Add(-3*time.Hour)),
		testsupport.PageView(1, "v1", "/pricing", now.Add(-2*time.Hour-50*time.Minute)),
		testsupport.CustomEvent(1, "v1", "click", "/pricing", now.Add(-2*time.Hour-45*time.Minute)),
		testsupport.PageView(1, "v1", "/docs", now.Add(-time.Hour)),
		testsupport.PageView(1, "v2", "/", now.Add(-10*time.Minute)),
		testsupport.PageView(1, "v2", "/a", now.Add(-5*time.Minute)),
		testsupport.PageView(2, "v1", "/", now.Add(-72*time.Hour)),
		testsupport.PageView(2, "v1", "/b", now.Add(-72*time.Hour+time.Minute)),
	)

	job := jobs.NewLeftTimestampJob(dbManager, logger, cfg, metrics.New())
	job.Now = func() time.Time { return now }

	updated, err := job.RunContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	var stored []events.Event
	require.NoError(t, db.Order("id ASC").Find(&stored).Error)
	require.Len(t, stored, len(inserted))

	require.NotNil(t, stored[0].LeftTimestamp, "settled pageview with a successor")
	assert.True(t, inserted[1].Timestamp.Equal(*stored[0].LeftTimestamp))
	for _, i := range []int{1, 2, 3, 4, 5, 6, 7} {
		assert.Nil(t, stored[i].LeftTimestamp, "event %d", i)
	}

	// a second run finds nothing new
	updated, err = job.RunContext(context.Background())
	require.NoError(t, err)
	assert.Zero(t, updated)
}
