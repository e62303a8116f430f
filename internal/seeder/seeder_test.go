package seeder_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsq/internal/events"
	"statsq/internal/seeder"
	"statsq/internal/sites"
	"statsq/internal/testsupport"
)

func TestSeederRun(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	s := seeder.NewSeeder(dbManager, logger, 400)
	s.Seed = 42
	s.Now = func() time.Time { return now }
	require.NoError(t, s.Run(context.Background()))

	store := sites.NewStore(db)
	seeded, err := store.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, seeded, len(seeder.DefaultDomains))

	for _, site := range seeded {
		ok, err := store.CallerMayAccessSite(context.Background(), seeder.DefaultCaller, site.ID)
		require.NoError(t, err)
		assert.True(t, ok, site.Domain)

		var rows []events.Event
		require.NoError(t, db.Where("site_id = ?", site.ID).Find(&rows).Error)
		assert.GreaterOrEqual(t, len(rows), 200)

		for _, e := range rows {
			assert.True(t, e.Timestamp.After(now.Add(-31*24*time.Hour)) && !e.Timestamp.After(now.Add(time.Hour)))
			if e.IsPageView() {
				assert.Nil(t, e.Name)
				continue
			}
			require.NotNil(t, e.Name)
			require.NotNil(t, e.CustomProperties)
			assert.True(t, json.Valid([]byte(*e.CustomProperties)))
			if *e.Name != "purchase" {
				assert.False(t, e.Revenue.Valid)
			}
		}
	}
}

func TestSeedDomainIsRepeatable(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	s := seeder.NewSeeder(dbManager, logger, 50)
	require.NoError(t, s.SeedDomain(context.Background(), "www.shop.test"))
	require.NoError(t, s.SeedDomain(context.Background(), "shop.test"))

	var count int64
	require.NoError(t, db.Model(&sites.Site{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "subdomains collapse to one site")

	require.NoError(t, db.Model(&events.Event{}).Count(&count).Error)
	assert.GreaterOrEqual(t, count, int64(100))
}
