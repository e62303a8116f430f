package sites_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsq/internal/sites"
	"statsq/internal/testsupport"
)

func TestCallerMayAccessSite(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	store := sites.NewStore(db)
	ctx := context.Background()

	site, err := store.CreateSite(ctx, "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", site.Domain)

	require.NoError(t, store.Grant(ctx, site.ID, "alice"))
	require.NoError(t, store.Grant(ctx, site.ID, "alice"), "granting twice is a no-op")

	var memberships int64
	require.NoError(t, db.Model(&sites.Membership{}).Count(&memberships).Error)
	assert.Equal(t, int64(1), memberships)

	tests := []struct {
		name   string
		caller string
		siteID uint
		want   bool
	}{
		{"member", "alice", site.ID, true},
		{"other caller", "bob", site.ID, false},
		{"empty caller", "", site.ID, false},
		{"other site", "alice", site.ID + 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := store.CallerMayAccessSite(ctx, tt.caller, tt.siteID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestGrantUnknownSite(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	store := sites.NewStore(db)

	err := store.Grant(context.Background(), 4242, "alice")
	var notFound *sites.SiteNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "id 4242", notFound.Key)
}

func TestCreateSiteIsIdempotent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	store := sites.NewStore(db)
	ctx := context.Background()

	first, err := store.CreateSite(ctx, "shop.example.com")
	require.NoError(t, err)
	second, err := store.CreateSite(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	found, err := store.GetSiteByDomain(ctx, "blog.example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = store.GetSiteByDomain(ctx, "unknown.org")
	var notFound *sites.SiteNotFoundError
	assert.ErrorAs(t, err, &notFound)

	all, err := store.ListSites(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBaseDomainForHost(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		expected string
	}{
		{"Simple subdomain", "www.example.com", "example.com"},
		{"Multiple subdomains", "api.v1.example.com", "example.com"},
		{"Port is dropped", "example.com:8080", "example.com"},
		{"Two-part TLD", "shop.example.co.uk", "example.co.uk"},
		{"Localhost subdomain", "app.localhost", "localhost"},
		{"Single label", "intranet", "intranet"},
		{"Uppercase", "WWW.Example.COM", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sites.BaseDomainForHost(tt.hostname))
		})
	}
}
