package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"statsq/internal/events"
	"statsq/internal/sites"
	"statsq/internal/visitors"
)

// DefaultDomains are seeded by Run.
var DefaultDomains = []string{"example.com", "acme.io"}

// DefaultCaller is granted access to every seeded site.
const DefaultCaller = "local-dev"

// Seeder fills the database with sites and realistic visitor journeys.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	EventCount int
	Caller     string

	// Seed makes the generated data reproducible.
	Seed uint64
	Now  func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
		Caller:     DefaultCaller,
		Seed:       uint64(time.Now().UnixNano()),
		Now:        time.Now,
	}
}

// Run seeds every default domain, splitting EventCount between them.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount))

	perSite := max(s.EventCount/len(DefaultDomains), 1)
	for _, domain := range DefaultDomains {
		if err := s.seedDomain(ctx, domain, perSite); err != nil {
			return err
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SeedDomain seeds one domain with the full EventCount, creating the site when needed.
func (s *Seeder) SeedDomain(ctx context.Context, domain string) error {
	return s.seedDomain(ctx, domain, s.EventCount)
}

func (s *Seeder) seedDomain(ctx context.Context, domain string, target int) error {
	db := s.DBManager.GetConnection()
	store := sites.NewStore(db)

	site, err := store.CreateSite(ctx, domain)
	if err != nil {
		return fmt.Errorf("failed to seed site %s: %w", domain, err)
	}
	if s.Caller != "" {
		if err := store.Grant(ctx, site.ID, s.Caller); err != nil {
			return fmt.Errorf("failed to grant %s on %s: %w", s.Caller, domain, err)
		}
	}

	rows, err := s.journeys(ctx, site, target)
	if err != nil {
		return err
	}
	if err := events.NewStore(db).Insert(ctx, rows); err != nil {
		return fmt.Errorf("failed to insert events for %s: %w", domain, err)
	}

	s.Logger.Info("Generated journey-based events for site",
		slog.String("domain", site.Domain),
		slog.Uint64("siteId", uint64(site.ID)),
		slog.Int("totalEvents", len(rows)))
	return nil
}

// journeyTemplates are realistic paths visitors take through a site.
var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/signup"},
	{"/blog/article-1"},
	{"/"},
	{"/login", "/dashboard", "/settings"},
}

type goal struct {
	name    string
	props   map[string]any
	revenue string
}

var goals = []goal{
	{name: "newsletter_signup", props: map[string]any{"source": "footer"}},
	{name: "purchase", props: map[string]any{"plan": "pro", "currency": "USD", "seats": 3}, revenue: "29.99"},
	{name: "purchase", props: map[string]any{"plan": "enterprise", "currency": "USD", "seats": 25}, revenue: "499"},
	{name: "demo_requested", props: map[string]any{"plan": "enterprise", "company": "Example Corp"}},
	{name: "account_created", props: map[string]any{"plan": "free", "source": "homepage"}},
	{name: "download_started", props: map[string]any{"filename": "whitepaper.pdf"}},
}

type visitorProfile struct {
	country, region, city string
	device, browser, os   string
	language              string
	userAgent             string
}

var profiles = []visitorProfile{
	{"US", "California", "San Francisco", "desktop", "Chrome", "macOS", "en-US",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
	{"US", "New York", "New York", "mobile", "Safari", "iOS", "en-US",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"},
	{"DE", "Berlin", "Berlin", "desktop", "Firefox", "Linux", "de-DE",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"},
	{"GB", "England", "London", "desktop", "Edge", "Windows", "en-GB",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"},
	{"ES", "Madrid", "Madrid", "mobile", "Chrome", "Android", "es-ES",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"},
	{"JP", "Tokyo", "Tokyo", "tablet", "Safari", "iPadOS", "ja-JP",
		"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"},
}

// hashSalt stands in for the salt a collector would use.
const hashSalt = "statsq-seed"

// visitorIP returns a stable private address per visitor index.
func visitorIP(visitor int) string {
	return fmt.Sprintf("10.%d.%d.%d", (visitor>>16)&0xff, (visitor>>8)&0xff, visitor&0xff)
}

var referrers = []string{"", "", "google.com", "news.ycombinator.com", "twitter.com", "github.com"}

var campaigns = []struct{ source, medium, campaign string }{
	{"newsletter", "email", "spring_launch"},
	{"google", "cpc", "brand"},
	{"twitter", "social", "launch_week"},
}

// journeys builds about target events spread over the last 30 days.
func (s *Seeder) journeys(ctx context.Context, site *sites.Site, target int) ([]events.Event, error) {
	rng := rand.New(rand.NewPCG(s.Seed, uint64(site.ID)))
	now := s.Now().UTC()
	population := max(target/12, 5)

	var rows []events.Event
	for len(rows) < target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		visitor := rng.IntN(population)
		profile := profiles[visitor%len(profiles)]
		ts := now.Add(-time.Duration(rng.IntN(30*24*60*60)) * time.Second)
		hash := visitors.Hash(site.Domain, visitorIP(visitor), profile.userAgent, hashSalt, ts)
		journey := journeyTemplates[rng.IntN(len(journeyTemplates))]

		for i, path := range journey {
			if i > 0 {
				ts = ts.Add(time.Duration(rng.IntN(110)+10) * time.Second)
			}
			e := events.Event{
				SiteID:      site.ID,
				Type:        events.EventTypePageView,
				Path:        path,
				Timestamp:   ts,
				VisitorHash: hash,
				Hostname:    lo.ToPtr(site.Domain),
				Country:     lo.ToPtr(profile.country),
				Region:      lo.ToPtr(profile.region),
				City:        lo.ToPtr(profile.city),
				Device:      lo.ToPtr(profile.device),
				Browser:     lo.ToPtr(profile.browser),
				OS:          lo.ToPtr(profile.os),
				Language:    lo.ToPtr(profile.language),
			}
			if i == 0 {
				if ref := referrers[rng.IntN(len(referrers))]; ref != "" {
					e.Referrer = lo.ToPtr(ref)
					e.ReferrerPath = lo.ToPtr("/")
				}
				if rng.Float64() < 0.3 {
					c := campaigns[rng.IntN(len(campaigns))]
					e.UTMSource, e.UTMMedium, e.UTMCampaign = lo.ToPtr(c.source), lo.ToPtr(c.medium), lo.ToPtr(c.campaign)
				}
			}
			rows = append(rows, e)
		}

		if rng.Float64() < 0.25 {
			g := goals[rng.IntN(len(goals))]
			props, err := json.Marshal(g.props)
			if err != nil {
				return nil, fmt.Errorf("encode goal properties: %w", err)
			}
			e := rows[len(rows)-1]
			e.Type = events.EventTypeCustomEvent
			e.Name = lo.ToPtr(g.name)
			e.Timestamp = ts.Add(time.Duration(rng.IntN(30)+1) * time.Second)
			e.Referrer, e.ReferrerPath = nil, nil
			e.UTMSource, e.UTMMedium, e.UTMCampaign = nil, nil, nil
			e.CustomProperties = lo.ToPtr(string(props))
			if g.revenue != "" {
				e.Revenue = decimal.NewNullDecimal(decimal.RequireFromString(g.revenue))
			}
			rows = append(rows, e)
		}
	}
	return rows, nil
}
