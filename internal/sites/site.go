package sites

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SiteNotFoundError represents an error when a site is not found
type SiteNotFoundError struct {
	Key string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.Key)
}

// NewSiteNotFoundError creates a new SiteNotFoundError
func NewSiteNotFoundError(key string) *SiteNotFoundError {
	return &SiteNotFoundError{Key: key}
}

// Site is a tracked site whose events can be queried.
type Site struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain    string    `gorm:"unique;not null" json:"domain"` // Base domain, e.g., "example.com"
	CreatedAt time.Time `json:"created_at"`
}

// Membership grants a caller read access to a site's statistics.
type Membership struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID    uint      `gorm:"not null;uniqueIndex:idx_membership_site_caller" json:"site_id"`
	CallerID  string    `gorm:"not null;size:128;uniqueIndex:idx_membership_site_caller" json:"caller_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes sites and memberships.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CallerMayAccessSite reports whether the caller holds a membership on the site.
func (s *Store) CallerMayAccessSite(ctx context.Context, callerID string, siteID uint) (bool, error) {
	if callerID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("site_id = ? AND caller_id = ?", siteID, callerID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check access for caller %q on site %d: %w", callerID, siteID, err)
	}
	return count > 0, nil
}

// Grant gives callerID access to the site. Granting twice is a no-op.
func (s *Store) Grant(ctx context.Context, siteID uint, callerID string) error {
	if _, err := s.GetSiteByID(ctx, siteID); err != nil {
		return err
	}
	m := Membership{SiteID: siteID, CallerID: callerID}
	err := s.db.WithContext(ctx).
		Where(Membership{SiteID: siteID, CallerID: callerID}).
		Attrs(Membership{CreatedAt: time.Now().UTC()}).
		FirstOrCreate(&m).Error
	if err != nil {
		return fmt.Errorf("grant caller %q on site %d: %w", callerID, siteID, err)
	}
	return nil
}

// CreateSite creates a site for the base domain of host, or returns the existing one.
func (s *Store) CreateSite(ctx context.Context, host string) (*Site, error) {
	domain := BaseDomainForHost(host)
	if domain == "" {
		return nil, errors.New("site domain is required")
	}
	site := Site{Domain: domain}
	err := s.db.WithContext(ctx).
		Where(Site{Domain: domain}).
		Attrs(Site{CreatedAt: time.Now().UTC()}).
		FirstOrCreate(&site).Error
	if err != nil {
		return nil, fmt.Errorf("create site %q: %w", domain, err)
	}
	return &site, nil
}

// GetSiteByID retrieves a site by its ID
func (s *Store) GetSiteByID(ctx context.Context, id uint) (*Site, error) {
	var site Site
	if err := s.db.WithContext(ctx).First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewSiteNotFoundError(fmt.Sprintf("id %d", id))
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetSiteByDomain retrieves a site by its domain
func (s *Store) GetSiteByDomain(ctx context.Context, domain string) (*Site, error) {
	var site Site
	if err := s.db.WithContext(ctx).Where("domain = ?", BaseDomainForHost(domain)).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewSiteNotFoundError(domain)
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// ListSites returns every site ordered by id.
func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	var sites []Site
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

// BaseDomainForHost returns the canonical base domain for a hostname, preserving localhost
// semantics while collapsing subdomains (e.g. foo.example.com -> example.com).
func BaseDomainForHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return host
	}

	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	secondLast := parts[len(parts)-2]

	// Country-specific second-level registries need three labels
	if len(parts) > 2 && twoPartTLDs[secondLast+"."+lastPart] {
		return strings.Join(parts[len(parts)-3:], ".")
	}

	return secondLast + "." + lastPart
}

var twoPartTLDs = map[string]bool{
	"co.uk":  true,
	"co.jp":  true,
	"co.za":  true,
	"co.nz":  true,
	"co.in":  true,
	"com.au": true,
	"com.br": true,
	"org.uk": true,
	"gov.uk": true,
	"edu.au": true,
	"ac.uk":  true,
	"ne.jp":  true,
	"or.jp":  true,
}
