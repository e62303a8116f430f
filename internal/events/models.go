package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	EventTypePageView    EventType = "pageview"
	EventTypeCustomEvent EventType = "event"
)

// Event is one row of the append-only event log.
//
// Optional attributes are pointers so that a missing value stays NULL in storage
// and is distinguishable from an empty string in filters and groupings.
type Event struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SiteID      uint      `gorm:"not null;index:idx_events_site_timestamp,priority:1;index:idx_events_site_visitor,priority:1" json:"siteId"`
	Type        EventType `gorm:"size:16;not null;default:pageview" json:"type"`
	Path        string    `gorm:"not null" json:"path"`
	Name        *string   `gorm:"index" json:"name,omitempty"`
	Timestamp   time.Time `gorm:"not null;index:idx_events_site_timestamp,priority:2;index:idx_events_site_visitor,priority:3" json:"timestamp"`
	VisitorHash string    `gorm:"size:64;not null;index:idx_events_site_visitor,priority:2" json:"visitorHash"`

	Hostname     *string `json:"hostname,omitempty"`
	Referrer     *string `json:"referrer,omitempty"`
	ReferrerPath *string `json:"referrerPath,omitempty"`

	UTMSource   *string `json:"utmSource,omitempty"`
	UTMMedium   *string `json:"utmMedium,omitempty"`
	UTMCampaign *string `json:"utmCampaign,omitempty"`
	UTMTerm     *string `json:"utmTerm,omitempty"`
	UTMContent  *string `json:"utmContent,omitempty"`

	Country  *string `gorm:"size:2" json:"country,omitempty"`
	Region   *string `json:"region,omitempty"`
	City     *string `json:"city,omitempty"`
	Device   *string `json:"device,omitempty"`
	Browser  *string `json:"browser,omitempty"`
	OS       *string `json:"os,omitempty"`
	Language *string `json:"language,omitempty"`

	Revenue          decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"revenue"`
	CustomProperties *string             `gorm:"type:text" json:"customProperties,omitempty"`

	// LeftTimestamp is the time the visitor moved on to the next pageview of the
	// same session. Filled in by the backfill job once the session has settled.
	LeftTimestamp *time.Time `json:"leftTimestamp,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// IsPageView reports whether the event is a pageview.
func (e *Event) IsPageView() bool {
	return e.Type == EventTypePageView
}
