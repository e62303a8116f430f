package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Columns that every fetch selects; session derivation and the planner always need them.
var baseColumns = []string{"id", "site_id", "type", "timestamp", "visitor_hash"}

// Columns lists every events column a caller may project or list values for.
var Columns = map[string]bool{
	"id": true, "site_id": true, "type": true, "path": true, "name": true, "timestamp": true,
	"visitor_hash": true, "hostname": true, "referrer": true, "referrer_path": true,
	"utm_source": true, "utm_medium": true, "utm_campaign": true, "utm_term": true, "utm_content": true,
	"country": true, "region": true, "city": true, "device": true, "browser": true, "os": true,
	"language": true, "revenue": true, "custom_properties": true, "left_timestamp": true,
}

// FetchParams describes one bulk read of a site's events.
type FetchParams struct {
	SiteID uint
	From   time.Time
	To     time.Time
	// Columns to load in addition to the base columns. Empty loads every column.
	Columns []string
	// Where is an optional parameterized clause ANDed to the site/time predicate.
	Where string
	Args  []any
}

// FieldValuesParams selects the distinct values of one column or custom property key.
type FieldValuesParams struct {
	SiteID    uint
	From      time.Time
	To        time.Time
	Column    string
	CustomKey string
	Limit     int
}

// Store reads and maintains the events table.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FetchEvents loads the events of a site in [From, To), ordered by visitor, timestamp and id.
func (s *Store) FetchEvents(ctx context.Context, p FetchParams) ([]Event, error) {
	columns, err := projection(p.Columns)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Model(&Event{}).
		Where("site_id = ? AND timestamp >= ? AND timestamp < ?", p.SiteID, p.From.UTC(), p.To.UTC())
	if len(columns) > 0 {
		query = query.Select(columns)
	}
	if p.Where != "" {
		query = query.Where(p.Where, p.Args...)
	}

	var rows []Event
	if err := query.Order("visitor_hash ASC, timestamp ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch events for site %d: %w", p.SiteID, err)
	}
	return rows, nil
}

func projection(extra []string) ([]string, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(baseColumns)+len(extra))
	columns := make([]string, 0, len(baseColumns)+len(extra))
	for _, c := range append(append([]string{}, baseColumns...), extra...) {
		if !Columns[c] {
			return nil, fmt.Errorf("unknown events column %q", c)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		columns = append(columns, c)
	}
	return columns, nil
}

// EarliestEventTimestamp returns the timestamp of the first event recorded for the site,
// or nil when the site has no events.
func (s *Store) EarliestEventTimestamp(ctx context.Context, siteID uint) (*time.Time, error) {
	var first Event
	err := s.db.WithContext(ctx).
		Select("id", "timestamp").
		Where("site_id = ?", siteID).
		Order("timestamp ASC").
		Take(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("earliest event for site %d: %w", siteID, err)
	}
	ts := first.Timestamp.UTC()
	return &ts, nil
}

// DistinctFieldValues returns the non-null values of a column (or custom property key),
// most frequent first. Custom values use the text form filters compare against.
func (s *Store) DistinctFieldValues(ctx context.Context, p FieldValuesParams) ([]string, error) {
	if p.CustomKey != "" {
		return s.distinctPropertyValues(ctx, p)
	}
	if !Columns[p.Column] {
		return nil, fmt.Errorf("unknown events column %q", p.Column)
	}

	query := fmt.Sprintf(`
		SELECT value FROM (
			SELECT CAST(%s AS TEXT) AS value, COUNT(*) AS occurrences
			FROM events
			WHERE site_id = ? AND timestamp >= ? AND timestamp < ?
			GROUP BY value
		)
		WHERE value IS NOT NULL
		ORDER BY occurrences DESC, value ASC
		LIMIT ?`, p.Column)

	limit := p.Limit
	if limit <= 0 {
		limit = -1
	}

	var values []string
	err := s.db.WithContext(ctx).Raw(query, p.SiteID, p.From.UTC(), p.To.UTC(), limit).Scan(&values).Error
	if err != nil {
		return nil, fmt.Errorf("distinct values for site %d: %w", p.SiteID, err)
	}
	return values, nil
}

type propertyGroup struct {
	Sample      string
	Occurrences int64
}

// distinctPropertyValues groups by the SQL value and type, then renders one sample per
// group with PropertyText. Groups that render alike (the string "1" and the number 1)
// are merged before ordering and limiting.
func (s *Store) distinctPropertyValues(ctx context.Context, p FieldValuesParams) ([]string, error) {
	if !ValidJSONKey(p.CustomKey) {
		return nil, fmt.Errorf("custom property key %q has no JSON path form", p.CustomKey)
	}
	path := JSONPath(p.CustomKey)

	value := "CASE WHEN json_valid(custom_properties) THEN json_extract(custom_properties, ?) END"
	kind := "CASE WHEN json_valid(custom_properties) THEN json_type(custom_properties, ?) END"
	query := fmt.Sprintf(`
		SELECT MIN(custom_properties) AS sample, COUNT(*) AS occurrences
		FROM events
		WHERE site_id = ? AND timestamp >= ? AND timestamp < ?
		  AND custom_properties IS NOT NULL AND (%s) IS NOT NULL
		GROUP BY (%s), (%s)`, value, kind, value)

	var groups []propertyGroup
	err := s.db.WithContext(ctx).
		Raw(query, p.SiteID, p.From.UTC(), p.To.UTC(), path, path, path).
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("distinct values of %s for site %d: %w", p.CustomKey, p.SiteID, err)
	}

	counts := make(map[string]int64, len(groups))
	for _, g := range groups {
		if text, ok := PropertyText(&g.Sample, p.CustomKey); ok {
			counts[text] += g.Occurrences
		}
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})
	if p.Limit > 0 && len(values) > p.Limit {
		values = values[:p.Limit]
	}
	return values, nil
}

// CustomPropertyKeys returns the sorted set of top-level keys found in custom_properties.
func (s *Store) CustomPropertyKeys(ctx context.Context, siteID uint, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT j.key
		FROM events
		JOIN json_each(
			CASE WHEN json_valid(events.custom_properties) AND json_type(events.custom_properties) = 'object'
			THEN events.custom_properties ELSE '{}' END
		) AS j
		WHERE events.site_id = ? AND events.timestamp >= ? AND events.timestamp < ?
		  AND events.custom_properties IS NOT NULL
		ORDER BY j.key ASC`

	var keys []string
	if err := s.db.WithContext(ctx).Raw(query, siteID, from.UTC(), to.UTC()).Scan(&keys).Error; err != nil {
		return nil, fmt.Errorf("custom property keys for site %d: %w", siteID, err)
	}
	return keys, nil
}

// Insert stores events in batches.
func (s *Store) Insert(ctx context.Context, rows []Event) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].Timestamp = rows[i].Timestamp.UTC()
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// PageviewsForBackfill loads the pageviews in [from, to) of every visitor that still has
// a pageview without left_timestamp before settledBefore. Rows are ordered by site,
// visitor, timestamp and id.
func (s *Store) PageviewsForBackfill(ctx context.Context, from, to, settledBefore time.Time) ([]Event, error) {
	pending := s.db.Model(&Event{}).
		Select("DISTINCT site_id || ':' || visitor_hash").
		Where("type = ? AND left_timestamp IS NULL AND timestamp >= ? AND timestamp < ?",
			EventTypePageView, from.UTC(), settledBefore.UTC())

	var rows []Event
	err := s.db.WithContext(ctx).
		Select("id", "site_id", "type", "timestamp", "visitor_hash", "left_timestamp").
		Where("type = ? AND timestamp >= ? AND timestamp < ?", EventTypePageView, from.UTC(), to.UTC()).
		Where("site_id || ':' || visitor_hash IN (?)", pending).
		Order("site_id ASC, visitor_hash ASC, timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load pageviews for backfill: %w", err)
	}
	return rows, nil
}

// SetLeftTimestamps writes left_timestamp for the given event ids. Rows that already
// carry a value are left untouched.
func (s *Store) SetLeftTimestamps(ctx context.Context, left map[uint]time.Time) (int64, error) {
	if len(left) == 0 {
		return 0, nil
	}

	var updated int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, ts := range left {
			res := tx.Model(&Event{}).
				Where("id = ? AND left_timestamp IS NULL", id).
				Update("left_timestamp", ts.UTC())
			if res.Error != nil {
				return fmt.Errorf("set left_timestamp for event %d: %w", id, res.Error)
			}
			updated += res.RowsAffected
		}
		return nil
	})
	return updated, err
}
