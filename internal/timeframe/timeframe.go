package timeframe

import (
	"sort"
	"strings"
	"time"
)

// RangeLabel names a symbolic time range.
type RangeLabel string

const (
	RangeToday        RangeLabel = "today"
	RangeYesterday    RangeLabel = "yesterday"
	RangeThisWeek     RangeLabel = "this_week"
	RangeLastWeek     RangeLabel = "last_week"
	RangeLast24Hours  RangeLabel = "last_24_hours"
	RangeLast7Days    RangeLabel = "last_7_days"
	RangeLast30Days   RangeLabel = "last_30_days"
	RangeLast90Days   RangeLabel = "last_90_days"
	RangeThisMonth    RangeLabel = "this_month"
	RangeMonthToDate  RangeLabel = "month_to_date"
	RangeLastMonth    RangeLabel = "last_month"
	RangeThisYear     RangeLabel = "this_year"
	RangeYearToDate   RangeLabel = "year_to_date"
	RangeLastYear     RangeLabel = "last_year"
	RangeLast12Months RangeLabel = "last_12_months"
	RangeAllTime      RangeLabel = "all_time"
	RangeCustom       RangeLabel = "custom"
)

// NormalizeRange folds case and treats spaces, dashes and underscores alike,
// so "Last week" and "last-week" both name RangeLastWeek.
func NormalizeRange(s string) RangeLabel {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return RangeLabel(s)
}

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time in loc.
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// TimeData is the time part of a query: a symbolic range or explicit dates, and
// at most one bucketing scheme.
type TimeData struct {
	Range            string `json:"range,omitempty" yaml:"range,omitempty"`
	StartDate        string `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate          string `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Intervals        *int   `json:"intervals,omitempty" yaml:"intervals,omitempty"`
	CalendarDuration string `json:"calendarDuration,omitempty" yaml:"calendarDuration,omitempty"`
	Timezone         string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Window is a resolved TimeData. Intervals always covers [Start, End) without gaps;
// when Breakdown is false it holds the single interval [Start, End).
type Window struct {
	Start     time.Time
	End       time.Time
	Location  *time.Location
	Label     RangeLabel
	Intervals []Interval
	Breakdown bool
}

// Duration returns the length of the window.
func (w *Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IntervalIndex returns the index of the interval containing t, or -1.
func (w *Window) IntervalIndex(t time.Time) int {
	i := sort.Search(len(w.Intervals), func(i int) bool {
		return t.Before(w.Intervals[i].End)
	})
	if i < len(w.Intervals) && w.Intervals[i].Contains(t) {
		return i
	}
	return -1
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func addDays(t time.Time, days int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// startOfWeek returns midnight of the Sunday starting t's week.
func startOfWeek(t time.Time) time.Time {
	return addDays(midnight(t), -int(t.Weekday()))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

func addMonths(t time.Time, months int) time.Time {
	return time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, t.Location())
}
