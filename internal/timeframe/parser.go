package timeframe

import (
	"context"
	"fmt"
	"math"
	"time"

	"statsq/internal/pkg/apperrors"
)

// EarliestLookup returns the first event timestamp of the queried site, or nil when
// the site has no events. It is only called for the all_time range.
type EarliestLookup func(ctx context.Context) (*time.Time, error)

// ResolverConfig carries the defaults a Resolver applies.
type ResolverConfig struct {
	DefaultTimezone string
	MaxIntervals    int
}

// Resolver turns TimeData into a concrete Window.
type Resolver struct {
	cfg          ResolverConfig
	timeProvider TimeProvider
}

func NewResolver(cfg ResolverConfig, timeProvider ...TimeProvider) *Resolver {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.MaxIntervals <= 0 {
		cfg.MaxIntervals = 1000
	}
	return &Resolver{cfg: cfg, timeProvider: provider}
}

// Validate checks the shape of td without resolving it.
func Validate(td TimeData) error {
	hasRange := td.Range != ""
	hasDates := td.StartDate != "" || td.EndDate != ""
	switch {
	case hasRange && hasDates:
		return apperrors.NewValidationError(apperrors.CodeInvalidTimeData, "timeData",
			"range and startDate/endDate are mutually exclusive")
	case !hasRange && !hasDates:
		return apperrors.NewValidationError(apperrors.CodeInvalidTimeData, "timeData",
			"either range or startDate and endDate is required")
	case hasDates && (td.StartDate == "" || td.EndDate == ""):
		return apperrors.NewValidationError(apperrors.CodeInvalidTimeData, "timeData",
			"startDate and endDate must be given together")
	}

	if td.Intervals != nil && td.CalendarDuration != "" {
		return apperrors.NewValidationError(apperrors.CodeConflictingIntervals, "timeData",
			"intervals and calendarDuration are mutually exclusive")
	}
	if td.Intervals != nil && *td.Intervals <= 0 {
		return apperrors.NewValidationError(apperrors.CodeInvalidTimeData, "timeData.intervals",
			"intervals must be positive, got %d", *td.Intervals)
	}
	return nil
}

// Resolve computes the window and its buckets. Calendar boundaries are computed in the
// request timezone (or the configured default).
func (r *Resolver) Resolve(ctx context.Context, td TimeData, earliest EarliestLookup) (*Window, error) {
	if err := Validate(td); err != nil {
		return nil, err
	}

	tz := td.Timezone
	if tz == "" {
		tz = r.cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidTimezone, "timeData.timezone",
			"unknown timezone %q", tz)
	}

	var w *Window
	if td.Range != "" {
		w, err = r.resolveRange(ctx, NormalizeRange(td.Range), loc, earliest)
	} else {
		w, err = resolveDates(td.StartDate, td.EndDate, loc)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case td.Intervals != nil:
		if *td.Intervals > r.cfg.MaxIntervals {
			return nil, apperrors.NewValidationError(apperrors.CodeTooManyIntervals, "timeData.intervals",
				"at most %d intervals are allowed, got %d", r.cfg.MaxIntervals, *td.Intervals)
		}
		w.Intervals, err = equalIntervals(w.Start, w.End, *td.Intervals)
		w.Breakdown = true
	case td.CalendarDuration != "":
		var d CalendarDuration
		if d, err = ParseCalendarDuration(td.CalendarDuration); err != nil {
			return nil, err
		}
		w.Intervals, err = calendarIntervals(w.Start, w.End, d, r.cfg.MaxIntervals)
		w.Breakdown = true
	default:
		w.Intervals = []Interval{{Start: w.Start, End: w.End}}
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Resolver) resolveRange(ctx context.Context, label RangeLabel, loc *time.Location, earliest EarliestLookup) (*Window, error) {
	now := r.timeProvider.Now(loc)
	today := midnight(now)

	var start, end time.Time
	switch label {
	case RangeToday:
		start, end = today, addDays(today, 1)
	case RangeYesterday:
		start, end = addDays(today, -1), today
	case RangeThisWeek:
		start = startOfWeek(now)
		end = addDays(start, 7)
	case RangeLastWeek:
		end = startOfWeek(now)
		start = addDays(end, -7)
	case RangeLast24Hours:
		start, end = now.Add(-24*time.Hour), now
	case RangeLast7Days:
		start, end = addDays(today, -6), addDays(today, 1)
	case RangeLast30Days:
		start, end = addDays(today, -29), addDays(today, 1)
	case RangeLast90Days:
		start, end = addDays(today, -89), addDays(today, 1)
	case RangeThisMonth:
		start = startOfMonth(now)
		end = addMonths(start, 1)
	case RangeMonthToDate:
		start, end = startOfMonth(now), now
	case RangeLastMonth:
		end = startOfMonth(now)
		start = addMonths(end, -1)
	case RangeThisYear:
		start = startOfYear(now)
		end = start.AddDate(1, 0, 0)
	case RangeYearToDate:
		start, end = startOfYear(now), now
	case RangeLastYear:
		end = startOfYear(now)
		start = end.AddDate(-1, 0, 0)
	case RangeLast12Months:
		start = addMonths(startOfMonth(now), -11)
		end = addMonths(startOfMonth(now), 1)
	case RangeAllTime:
		start, end = now, now
		if earliest != nil {
			first, err := earliest(ctx)
			if err != nil {
				return nil, fmt.Errorf("lookup earliest event: %w", err)
			}
			if first != nil && first.Before(now) {
				start = first.In(loc)
			}
		}
	default:
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidTimeData, "timeData.range",
			"unknown range %q", label)
	}

	return &Window{Start: start, End: end, Location: loc, Label: label}, nil
}

func resolveDates(startDate, endDate string, loc *time.Location) (*Window, error) {
	start, err := parseBoundary(startDate, loc, false)
	if err != nil {
		return nil, err
	}
	end, err := parseBoundary(endDate, loc, true)
	if err != nil {
		return nil, err
	}

	for _, t := range []time.Time{start, end} {
		if t.Year() < 1970 || t.Year() > 9999 {
			return nil, apperrors.NewDataError(nil, "timestamp %s is out of range", t.Format(time.RFC3339))
		}
	}
	if !start.Before(end) {
		return nil, apperrors.NewDataError(nil, "startDate %s must be before endDate %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return &Window{Start: start, End: end, Location: loc, Label: RangeCustom}, nil
}

// parseBoundary accepts RFC 3339 timestamps, local date-times and plain dates. A plain
// end date means the end of that day, so the whole day is included.
func parseBoundary(s string, loc *time.Location, isEnd bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		if isEnd {
			return addDays(t, 1), nil
		}
		return t, nil
	}

	field := "timeData.startDate"
	if isEnd {
		field = "timeData.endDate"
	}
	return time.Time{}, apperrors.NewValidationError(apperrors.CodeInvalidTimeData, field,
		"cannot parse date %q", s)
}

// equalIntervals splits [start, end) into n buckets of equal width; the last one
// ends exactly at end.
func equalIntervals(start, end time.Time, n int) ([]Interval, error) {
	if !start.Before(end) {
		return nil, nil
	}
	total := end.Sub(start)
	if total == time.Duration(math.MaxInt64) {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidTimeData, "timeData.intervals",
			"window is too long to split into intervals")
	}

	width := total / time.Duration(n)
	out := make([]Interval, n)
	for k := 0; k < n; k++ {
		out[k] = Interval{
			Start: start.Add(width * time.Duration(k)),
			End:   start.Add(width * time.Duration(k+1)),
		}
	}
	out[n-1].End = end
	return out, nil
}

// calendarIntervals steps from start by d until end, clamping the last bucket.
func calendarIntervals(start, end time.Time, d CalendarDuration, max int) ([]Interval, error) {
	var out []Interval
	for k := 0; ; k++ {
		s := d.AddTo(start, k)
		if !s.Before(end) {
			break
		}
		if len(out) == max {
			return nil, apperrors.NewValidationError(apperrors.CodeTooManyIntervals, "timeData.calendarDuration",
				"calendar duration produces more than %d intervals", max)
		}
		e := d.AddTo(start, k+1)
		if e.After(end) {
			e = end
		}
		out = append(out, Interval{Start: s, End: e})
	}
	return out, nil
}
