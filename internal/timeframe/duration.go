package timeframe

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"statsq/internal/pkg/apperrors"
)

var (
	calendarDurationPattern = regexp.MustCompile(`(?i)^\s*(\d+\s*(year|month|week|day|hour|minute|second)s?\s*)+$`)
	calendarDurationPart    = regexp.MustCompile(`(?i)(\d+)\s*(year|month|week|day|hour|minute|second)`)
)

// CalendarDuration is a duration applied with calendar arithmetic: years and months
// move the date (clamping the day of month), days move the wall clock date and the
// clock part is added as elapsed time.
type CalendarDuration struct {
	Years  int
	Months int
	Days   int
	Clock  time.Duration
}

// ParseCalendarDuration parses strings such as "1 day", "2 weeks" or "1 month 15 days".
func ParseCalendarDuration(s string) (CalendarDuration, error) {
	var d CalendarDuration
	if !calendarDurationPattern.MatchString(s) {
		return d, apperrors.NewValidationError(apperrors.CodeInvalidDuration, "timeData.calendarDuration",
			"invalid calendar duration %q", s)
	}

	for _, part := range calendarDurationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(part[1])
		if err != nil || n > 1_000_000 {
			return d, apperrors.NewValidationError(apperrors.CodeInvalidDuration, "timeData.calendarDuration",
				"calendar duration amount %q is out of range", part[1])
		}
		switch strings.ToLower(part[2]) {
		case "year":
			d.Years += n
		case "month":
			d.Months += n
		case "week":
			d.Days += 7 * n
		case "day":
			d.Days += n
		case "hour":
			d.Clock += time.Duration(n) * time.Hour
		case "minute":
			d.Clock += time.Duration(n) * time.Minute
		case "second":
			d.Clock += time.Duration(n) * time.Second
		}
	}

	if d.IsZero() {
		return d, apperrors.NewValidationError(apperrors.CodeInvalidDuration, "timeData.calendarDuration",
			"calendar duration %q is zero", s)
	}
	return d, nil
}

// IsZero reports whether the duration advances time at all.
func (d CalendarDuration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Days == 0 && d.Clock == 0
}

// AddTo returns t advanced by k times the duration. Computing every step from the
// same origin keeps month ends stable: Jan 31 + 1 month is Feb 28 (or 29) and
// Jan 31 + 2 months is Mar 31.
func (d CalendarDuration) AddTo(t time.Time, k int) time.Time {
	y, m, day := t.Date()
	hh, mm, ss := t.Clock()
	loc := t.Location()

	months := int(m) - 1 + k*(d.Years*12+d.Months)
	year := y + floorDiv(months, 12)
	month := time.Month(months - floorDiv(months, 12)*12 + 1)
	if last := daysIn(year, month, loc); day > last {
		day = last
	}

	out := time.Date(year, month, day+k*d.Days, hh, mm, ss, t.Nanosecond(), loc)
	return out.Add(time.Duration(k) * d.Clock)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
