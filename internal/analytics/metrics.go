package analytics

import (
	"time"

	"statsq/internal/sessions"
)

// sessionStats accumulates the counters behind count metrics and derived metrics.
type sessionStats struct {
	rows      int64
	pageviews int64
	visitors  map[string]struct{}
	sessions  map[int]struct{}

	entries int64
	exits   int64
	bounces int64

	durationTotal time.Duration
	durationCount int64

	timeSpentTotal time.Duration
	timeSpentCount int64
}

func newSessionStats() *sessionStats {
	return &sessionStats{
		visitors: make(map[string]struct{}),
		sessions: make(map[int]struct{}),
	}
}

func (s *sessionStats) add(a *sessions.Annotated) {
	s.rows++
	s.visitors[a.VisitorHash] = struct{}{}
	if !a.IsPageView() {
		return
	}

	s.pageviews++
	if a.Session != sessions.NoSession {
		s.sessions[a.Session] = struct{}{}
	}
	if a.IsEntry {
		s.entries++
		if d, ok := a.SessionDuration(); ok {
			s.durationTotal += d
			s.durationCount++
		}
	}
	if a.IsExit {
		s.exits++
	}
	if a.IsBounce {
		s.bounces++
	}
	if d, ok := a.TimeOnPage(); ok {
		s.timeSpentTotal += d
		s.timeSpentCount++
	}
}

func (s *sessionStats) bounceRate() *float64 {
	if s.entries == 0 {
		return nil
	}
	return ptr(float64(s.bounces) / float64(s.entries) * 100)
}

func (s *sessionStats) sessionDuration() *float64 {
	if s.durationCount == 0 {
		return nil
	}
	return ptr(s.durationTotal.Seconds() / float64(s.durationCount))
}

func (s *sessionStats) viewsPerSession() *float64 {
	if len(s.sessions) == 0 {
		return nil
	}
	return ptr(float64(s.pageviews) / float64(len(s.sessions)))
}

func (s *sessionStats) averageTimeSpent() *float64 {
	if s.timeSpentCount == 0 {
		return nil
	}
	return ptr(s.timeSpentTotal.Seconds() / float64(s.timeSpentCount))
}

// countRow fills the requested metrics of a count group.
func (s *sessionStats) countRow(value *string, metrics []string) CountRow {
	row := CountRow{Value: value}
	for _, m := range metrics {
		switch m {
		case MetricCompletions:
			row.Completions = ptr(s.rows)
		case MetricVisitors:
			row.Visitors = ptr(int64(len(s.visitors)))
		case MetricEntries:
			row.Entries = ptr(s.entries)
		case MetricExits:
			row.Exits = ptr(s.exits)
		case MetricAverageTimeSpent:
			row.AverageTimeSpent = s.averageTimeSpent()
		case MetricBounceRate:
			row.BounceRate = s.bounceRate()
		case MetricSessionDuration:
			row.SessionDuration = s.sessionDuration()
		case MetricViewsPerSession:
			row.ViewsPerSession = s.viewsPerSession()
		}
	}
	return row
}

func (s *sessionStats) derived(metrics []string) DerivedMetrics {
	var d DerivedMetrics
	for _, m := range metrics {
		switch m {
		case MetricAverageTimeSpent:
			d.AverageTimeSpent = s.averageTimeSpent()
		case MetricBounceRate:
			d.BounceRate = s.bounceRate()
		case MetricSessionDuration:
			d.SessionDuration = s.sessionDuration()
		case MetricViewsPerSession:
			d.ViewsPerSession = s.viewsPerSession()
		}
	}
	return d
}

// computeDerived returns the top-level derived metrics of one view.
func computeDerived(rows []*sessions.Annotated, metrics []string) DerivedMetrics {
	stats := newSessionStats()
	for _, a := range rows {
		stats.add(a)
	}
	return stats.derived(metrics)
}

func ptr[T any](v T) *T {
	return &v
}
