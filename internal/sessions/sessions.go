// Package sessions reconstructs visitor sessions from an ordered event stream.
//
// A session is a run of pageviews of one visitor where no two consecutive pageviews
// are further apart than the session timeout. Custom events never open, extend or
// close a session; they are attached to the session that is open when they happen.
package sessions

import (
	"time"

	"statsq/internal/events"
)

// Needs selects which annotations Annotate computes.
type Needs struct {
	// Boundaries enables Session numbering. Neighbours and the entry, exit and
	// bounce flags are computed whenever any need is set.
	Boundaries bool
	// Duration enables SessionEntry and SessionExit. Implies Boundaries.
	Duration bool
	// TimeOnPage enables NextPageview based dwell times.
	TimeOnPage bool
}

// Any reports whether any annotation is requested.
func (n Needs) Any() bool {
	return n.Boundaries || n.Duration || n.TimeOnPage
}

// Merge returns the union of both needs.
func (n Needs) Merge(o Needs) Needs {
	return Needs{
		Boundaries: n.Boundaries || o.Boundaries,
		Duration:   n.Duration || o.Duration,
		TimeOnPage: n.TimeOnPage || o.TimeOnPage,
	}
}

// NoSession marks rows that belong to no session.
const NoSession = -1

// Annotated is an event plus the session facts derived from its neighbours.
type Annotated struct {
	*events.Event

	PrevPageview *time.Time
	NextPageview *time.Time

	IsEntry  bool
	IsExit   bool
	IsBounce bool

	// Session numbers the sessions of one Annotate call; NoSession when unknown.
	Session      int
	SessionEntry *time.Time
	SessionExit  *time.Time
}

// TimeOnPage returns the time until the next pageview of the same session. It is
// undefined for exits and for custom events.
func (a *Annotated) TimeOnPage() (time.Duration, bool) {
	if !a.IsPageView() || a.IsExit || a.NextPageview == nil {
		return 0, false
	}
	return a.NextPageview.Sub(a.Timestamp), true
}

// SessionDuration returns exit minus entry of the row's session.
func (a *Annotated) SessionDuration() (time.Duration, bool) {
	if a.SessionEntry == nil || a.SessionExit == nil {
		return 0, false
	}
	return a.SessionExit.Sub(*a.SessionEntry), true
}

// Annotate derives session facts for rows ordered by (site, visitor, timestamp, id).
// The returned slice is parallel to rows and points into it. When needs is empty the
// rows are only wrapped.
func Annotate(rows []events.Event, needs Needs, timeout time.Duration) []Annotated {
	out := make([]Annotated, len(rows))
	for i := range rows {
		out[i] = Annotated{Event: &rows[i], Session: NoSession}
	}
	if !needs.Any() {
		return out
	}

	session := 0
	for start := 0; start < len(out); {
		end := start + 1
		for end < len(out) && sameVisitor(out[start].Event, out[end].Event) {
			end++
		}
		session = annotateVisitor(out[start:end], needs, timeout, session)
		start = end
	}
	return out
}

func sameVisitor(a, b *events.Event) bool {
	return a.SiteID == b.SiteID && a.VisitorHash == b.VisitorHash
}

// annotateVisitor annotates the rows of one visitor and returns the next free session number.
func annotateVisitor(rows []Annotated, needs Needs, timeout time.Duration, session int) int {
	var pageviews []int
	for i := range rows {
		if rows[i].IsPageView() {
			pageviews = append(pageviews, i)
		}
	}

	for k, i := range pageviews {
		row := &rows[i]
		if k > 0 {
			prev := rows[pageviews[k-1]].Timestamp
			row.PrevPageview = &prev
		}
		if k < len(pageviews)-1 {
			next := rows[pageviews[k+1]].Timestamp
			row.NextPageview = &next
		}
		row.IsEntry = row.PrevPageview == nil || row.Timestamp.Sub(*row.PrevPageview) > timeout
		row.IsExit = row.NextPageview == nil || row.NextPageview.Sub(row.Timestamp) > timeout
		row.IsBounce = row.IsEntry && row.IsExit
	}

	if !needs.Boundaries && !needs.Duration {
		return session
	}

	// Forward pass: number sessions and carry the entry timestamp.
	current := NoSession
	var entry, lastPageview time.Time
	for i := range rows {
		row := &rows[i]
		if row.IsPageView() {
			if row.IsEntry {
				current = session
				session++
				entry = row.Timestamp
			}
			lastPageview = row.Timestamp
		} else if current != NoSession && row.Timestamp.Sub(lastPageview) > timeout {
			current = NoSession
		}
		row.Session = current
		if current != NoSession && needs.Duration {
			ts := entry
			row.SessionEntry = &ts
		}
	}

	if !needs.Duration {
		return session
	}

	// Backward pass: carry the exit timestamp of each session.
	exits := map[int]time.Time{}
	for _, i := range pageviews {
		if rows[i].IsExit {
			exits[rows[i].Session] = rows[i].Timestamp
		}
	}
	for i := range rows {
		if exit, ok := exits[rows[i].Session]; ok && rows[i].Session != NoSession {
			ts := exit
			rows[i].SessionExit = &ts
		}
	}
	return session
}
