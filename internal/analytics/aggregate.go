package analytics

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"statsq/internal/sessions"
)

type groupKey struct {
	null  bool
	value string
}

type group struct {
	key   groupKey
	stats *sessionStats
	row   CountRow
}

// aggregate reduces the rows of one view for one aggregation.
func aggregate(ap *aggregationPlan, rows []*sessions.Annotated, interval int) []Row {
	switch ap.Spec.Type {
	case AggregationSum, AggregationAvg:
		return []Row{AggregationRow{Interval: interval, Aggregation: ap.Index, Value: reduceNumeric(ap, rows)}}
	}

	groups := countGroups(ap, rows)
	sortGroups(groups, ap.Spec.Sort)
	groups = page(groups, ap.Spec.Offset, ap.Spec.Limit)

	out := make([]Row, 0, len(groups))
	for i, g := range groups {
		row := g.stats.countRow(g.row.Value, ap.Emit)
		out = append(out, AggregationRow{Interval: interval, Aggregation: ap.Index, Position: i, Group: &row})
	}
	return out
}

func countGroups(ap *aggregationPlan, rows []*sessions.Annotated) []*group {
	byKey := make(map[groupKey]*group)
	var groups []*group
	for _, a := range rows {
		if !ap.Filter(a.Event) {
			continue
		}
		v, ok := ap.Field.Value(a.Event)
		key := groupKey{null: !ok, value: v}
		g, seen := byKey[key]
		if !seen {
			g = &group{key: key, stats: newSessionStats()}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.stats.add(a)
	}

	for _, g := range groups {
		var value *string
		if !g.key.null {
			value = ptr(g.key.value)
		}
		g.row = g.stats.countRow(value, ap.Compute)
	}
	return groups
}

// sortGroups puts groups in natural order (value ascending, null last) and then
// stable-sorts them on the requested dimension, so ties keep the natural order.
func sortGroups(groups []*group, s *Sort) {
	sort.SliceStable(groups, func(i, j int) bool {
		return naturalLess(groups[i].key, groups[j].key)
	})
	if s == nil || s.Dimension == "" {
		return
	}

	desc := !strings.EqualFold(s.Order, "asc")
	if s.Dimension == SortByValue {
		if desc {
			sort.SliceStable(groups, func(i, j int) bool {
				a, b := groups[i].key, groups[j].key
				if a.null || b.null {
					return b.null && !a.null
				}
				return a.value > b.value
			})
		}
		return
	}

	metric, ok := metricAccessor(s.Dimension)
	if !ok {
		return
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, aok := metric(&groups[i].row)
		b, bok := metric(&groups[j].row)
		if !aok || !bok {
			return aok && !bok
		}
		if desc {
			return a > b
		}
		return a < b
	})
}

func naturalLess(a, b groupKey) bool {
	if a.null || b.null {
		return b.null && !a.null
	}
	return a.value < b.value
}

// metricAccessor reads a metric of a count row as a float; false when it is nil.
func metricAccessor(name string) (func(*CountRow) (float64, bool), bool) {
	fromInt := func(get func(*CountRow) *int64) func(*CountRow) (float64, bool) {
		return func(r *CountRow) (float64, bool) {
			if v := get(r); v != nil {
				return float64(*v), true
			}
			return 0, false
		}
	}
	fromFloat := func(get func(*CountRow) *float64) func(*CountRow) (float64, bool) {
		return func(r *CountRow) (float64, bool) {
			if v := get(r); v != nil {
				return *v, true
			}
			return 0, false
		}
	}

	switch name {
	case MetricCompletions:
		return fromInt(func(r *CountRow) *int64 { return r.Completions }), true
	case MetricVisitors:
		return fromInt(func(r *CountRow) *int64 { return r.Visitors }), true
	case MetricEntries:
		return fromInt(func(r *CountRow) *int64 { return r.Entries }), true
	case MetricExits:
		return fromInt(func(r *CountRow) *int64 { return r.Exits }), true
	case MetricAverageTimeSpent:
		return fromFloat(func(r *CountRow) *float64 { return r.AverageTimeSpent }), true
	case MetricBounceRate:
		return fromFloat(func(r *CountRow) *float64 { return r.BounceRate }), true
	case MetricSessionDuration:
		return fromFloat(func(r *CountRow) *float64 { return r.SessionDuration }), true
	case MetricViewsPerSession:
		return fromFloat(func(r *CountRow) *float64 { return r.ViewsPerSession }), true
	}
	return nil, false
}

func page(groups []*group, offset, limit int) []*group {
	if offset >= len(groups) {
		return nil
	}
	groups = groups[offset:]
	if limit > 0 && limit < len(groups) {
		groups = groups[:limit]
	}
	return groups
}

// reduceNumeric sums or averages the numeric values of the property. Values that do
// not parse as numbers are skipped. A sum over no values is 0, an average is nil.
func reduceNumeric(ap *aggregationPlan, rows []*sessions.Annotated) *float64 {
	total := decimal.Zero
	var n int64
	for _, a := range rows {
		if !ap.Filter(a.Event) {
			continue
		}
		raw, ok := ap.Field.Value(a.Event)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		total = total.Add(d)
		n++
	}

	if ap.Spec.Type == AggregationSum {
		return ptr(total.InexactFloat64())
	}
	if n == 0 {
		return nil
	}
	return ptr(total.Div(decimal.NewFromInt(n)).InexactFloat64())
}
