package analytics

import "time"

// TotalsInterval is the interval index of rows that describe the whole window.
const TotalsInterval = -1

// Row is one item of the executor's output stream. The concrete types are
// IntervalMarker, AggregationRow, DerivedMetricRow and FunnelStepRow.
type Row interface {
	IntervalIndex() int
	isRow()
}

// IntervalMarker announces an interval and its bounds.
type IntervalMarker struct {
	Interval int
	Start    time.Time
	End      time.Time
}

// AggregationRow carries one count group (Group, at Position after sorting and
// paging) or the value of a sum or avg aggregation.
type AggregationRow struct {
	Interval    int
	Aggregation int
	Position    int
	Group       *CountRow
	Value       *float64
}

type DerivedMetricRow struct {
	Interval int
	Metrics  DerivedMetrics
}

type FunnelStepRow struct {
	Interval int
	Funnel   int
	Step     FunnelStep
}

func (r IntervalMarker) IntervalIndex() int   { return r.Interval }
func (r AggregationRow) IntervalIndex() int   { return r.Interval }
func (r DerivedMetricRow) IntervalIndex() int { return r.Interval }
func (r FunnelStepRow) IntervalIndex() int    { return r.Interval }

func (IntervalMarker) isRow()   {}
func (AggregationRow) isRow()   {}
func (DerivedMetricRow) isRow() {}
func (FunnelStepRow) isRow()    {}
