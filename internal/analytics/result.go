package analytics

import "time"

// Result is the answer to a QueryRequest.
type Result struct {
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Totals    Block           `json:"totals"`
	Intervals []IntervalBlock `json:"intervals,omitempty"`
}

// Block holds the statistics of the whole window or of one interval.
type Block struct {
	Aggregations []AggregationResult `json:"aggregations,omitempty"`
	Metrics      *DerivedMetrics     `json:"metrics,omitempty"`
	Funnels      []FunnelResult      `json:"funnels,omitempty"`
}

type IntervalBlock struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Block
}

// AggregationResult holds count groups, or the reduced value of sum and avg.
type AggregationResult struct {
	Index    int             `json:"index"`
	Type     AggregationType `json:"type"`
	Property string          `json:"property"`
	Groups   []CountRow      `json:"groups,omitempty"`
	Value    *float64        `json:"value,omitempty"`
}

// CountRow is one group of a count aggregation. Value is nil for the group of rows
// where the property is null. Metrics that were not requested stay nil.
type CountRow struct {
	Value            *string  `json:"value"`
	Completions      *int64   `json:"completions,omitempty"`
	Visitors         *int64   `json:"visitors,omitempty"`
	Entries          *int64   `json:"entries,omitempty"`
	Exits            *int64   `json:"exits,omitempty"`
	AverageTimeSpent *float64 `json:"averageTimeSpent,omitempty"`
	BounceRate       *float64 `json:"bounceRate,omitempty"`
	SessionDuration  *float64 `json:"sessionDuration,omitempty"`
	ViewsPerSession  *float64 `json:"viewsPerSession,omitempty"`
}

// DerivedMetrics are the session metrics over all filtered rows. Durations are in seconds.
type DerivedMetrics struct {
	AverageTimeSpent *float64 `json:"averageTimeSpent,omitempty"`
	BounceRate       *float64 `json:"bounceRate,omitempty"`
	SessionDuration  *float64 `json:"sessionDuration,omitempty"`
	ViewsPerSession  *float64 `json:"viewsPerSession,omitempty"`
}

type FunnelResult struct {
	Index int          `json:"index"`
	Name  string       `json:"name"`
	Steps []FunnelStep `json:"steps"`
}

// FunnelStep counts the visitors that reached a step. Conversions are nil when the
// step they divide by has no visitors.
type FunnelStep struct {
	Index                  int      `json:"index"`
	Visitors               int64    `json:"visitors"`
	ConversionFromPrevious *float64 `json:"conversionFromPrevious,omitempty"`
	ConversionFromFirst    *float64 `json:"conversionFromFirst,omitempty"`
}
