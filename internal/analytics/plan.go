package analytics

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"statsq/internal/filters"
	"statsq/internal/sessions"
	"statsq/internal/timeframe"
)

const defaultSessionTimeout = 30 * time.Minute

// Plan is a validated request compiled against one symbol table and window.
type Plan struct {
	Request QueryRequest
	Window  *timeframe.Window
	Table   *filters.SymbolTable

	Global       filters.Predicate
	Aggregations []aggregationPlan
	Funnels      []funnelPlan

	// Derived lists the top-level derived metrics to compute.
	Derived          []string
	WantAggregations bool
	WantFunnels      bool

	Needs          sessions.Needs
	SessionTimeout time.Duration
	Workers        int

	// Warnings holds the dropped count metric names.
	Warnings []string
}

type aggregationPlan struct {
	Index   int
	Spec    Aggregation
	Field   filters.Field
	Filter  filters.Predicate
	Emit    []string
	Compute []string
}

type funnelPlan struct {
	Index int
	Name  string
	Steps []filters.Predicate
}

// NewPlan validates req and compiles every filter of it, resolving all property
// names through table.
func NewPlan(req QueryRequest, window *timeframe.Window, table *filters.SymbolTable) (*Plan, error) {
	req.Aggregations = append([]Aggregation(nil), req.Aggregations...)
	dropped, err := req.Validate()
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Request:        req,
		Window:         window,
		Table:          table,
		SessionTimeout: defaultSessionTimeout,
		Workers:        1,
		Warnings:       dropped,
	}

	sections := req.sections()
	p.WantAggregations = lo.Contains(sections, SectionAggregations)
	p.WantFunnels = lo.Contains(sections, SectionFunnels)
	p.Derived = lo.Filter(derivedMetrics, func(m string, _ int) bool {
		return lo.Contains(sections, m)
	})
	p.Needs = needsFor(p.Derived)

	if p.Global, err = filters.Compile(req.Filters, table); err != nil {
		return nil, err
	}

	if p.WantAggregations {
		for i, spec := range req.Aggregations {
			ap, err := planAggregation(i, spec, table)
			if err != nil {
				return nil, err
			}
			p.Needs = p.Needs.Merge(needsFor(ap.Compute))
			p.Aggregations = append(p.Aggregations, ap)
		}
	}

	if p.WantFunnels {
		for i, f := range req.Funnels {
			fp := funnelPlan{Index: i, Name: f.Name}
			for j, step := range f.Steps {
				pred, err := filters.Compile(step, table)
				if err != nil {
					return nil, fmt.Errorf("funnels[%d].steps[%d]: %w", i, j, err)
				}
				fp.Steps = append(fp.Steps, pred)
			}
			p.Funnels = append(p.Funnels, fp)
		}
	}

	return p, nil
}

func planAggregation(index int, spec Aggregation, table *filters.SymbolTable) (aggregationPlan, error) {
	pred, err := filters.Compile(spec.Filters, table)
	if err != nil {
		return aggregationPlan{}, fmt.Errorf("aggregations[%d]: %w", index, err)
	}

	ap := aggregationPlan{
		Index:  index,
		Spec:   spec,
		Field:  table.Resolve(spec.Property, spec.Custom),
		Filter: pred,
		Emit:   spec.Metrics,
	}
	ap.Compute = ap.Emit
	if spec.Sort != nil && lo.Contains(countMetrics, spec.Sort.Dimension) {
		ap.Compute = lo.Uniq(append(append([]string{}, ap.Emit...), spec.Sort.Dimension))
	}
	return ap, nil
}

// needsFor maps metric names to the session annotations they read.
func needsFor(metrics []string) sessions.Needs {
	var n sessions.Needs
	for _, m := range metrics {
		switch m {
		case MetricEntries, MetricExits, MetricBounceRate, MetricViewsPerSession:
			n.Boundaries = true
		case MetricSessionDuration:
			n.Duration = true
		case MetricAverageTimeSpent:
			n.TimeOnPage = true
		}
	}
	return n
}

// FetchRange is the storage range to read. Session annotations look at pageviews up
// to one timeout past the window end.
func (p *Plan) FetchRange() (time.Time, time.Time) {
	if p.Needs.Any() {
		return p.Window.Start, p.Window.End.Add(p.SessionTimeout)
	}
	return p.Window.Start, p.Window.End
}

// Pushdown returns the SQL form of the global filters, or an empty clause when the
// filters cannot be applied before session derivation.
func (p *Plan) Pushdown() (string, []any, error) {
	if p.Needs.Any() || len(p.Request.Filters) == 0 {
		return "", nil, nil
	}
	return filters.ToSQL(p.Request.Filters, p.Table)
}

// Columns lists the storage columns the plan reads besides the base columns.
func (p *Plan) Columns() []string {
	return p.Table.RequiredColumns()
}
