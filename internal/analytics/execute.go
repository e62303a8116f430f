package analytics

import (
	"context"
	"fmt"
	"strconv"

	"statsq/internal/events"
	"statsq/internal/pkg/async"
	"statsq/internal/sessions"
)

type view struct {
	interval int
	rows     []*sessions.Annotated
}

// Execute runs the plan over rows read for p.FetchRange and returns the row stream.
// The totals view and every interval are computed concurrently on p.Workers workers.
func Execute(ctx context.Context, p *Plan, rows []events.Event) ([]Row, error) {
	annotated := sessions.Annotate(rows, p.Needs, p.SessionTimeout)

	totals := view{interval: TotalsInterval}
	var intervals []view
	if p.Window.Breakdown {
		intervals = make([]view, len(p.Window.Intervals))
		for i := range intervals {
			intervals[i].interval = i
		}
	}

	for i := range annotated {
		a := &annotated[i]
		if a.Timestamp.Before(p.Window.Start) || !a.Timestamp.Before(p.Window.End) {
			continue
		}
		if !p.Global(a.Event) {
			continue
		}
		totals.rows = append(totals.rows, a)
		if intervals != nil {
			if k := p.Window.IntervalIndex(a.Timestamp); k >= 0 {
				intervals[k].rows = append(intervals[k].rows, a)
			}
		}
	}

	tasks := make([]async.Task[[]Row], 0, len(intervals)+1)
	for _, v := range append([]view{totals}, intervals...) {
		v := v
		tasks = append(tasks, async.Task[[]Row]{
			Name: strconv.Itoa(v.interval),
			Execute: func(ctx context.Context) ([]Row, error) {
				return computeView(ctx, p, v)
			},
		})
	}

	results := async.NewPool[[]Row](p.Workers).Execute(ctx, tasks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Row
	for _, task := range tasks {
		res, ok := results[task.Name]
		if !ok {
			return nil, fmt.Errorf("interval %s produced no result", task.Name)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("interval %s: %w", task.Name, res.Err)
		}
		out = append(out, res.Data...)
	}
	return out, nil
}

func computeView(ctx context.Context, p *Plan, v view) ([]Row, error) {
	var out []Row
	if v.interval != TotalsInterval {
		iv := p.Window.Intervals[v.interval]
		out = append(out, IntervalMarker{Interval: v.interval, Start: iv.Start, End: iv.End})
	} else {
		out = append(out, IntervalMarker{Interval: v.interval, Start: p.Window.Start, End: p.Window.End})
	}

	for i := range p.Aggregations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, aggregate(&p.Aggregations[i], v.rows, v.interval)...)
	}

	if len(p.Derived) > 0 {
		out = append(out, DerivedMetricRow{Interval: v.interval, Metrics: computeDerived(v.rows, p.Derived)})
	}

	for i := range p.Funnels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, evaluateFunnel(&p.Funnels[i], v.rows, v.interval)...)
	}
	return out, nil
}
