package analytics

import (
	"fmt"
	"sort"
)

// Shape assembles the row stream of Execute into a Result. Rows may arrive in any
// order; aggregations and funnels keep their declared order and count groups their
// sorted positions.
func Shape(rows []Row, p *Plan) (*Result, error) {
	res := &Result{
		Start:  p.Window.Start,
		End:    p.Window.End,
		Totals: emptyBlock(p),
	}
	if p.Window.Breakdown {
		res.Intervals = make([]IntervalBlock, len(p.Window.Intervals))
		for i, iv := range p.Window.Intervals {
			res.Intervals[i] = IntervalBlock{Start: iv.Start, End: iv.End, Block: emptyBlock(p)}
		}
	}

	block := func(interval int) (*Block, error) {
		if interval == TotalsInterval {
			return &res.Totals, nil
		}
		if interval < 0 || interval >= len(res.Intervals) {
			return nil, fmt.Errorf("row refers to unknown interval %d", interval)
		}
		return &res.Intervals[interval].Block, nil
	}

	type positioned struct {
		pos int
		row CountRow
	}
	groups := make(map[[2]int][]positioned)

	for _, r := range rows {
		b, err := block(r.IntervalIndex())
		if err != nil {
			return nil, err
		}
		switch row := r.(type) {
		case IntervalMarker:
			if row.Interval != TotalsInterval {
				res.Intervals[row.Interval].Start = row.Start
				res.Intervals[row.Interval].End = row.End
			}
		case AggregationRow:
			if row.Aggregation < 0 || row.Aggregation >= len(b.Aggregations) {
				return nil, fmt.Errorf("row refers to unknown aggregation %d", row.Aggregation)
			}
			if row.Group != nil {
				key := [2]int{row.Interval, row.Aggregation}
				groups[key] = append(groups[key], positioned{pos: row.Position, row: *row.Group})
			} else {
				b.Aggregations[row.Aggregation].Value = row.Value
			}
		case DerivedMetricRow:
			m := row.Metrics
			b.Metrics = &m
		case FunnelStepRow:
			if row.Funnel < 0 || row.Funnel >= len(b.Funnels) {
				return nil, fmt.Errorf("row refers to unknown funnel %d", row.Funnel)
			}
			steps := b.Funnels[row.Funnel].Steps
			if row.Step.Index < 0 || row.Step.Index >= len(steps) {
				return nil, fmt.Errorf("row refers to unknown step %d of funnel %d", row.Step.Index, row.Funnel)
			}
			steps[row.Step.Index] = row.Step
		default:
			return nil, fmt.Errorf("unexpected row type %T", r)
		}
	}

	for key, list := range groups {
		sort.Slice(list, func(i, j int) bool { return list[i].pos < list[j].pos })
		b, _ := block(key[0])
		out := make([]CountRow, len(list))
		for i, g := range list {
			out[i] = g.row
		}
		b.Aggregations[key[1]].Groups = out
	}
	return res, nil
}

func emptyBlock(p *Plan) Block {
	var b Block
	for _, ap := range p.Aggregations {
		b.Aggregations = append(b.Aggregations, AggregationResult{
			Index:    ap.Index,
			Type:     ap.Spec.Type,
			Property: ap.Spec.Property,
		})
	}
	for _, fp := range p.Funnels {
		steps := make([]FunnelStep, len(fp.Steps))
		for k := range steps {
			steps[k].Index = k
		}
		b.Funnels = append(b.Funnels, FunnelResult{Index: fp.Index, Name: fp.Name, Steps: steps})
	}
	return b
}
