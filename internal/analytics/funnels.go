package analytics

import (
	"time"

	"statsq/internal/sessions"
)

type funnelProgress struct {
	step int
	last time.Time
}

// evaluateFunnel walks each visitor's rows in time order and advances a greedy
// chain: step k matches the earliest row after the match of step k-1.
func evaluateFunnel(fp *funnelPlan, rows []*sessions.Annotated, interval int) []Row {
	counts := make([]int64, len(fp.Steps))
	progress := make(map[string]*funnelProgress)

	for _, a := range rows {
		p, ok := progress[a.VisitorHash]
		if !ok {
			p = &funnelProgress{}
			progress[a.VisitorHash] = p
		}
		if p.step == len(fp.Steps) {
			continue
		}
		if p.step > 0 && !a.Timestamp.After(p.last) {
			continue
		}
		if fp.Steps[p.step](a.Event) {
			counts[p.step]++
			p.last = a.Timestamp
			p.step++
		}
	}

	out := make([]Row, len(fp.Steps))
	for k, c := range counts {
		step := FunnelStep{Index: k, Visitors: c}
		if k > 0 {
			step.ConversionFromPrevious = ratio(c, counts[k-1])
			step.ConversionFromFirst = ratio(c, counts[0])
		}
		out[k] = FunnelStepRow{Interval: interval, Funnel: fp.Index, Step: step}
	}
	return out
}

func ratio(n, d int64) *float64 {
	if d == 0 {
		return nil
	}
	return ptr(float64(n) / float64(d))
}
