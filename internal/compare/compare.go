// Package compare pairs the metrics of two reporting periods.
package compare

import (
	"math"
	"slices"

	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// Trend classifies a percentage change.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Deadband is the percentage change, either way, still reported as stable.
const Deadband = 5.0

// Metrics compared for every group, in output order.
var Metrics = []string{"total_leads", "demos_completed", "disqualification_rate", "conversion_rate", "no_show_rate", "sales"}

// PeriodComparison is one metric measured in two periods.
type PeriodComparison struct {
	Metric   string  `json:"metric"`
	Current  float64 `json:"current_value"`
	Previous float64 `json:"previous_value"`
}

// AbsoluteChange is Current minus Previous.
func (p PeriodComparison) AbsoluteChange() float64 { return p.Current - p.Previous }

// PercentageChange is the relative change. It is 0 when both values are 0
// and 100 when only the previous value is 0.
func (p PeriodComparison) PercentageChange() float64 {
	if p.Previous == 0 {
		if p.Current > 0 {
			return 100
		}
		return 0
	}
	return (p.Current - p.Previous) * 100 / math.Abs(p.Previous)
}

// Trend applies the deadband to PercentageChange.
func (p PeriodComparison) Trend() Trend {
	switch pc := p.PercentageChange(); {
	case pc > Deadband:
		return TrendUp
	case pc < -Deadband:
		return TrendDown
	}
	return TrendStable
}

// Change is the serialized form of PeriodComparison with derived fields.
type Change struct {
	Metric           string  `json:"metric" csv:"metric"`
	Current          float64 `json:"current_value" csv:"current_value"`
	Previous         float64 `json:"previous_value" csv:"previous_value"`
	AbsoluteChange   float64 `json:"absolute_change" csv:"absolute_change"`
	PercentageChange float64 `json:"percentage_change" csv:"percentage_change"`
	Trend            Trend   `json:"trend" csv:"trend"`
}

// Change renders p with rounded derived fields.
func (p PeriodComparison) Change() Change {
	return Change{
		Metric:           p.Metric,
		Current:          round1(p.Current),
		Previous:         round1(p.Previous),
		AbsoluteChange:   round1(p.AbsoluteChange()),
		PercentageChange: round1(p.PercentageChange()),
		Trend:            p.Trend(),
	}
}

// GroupComparison holds every compared metric for one group.
type GroupComparison struct {
	Attribution leads.Attribution
	Metrics     []PeriodComparison
}

// Name is the group's display name.
func (g GroupComparison) Name() string { return g.Attribution.Name() }

// Get returns the comparison for metric.
func (g GroupComparison) Get(metric string) (PeriodComparison, bool) {
	for _, m := range g.Metrics {
		if m.Metric == metric {
			return m, true
		}
	}
	return PeriodComparison{}, false
}

// Compare pairs every group found in either report. A group missing from one
// period is compared against zero metrics. An empty previous report yields nil:
// no comparison is available. Output is ordered by group name.
func Compare(current, previous campaigns.Report) []GroupComparison {
	if previous.Empty() {
		return nil
	}
	cur := index(current.All)
	prev := index(previous.All)

	keys := make([]leads.Attribution, 0, len(cur)+len(prev))
	for _, m := range current.All {
		keys = append(keys, m.Attribution)
	}
	for _, m := range previous.All {
		if _, ok := cur[m.Attribution]; !ok {
			keys = append(keys, m.Attribution)
		}
	}
	slices.SortFunc(keys, func(a, b leads.Attribution) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})

	out := make([]GroupComparison, 0, len(keys))
	for _, k := range keys {
		c, p := cur[k], prev[k]
		c.Attribution, p.Attribution = k, k
		out = append(out, Pair(c, p))
	}
	return out
}

// Pair compares two metric sets of the same group.
func Pair(current, previous campaigns.Metrics) GroupComparison {
	g := GroupComparison{Attribution: current.Attribution, Metrics: make([]PeriodComparison, 0, len(Metrics))}
	for _, name := range Metrics {
		c, _ := current.Value(name)
		p, _ := previous.Value(name)
		g.Metrics = append(g.Metrics, PeriodComparison{Metric: name, Current: c, Previous: p})
	}
	return g
}

func index(ms []campaigns.Metrics) map[leads.Attribution]campaigns.Metrics {
	out := make(map[leads.Attribution]campaigns.Metrics, len(ms))
	for _, m := range ms {
		out[m.Attribution] = m
	}
	return out
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }

// GroupChanges is the serialized form of GroupComparison.
type GroupChanges struct {
	Group   string   `json:"group"`
	Tracked bool     `json:"tracked"`
	Changes []Change `json:"changes"`
}

// Flatten renders comparisons for output, preserving order.
func Flatten(gs []GroupComparison) []GroupChanges {
	out := make([]GroupChanges, len(gs))
	for i, g := range gs {
		out[i] = GroupChanges{Group: g.Name(), Tracked: g.Attribution.IsTracked(), Changes: make([]Change, len(g.Metrics))}
		for j, m := range g.Metrics {
			out[i].Changes[j] = m.Change()
		}
	}
	return out
}
