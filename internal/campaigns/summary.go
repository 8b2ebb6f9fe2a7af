package campaigns

import (
	"cmp"
	"slices"

	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// Highlight names one group and the figure it stood out on.
type Highlight struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Summary is the headline view of a dataset across all dimensions.
type Summary struct {
	TotalLeads      int        `json:"total_leads"`
	ActiveCampaigns int        `json:"active_campaigns"`
	ActiveSources   int        `json:"active_sources"`
	ActiveMediums   int        `json:"active_mediums"`
	TrackedLeads    int        `json:"tracked_leads"`
	TrackedShare    float64    `json:"tracked_share"`
	TotalSales      int        `json:"total_sales"`
	ConversionRate  float64    `json:"conversion_rate"`
	BestCampaign    *Highlight `json:"best_campaign,omitempty"`
	WorstCampaign   *Highlight `json:"worst_campaign,omitempty"`
	TopSales        *Highlight `json:"top_sales_campaign,omitempty"`
}

// Summarize builds the headline summary. Best, worst and top-sales campaigns
// are picked among tracked campaigns with at least minLeads leads.
func (a *Aggregator) Summarize(ds *leads.Dataset, w *leads.Window, minLeads int) Summary {
	var s Summary
	distinct := map[leads.Dimension]map[leads.Attribution]struct{}{}
	for _, dim := range leads.Dimensions() {
		distinct[dim] = map[leads.Attribution]struct{}{}
	}
	ds.Filter(w).Each(func(l leads.Lead) {
		s.TotalLeads++
		for _, dim := range leads.Dimensions() {
			if attr := l.Attribution(dim); attr.IsTracked() && ds.HasDimension(dim) {
				distinct[dim][attr] = struct{}{}
			}
		}
		if l.Campaign.IsTracked() {
			s.TrackedLeads++
		}
	})
	s.ActiveCampaigns = len(distinct[leads.DimensionCampaign])
	s.ActiveSources = len(distinct[leads.DimensionSource])
	s.ActiveMediums = len(distinct[leads.DimensionMedium])
	s.TrackedShare = round1(funnel.Rate(s.TrackedLeads, s.TotalLeads))

	// Sales count by sale date, matching the period counters.
	rep := a.Aggregate(ds, Options{Dimension: leads.DimensionCampaign, MinLeads: minLeads, Window: w})
	s.TotalSales = rep.Totals.Sales
	s.ConversionRate = round1(funnel.Rate(s.TotalSales, s.TotalLeads))
	var tracked []Metrics
	for _, m := range rep.Groups {
		if m.Attribution.IsTracked() {
			tracked = append(tracked, m)
		}
	}
	if len(tracked) == 0 {
		return s
	}

	var withSales []Metrics
	for _, m := range tracked {
		if m.Sales > 0 {
			withSales = append(withSales, m)
		}
	}
	if len(withSales) > 0 {
		best := first(withSales, SortConversionRate)
		s.BestCampaign = &Highlight{Name: best.Name(), Value: round1(best.ConversionRate()), Count: best.Sales}
	}
	if worst := first(tracked, SortDisqualificationRate); worst.DisqualificationRate() > 0 {
		s.WorstCampaign = &Highlight{Name: worst.Name(), Value: round1(worst.DisqualificationRate()), Count: worst.Disqualified}
	}
	if top := first(tracked, SortSales); top.Sales > 0 {
		s.TopSales = &Highlight{Name: top.Name(), Value: float64(top.Sales), Count: top.TotalLeads}
	}
	return s
}

func first(ms []Metrics, key SortKey) Metrics {
	return slices.MinFunc(ms, key.compare)
}

// ReasonShare counts one disqualification reason inside a group.
type ReasonShare struct {
	Group      string  `json:"group" csv:"group"`
	Reason     string  `json:"reason" csv:"reason"`
	Count      int     `json:"count" csv:"count"`
	GroupTotal int     `json:"group_total" csv:"group_total"`
	Share      float64 `json:"share" csv:"share"`
}

// UnspecifiedReason labels disqualified leads without a recorded reason.
const UnspecifiedReason = "(unspecified)"

// DisqualificationReasons breaks disqualified leads down by group and reason.
// Groups with more disqualifications come first, then larger reasons.
func (a *Aggregator) DisqualificationReasons(ds *leads.Dataset, dim leads.Dimension, w *leads.Window) []ReasonShare {
	type key struct {
		group  leads.Attribution
		reason string
	}
	counts := map[key]int{}
	totals := map[leads.Attribution]int{}
	if !ds.HasDimension(dim) {
		return nil
	}
	ds.Filter(w).Each(func(l leads.Lead) {
		if !a.Classifier.DisqualifiedLabel(l.Status) {
			return
		}
		reason := l.DisqualificationReason
		if reason == "" {
			reason = UnspecifiedReason
		}
		g := l.Attribution(dim)
		counts[key{g, reason}]++
		totals[g]++
	})

	out := make([]ReasonShare, 0, len(counts))
	for k, n := range counts {
		out = append(out, ReasonShare{
			Group:      k.group.Name(),
			Reason:     k.reason,
			Count:      n,
			GroupTotal: totals[k.group],
			Share:      round1(funnel.Rate(n, totals[k.group])),
		})
	}
	slices.SortFunc(out, func(x, y ReasonShare) int {
		return cmp.Or(
			cmp.Compare(y.GroupTotal, x.GroupTotal),
			cmp.Compare(x.Group, y.Group),
			cmp.Compare(y.Count, x.Count),
			cmp.Compare(x.Reason, y.Reason),
		)
	})
	return out
}

// TrendPoint is the number of leads a group created on one day.
type TrendPoint struct {
	Date  string `json:"date" csv:"date"`
	Group string `json:"group" csv:"group"`
	Leads int    `json:"leads" csv:"leads"`
}

// DailyTrend returns daily lead counts for the topN groups by volume. Days are
// UTC calendar days.
func (a *Aggregator) DailyTrend(ds *leads.Dataset, dim leads.Dimension, w *leads.Window, topN int) []TrendPoint {
	if !ds.HasDimension(dim) {
		return nil
	}
	view := ds.Filter(w)
	rep := a.Aggregate(view, Options{Dimension: dim})
	if topN > 0 && len(rep.All) > topN {
		rep.All = rep.All[:topN]
	}
	top := make(map[leads.Attribution]bool, len(rep.All))
	for _, m := range rep.All {
		top[m.Attribution] = true
	}

	type key struct {
		day   string
		group string
	}
	counts := map[key]int{}
	view.Each(func(l leads.Lead) {
		g := l.Attribution(dim)
		if top[g] {
			counts[key{l.CreatedAt.Format("2006-01-02"), g.Name()}]++
		}
	})
	out := make([]TrendPoint, 0, len(counts))
	for k, n := range counts {
		out = append(out, TrendPoint{Date: k.day, Group: k.group, Leads: n})
	}
	slices.SortFunc(out, func(x, y TrendPoint) int {
		return cmp.Or(cmp.Compare(x.Date, y.Date), cmp.Compare(x.Group, y.Group))
	})
	return out
}
