package funnel

import (
	"math"

	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// PeriodSummary is the whole-dataset funnel for one reporting window.
type PeriodSummary struct {
	Window         string  `json:"window"`
	TotalLeads     int     `json:"total_leads"`
	DemosScheduled int     `json:"demos_scheduled"`
	DemosCompleted int     `json:"demos_completed"`
	Disqualified   int     `json:"disqualified"`
	NoShows        int     `json:"no_shows"`
	Sales          int     `json:"sales"`
	ConversionRate float64 `json:"conversion_rate"`
	NoShowRate     float64 `json:"no_show_rate"`
}

// Summarize totals the funnel across all leads. Conversion here is end to end
// (sales over leads created), unlike the per-group rate which is over demos.
func (c *Classifier) Summarize(ds *leads.Dataset, w *leads.Window) PeriodSummary {
	var cnt Counts
	ds.Each(func(l leads.Lead) { c.Add(&cnt, l, w) })
	return PeriodSummary{
		Window:         w.String(),
		TotalLeads:     cnt.Leads,
		DemosScheduled: cnt.DemosScheduled,
		DemosCompleted: cnt.DemosCompleted,
		Disqualified:   cnt.Disqualified,
		NoShows:        cnt.NoShows,
		Sales:          cnt.Sales,
		ConversionRate: round1(Rate(cnt.Sales, cnt.Leads)),
		NoShowRate:     round1(Rate(cnt.NoShows, cnt.DemosScheduled)),
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
