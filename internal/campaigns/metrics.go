// Package campaigns groups leads by an attribution dimension and computes
// funnel metrics for every group.
package campaigns

import (
	"math"

	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// Metrics is the funnel of one attribution group. Rates are percentages and
// are 0 whenever their denominator is 0.
type Metrics struct {
	Attribution    leads.Attribution `json:"name"`
	TotalLeads     int               `json:"total_leads"`
	DemosScheduled int               `json:"demos_scheduled"`
	DemosCompleted int               `json:"demos_completed"`
	Disqualified   int               `json:"disqualified"`
	Sales          int               `json:"sales"`
	NoShows        int               `json:"no_shows"`
}

// FromCounts wraps funnel counters for a group.
func FromCounts(a leads.Attribution, c funnel.Counts) Metrics {
	return Metrics{
		Attribution:    a,
		TotalLeads:     c.Leads,
		DemosScheduled: c.DemosScheduled,
		DemosCompleted: c.DemosCompleted,
		Disqualified:   c.Disqualified,
		Sales:          c.Sales,
		NoShows:        c.NoShows,
	}
}

// Name is the display name of the group.
func (m Metrics) Name() string { return m.Attribution.Name() }

func (m Metrics) SchedulingRate() float64 { return funnel.Rate(m.DemosScheduled, m.TotalLeads) }

func (m Metrics) CompletionRate() float64 { return funnel.Rate(m.DemosCompleted, m.DemosScheduled) }

func (m Metrics) DisqualificationRate() float64 {
	return funnel.Rate(m.Disqualified, m.DemosCompleted)
}

func (m Metrics) ConversionRate() float64 { return funnel.Rate(m.Sales, m.DemosCompleted) }

func (m Metrics) NoShowRate() float64 { return funnel.Rate(m.NoShows, m.DemosScheduled) }

// FunnelEfficiency is the end-to-end rate: sales over leads.
func (m Metrics) FunnelEfficiency() float64 { return funnel.Rate(m.Sales, m.TotalLeads) }

// UtilizationRate is the share of held demos that were not disqualified.
func (m Metrics) UtilizationRate() float64 {
	return funnel.Rate(m.DemosCompleted-m.Disqualified, m.DemosCompleted)
}

// Value returns a metric by its column name; ok is false for unknown names.
func (m Metrics) Value(metric string) (float64, bool) {
	switch metric {
	case "total_leads":
		return float64(m.TotalLeads), true
	case "demos_scheduled":
		return float64(m.DemosScheduled), true
	case "demos_completed":
		return float64(m.DemosCompleted), true
	case "disqualified":
		return float64(m.Disqualified), true
	case "sales":
		return float64(m.Sales), true
	case "no_shows":
		return float64(m.NoShows), true
	case "scheduling_rate":
		return m.SchedulingRate(), true
	case "completion_rate":
		return m.CompletionRate(), true
	case "disqualification_rate":
		return m.DisqualificationRate(), true
	case "conversion_rate":
		return m.ConversionRate(), true
	case "no_show_rate":
		return m.NoShowRate(), true
	case "funnel_efficiency":
		return m.FunnelEfficiency(), true
	case "utilization_rate":
		return m.UtilizationRate(), true
	}
	return 0, false
}

// Row is the flat table form of Metrics used for display and export.
type Row struct {
	Name                 string  `json:"name" csv:"name"`
	Tracked              bool    `json:"tracked" csv:"tracked"`
	TotalLeads           int     `json:"total_leads" csv:"total_leads"`
	DemosScheduled       int     `json:"demos_scheduled" csv:"demos_scheduled"`
	DemosCompleted       int     `json:"demos_completed" csv:"demos_completed"`
	Disqualified         int     `json:"disqualified" csv:"disqualified"`
	Sales                int     `json:"sales" csv:"sales"`
	NoShows              int     `json:"no_shows" csv:"no_shows"`
	SchedulingRate       float64 `json:"scheduling_rate" csv:"scheduling_rate"`
	CompletionRate       float64 `json:"completion_rate" csv:"completion_rate"`
	DisqualificationRate float64 `json:"disqualification_rate" csv:"disqualification_rate"`
	ConversionRate       float64 `json:"conversion_rate" csv:"conversion_rate"`
	NoShowRate           float64 `json:"no_show_rate" csv:"no_show_rate"`
	FunnelEfficiency     float64 `json:"funnel_efficiency" csv:"funnel_efficiency"`
	UtilizationRate      float64 `json:"utilization_rate" csv:"utilization_rate"`
}

// Row flattens m with rates rounded to one decimal.
func (m Metrics) Row() Row {
	return Row{
		Name:                 m.Name(),
		Tracked:              m.Attribution.IsTracked(),
		TotalLeads:           m.TotalLeads,
		DemosScheduled:       m.DemosScheduled,
		DemosCompleted:       m.DemosCompleted,
		Disqualified:         m.Disqualified,
		Sales:                m.Sales,
		NoShows:              m.NoShows,
		SchedulingRate:       round1(m.SchedulingRate()),
		CompletionRate:       round1(m.CompletionRate()),
		DisqualificationRate: round1(m.DisqualificationRate()),
		ConversionRate:       round1(m.ConversionRate()),
		NoShowRate:           round1(m.NoShowRate()),
		FunnelEfficiency:     round1(m.FunnelEfficiency()),
		UtilizationRate:      round1(m.UtilizationRate()),
	}
}

// Rows flattens a metrics list, preserving order.
func Rows(ms []Metrics) []Row {
	out := make([]Row, len(ms))
	for i, m := range ms {
		out[i] = m.Row()
	}
	return out
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
