package insights

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/compare"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// Thresholds parameterize the default rules. Rates are percentages.
type Thresholds struct {
	HighDisqualification     float64 `mapstructure:"high_disqualification" validate:"gte=0,lte=100"`
	CriticalDisqualification float64 `mapstructure:"critical_disqualification" validate:"gtefield=HighDisqualification,lte=100"`
	DisqualificationCap      int     `mapstructure:"disqualification_cap" validate:"gte=0"`

	HighNoShow         float64 `mapstructure:"high_no_show" validate:"gte=0,lte=100"`
	NoShowMinScheduled int     `mapstructure:"no_show_min_scheduled" validate:"gte=0"`
	NoShowCap          int     `mapstructure:"no_show_cap" validate:"gte=0"`

	LowConversion                 float64 `mapstructure:"low_conversion" validate:"gte=0,lte=100"`
	MissedOpportunityMinCompleted int     `mapstructure:"missed_opportunity_min_completed" validate:"gte=0"`
	MissedOpportunityCap          int     `mapstructure:"missed_opportunity_cap" validate:"gte=0"`

	UntrackedShare float64 `mapstructure:"untracked_share" validate:"gte=0,lte=100"`

	SalesDrop            float64 `mapstructure:"sales_drop" validate:"gte=0"`
	SalesDropMinPrevious float64 `mapstructure:"sales_drop_min_previous" validate:"gte=0"`

	DisqualificationRise           float64 `mapstructure:"disqualification_rise" validate:"gte=0,lte=100"`
	DisqualificationRiseMinCurrent float64 `mapstructure:"disqualification_rise_min_current" validate:"gte=0,lte=100"`

	ZeroConversionMinCompleted int `mapstructure:"zero_conversion_min_completed" validate:"gte=0"`
	ZeroConversionNames        int `mapstructure:"zero_conversion_names" validate:"gte=0"`
}

// DefaultThresholds returns the stock rule parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighDisqualification:           40,
		CriticalDisqualification:       60,
		DisqualificationCap:            3,
		HighNoShow:                     30,
		NoShowMinScheduled:             5,
		NoShowCap:                      2,
		LowConversion:                  10,
		MissedOpportunityMinCompleted:  10,
		MissedOpportunityCap:           2,
		UntrackedShare:                 10,
		SalesDrop:                      20,
		SalesDropMinPrevious:           3,
		DisqualificationRise:           15,
		DisqualificationRiseMinCurrent: 30,
		ZeroConversionMinCompleted:     5,
		ZeroConversionNames:            3,
	}
}

// Input is what the rules see. Groups are the current period's groups that
// met the minimum size, in descending volume order.
type Input struct {
	Groups      []campaigns.Metrics
	Comparisons []compare.GroupComparison
	Dimension   leads.Dimension
}

func (in Input) noun() string {
	switch in.Dimension {
	case leads.DimensionSource:
		return "source"
	case leads.DimensionMedium:
		return "medium"
	}
	return "campaign"
}

func (in Input) totalLeads() int {
	n := 0
	for _, m := range in.Groups {
		n += m.TotalLeads
	}
	return n
}

// Rule is a named pure function from metrics to insights.
type Rule struct {
	Name string
	Eval func(Input, Thresholds) []Insight
}

// DefaultRules returns the stock rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "top_volume", Eval: topVolume},
		{Name: "best_conversion", Eval: bestConversion},
		{Name: "high_disqualification", Eval: highDisqualification},
		{Name: "high_no_show", Eval: highNoShow},
		{Name: "missed_opportunity", Eval: missedOpportunity},
		{Name: "untracked_share", Eval: untrackedShare},
		{Name: "sales_regression", Eval: salesRegression},
		{Name: "disqualification_rise", Eval: disqualificationRise},
		{Name: "best_efficiency", Eval: bestEfficiency},
		{Name: "zero_conversion", Eval: zeroConversion},
	}
}

// best returns the group ranked first by key, or false for an empty list.
func best(ms []campaigns.Metrics, key campaigns.SortKey) (campaigns.Metrics, bool) {
	if len(ms) == 0 {
		return campaigns.Metrics{}, false
	}
	top := ms[0]
	for _, m := range ms[1:] {
		if key.Less(m, top) {
			top = m
		}
	}
	return top, true
}

func topVolume(in Input, _ Thresholds) []Insight {
	m, ok := best(in.Groups, campaigns.SortTotalLeads)
	if !ok {
		return nil
	}
	share := 0.0
	if total := in.totalLeads(); total > 0 {
		share = float64(m.TotalLeads) / float64(total) * 100
	}
	return []Insight{{
		Kind:        KindPositive,
		Title:       "Highest lead volume",
		Description: fmt.Sprintf("%s '%s' leads with %d leads (%.1f%% of the total).", capitalize(in.noun()), m.Name(), m.TotalLeads, share),
		MetricValue: metric(float64(m.TotalLeads)),
		MetricLabel: "leads",
		Campaign:    m.Name(),
		Priority:    PriorityMedium,
	}}
}

func bestConversion(in Input, _ Thresholds) []Insight {
	var withSales []campaigns.Metrics
	for _, m := range in.Groups {
		if m.Sales > 0 {
			withSales = append(withSales, m)
		}
	}
	m, ok := best(withSales, campaigns.SortConversionRate)
	if !ok {
		return nil
	}
	return []Insight{{
		Kind:           KindPositive,
		Title:          "Best conversion rate",
		Description:    fmt.Sprintf("'%s' converts %.1f%% of demos into sales (%d sales from %d demos).", m.Name(), m.ConversionRate(), m.Sales, m.DemosCompleted),
		MetricValue:    metric(m.ConversionRate()),
		MetricLabel:    "%",
		Campaign:       m.Name(),
		Recommendation: fmt.Sprintf("Shifting budget toward this %s is likely to raise sales.", in.noun()),
		Priority:       PriorityHigh,
	}}
}

func highDisqualification(in Input, th Thresholds) []Insight {
	var out []Insight
	for _, m := range in.Groups {
		if len(out) >= th.DisqualificationCap {
			break
		}
		rate := m.DisqualificationRate()
		if rate < th.HighDisqualification {
			continue
		}
		kind, prio := KindWarning, PriorityMedium
		if rate >= th.CriticalDisqualification {
			kind, prio = KindCritical, PriorityHigh
		}
		out = append(out, Insight{
			Kind:           kind,
			Title:          "High disqualification rate",
			Description:    fmt.Sprintf("'%s' disqualifies %.1f%% of held demos (%d of %d).", m.Name(), rate, m.Disqualified, m.DemosCompleted),
			MetricValue:    metric(rate),
			MetricLabel:    "%",
			Campaign:       m.Name(),
			Recommendation: "Review targeting and early lead qualification.",
			Priority:       prio,
		})
	}
	return out
}

func highNoShow(in Input, th Thresholds) []Insight {
	var out []Insight
	for _, m := range in.Groups {
		if len(out) >= th.NoShowCap {
			break
		}
		rate := m.NoShowRate()
		if rate < th.HighNoShow || m.DemosScheduled < th.NoShowMinScheduled {
			continue
		}
		out = append(out, Insight{
			Kind:           KindWarning,
			Title:          "High no-show rate",
			Description:    fmt.Sprintf("'%s' has %.1f%% no-shows (%d of %d scheduled demos).", m.Name(), rate, m.NoShows, m.DemosScheduled),
			MetricValue:    metric(rate),
			MetricLabel:    "%",
			Campaign:       m.Name(),
			Recommendation: "Add reminders and attendance confirmation before demos.",
			Priority:       PriorityMedium,
		})
	}
	return out
}

func missedOpportunity(in Input, th Thresholds) []Insight {
	var out []Insight
	for _, m := range in.Groups {
		if len(out) >= th.MissedOpportunityCap {
			break
		}
		rate := m.ConversionRate()
		if rate >= th.LowConversion || m.DemosCompleted < th.MissedOpportunityMinCompleted || m.Sales < 1 {
			continue
		}
		out = append(out, Insight{
			Kind:           KindOpportunity,
			Title:          "Room to improve conversion",
			Description:    fmt.Sprintf("'%s' has good volume (%d demos) but low conversion (%.1f%%).", m.Name(), m.DemosCompleted, rate),
			MetricValue:    metric(rate),
			MetricLabel:    "%",
			Campaign:       m.Name(),
			Recommendation: fmt.Sprintf("Tighten the closing process for this %s.", in.noun()),
			Priority:       PriorityMedium,
		})
	}
	return out
}

func untrackedShare(in Input, th Thresholds) []Insight {
	total := in.totalLeads()
	untracked := 0
	for _, m := range in.Groups {
		if !m.Attribution.IsTracked() {
			untracked += m.TotalLeads
		}
	}
	if total == 0 || untracked == 0 {
		return nil
	}
	share := float64(untracked) / float64(total) * 100
	if share <= th.UntrackedShare {
		return nil
	}
	return []Insight{{
		Kind:           KindWarning,
		Title:          "Incomplete tracking",
		Description:    fmt.Sprintf("%.1f%% of leads (%d) carry no %s attribution.", share, untracked, string(in.Dimension)),
		MetricValue:    metric(share),
		MetricLabel:    "%",
		Recommendation: "Review UTM tagging on campaigns and landing pages.",
		Priority:       PriorityMedium,
	}}
}

func salesRegression(in Input, th Thresholds) []Insight {
	var out []Insight
	for _, g := range in.Comparisons {
		c, ok := g.Get("sales")
		if !ok || c.Previous < th.SalesDropMinPrevious || c.PercentageChange() > -th.SalesDrop {
			continue
		}
		pct := c.PercentageChange()
		out = append(out, Insight{
			Kind:           KindCritical,
			Title:          "Sales dropped",
			Description:    fmt.Sprintf("'%s' sales fell %.1f%% versus the previous period (%.0f to %.0f).", g.Name(), -pct, c.Previous, c.Current),
			MetricValue:    metric(pct),
			MetricLabel:    "%",
			Campaign:       g.Name(),
			Recommendation: fmt.Sprintf("Investigate recent changes to this %s or its market.", in.noun()),
			Priority:       PriorityHigh,
		})
	}
	return out
}

func disqualificationRise(in Input, th Thresholds) []Insight {
	var out []Insight
	for _, g := range in.Comparisons {
		c, ok := g.Get("disqualification_rate")
		if !ok || c.AbsoluteChange() < th.DisqualificationRise || c.Current < th.DisqualificationRiseMinCurrent {
			continue
		}
		out = append(out, Insight{
			Kind:           KindWarning,
			Title:          "Disqualification rising",
			Description:    fmt.Sprintf("'%s' disqualification rose %.1f pp (from %.1f%% to %.1f%%).", g.Name(), c.AbsoluteChange(), c.Previous, c.Current),
			MetricValue:    metric(c.AbsoluteChange()),
			MetricLabel:    "pp",
			Campaign:       g.Name(),
			Recommendation: fmt.Sprintf("Check the lead quality coming from this %s.", in.noun()),
			Priority:       PriorityMedium,
		})
	}
	return out
}

func bestEfficiency(in Input, _ Thresholds) []Insight {
	m, ok := best(in.Groups, campaigns.SortFunnelEfficiency)
	if !ok || m.FunnelEfficiency() <= 0 {
		return nil
	}
	return []Insight{{
		Kind:        KindPositive,
		Title:       "Best funnel efficiency",
		Description: fmt.Sprintf("'%s' turns %.2f%% of its leads into sales, the best end-to-end rate.", m.Name(), m.FunnelEfficiency()),
		MetricValue: metric(m.FunnelEfficiency()),
		MetricLabel: "%",
		Campaign:    m.Name(),
		Priority:    PriorityMedium,
	}}
}

func zeroConversion(in Input, th Thresholds) []Insight {
	var names []string
	n := 0
	for _, m := range in.Groups {
		if m.Sales != 0 || m.DemosCompleted < th.ZeroConversionMinCompleted {
			continue
		}
		n++
		if len(names) < th.ZeroConversionNames {
			names = append(names, m.Name())
		}
	}
	if n == 0 {
		return nil
	}
	return []Insight{{
		Kind:           KindWarning,
		Title:          "Demos without sales",
		Description:    fmt.Sprintf("%d %s(s) held demos but closed no sales: %s.", n, in.noun(), strings.Join(names, ", ")),
		MetricValue:    metric(float64(n)),
		MetricLabel:    in.noun() + "s",
		Recommendation: "Check whether the audience fits, or wind these down.",
		Priority:       PriorityMedium,
	}}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
