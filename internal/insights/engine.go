package insights

import (
	"fmt"
	"slices"

	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
)

// DefaultMaxInsights caps the result set when the engine has no limit set.
const DefaultMaxInsights = 10

// Engine evaluates rules over one request's metrics. It keeps no state between
// calls and is safe for concurrent use.
type Engine struct {
	Rules      []Rule
	Thresholds Thresholds
	// MaxInsights bounds the output; zero uses DefaultMaxInsights.
	MaxInsights int
	// MinLeads is quoted in the insufficient-data message.
	MinLeads int
	// ReportInsufficientData emits an info insight when no group qualifies.
	ReportInsufficientData bool
}

// NewEngine returns an engine with the default rules and thresholds.
func NewEngine() *Engine {
	return &Engine{
		Rules:                  DefaultRules(),
		Thresholds:             DefaultThresholds(),
		MaxInsights:            DefaultMaxInsights,
		MinLeads:               5,
		ReportInsufficientData: true,
	}
}

// Generate runs every rule in order, then stable-sorts by priority so ties keep
// evaluation order, and truncates to the limit. Groups are ranked by volume
// before evaluation so the display sort key does not change the findings.
func (e *Engine) Generate(in Input) []Insight {
	if len(in.Groups) == 0 {
		if !e.ReportInsufficientData {
			return []Insight{}
		}
		return []Insight{{
			Kind:        KindInfo,
			Rule:        "insufficient_data",
			Title:       "Not enough data",
			Description: fmt.Sprintf("No %s reached the minimum of %d leads needed for analysis.", in.noun(), e.MinLeads),
			Priority:    PriorityLow,
		}}
	}
	ranked := slices.Clone(in.Groups)
	campaigns.Sort(ranked, campaigns.SortTotalLeads)
	in.Groups = ranked

	var out []Insight
	for _, r := range e.Rules {
		for _, ins := range r.Eval(in, e.Thresholds) {
			ins.Rule = r.Name
			out = append(out, ins)
		}
	}
	slices.SortStableFunc(out, func(a, b Insight) int { return a.Priority - b.Priority })

	limit := e.MaxInsights
	if limit <= 0 {
		limit = DefaultMaxInsights
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
