// Package insights turns aggregated funnel metrics into prioritized findings.
package insights

// Kind tags the severity or nature of an insight.
type Kind string

const (
	KindPositive    Kind = "positive"
	KindWarning     Kind = "warning"
	KindCritical    Kind = "critical"
	KindInfo        Kind = "info"
	KindOpportunity Kind = "opportunity"
)

// Priorities; lower is more important.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Insight is a single finding. Values are built once and never mutated.
type Insight struct {
	Kind           Kind     `json:"kind"`
	Rule           string   `json:"rule"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	MetricValue    *float64 `json:"metric_value,omitempty"`
	MetricLabel    string   `json:"metric_label,omitempty"`
	Campaign       string   `json:"campaign,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Priority       int      `json:"priority"`
}

// Value returns the metric value and whether one is set.
func (i Insight) Value() (float64, bool) {
	if i.MetricValue == nil {
		return 0, false
	}
	return *i.MetricValue, true
}

func metric(v float64) *float64 { return &v }
