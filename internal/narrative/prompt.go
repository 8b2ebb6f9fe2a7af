package narrative

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/security"
)

const instructions = `You are a marketing analyst writing a briefing for a sales and marketing team.
Use only the figures below. Do not invent numbers, campaigns or causes.
Write at most four short paragraphs: overall funnel health, what is working,
what needs attention, and the two most valuable next actions.
Rates are percentages. Conversion per group is sales over completed demos.`

// BuildPrompt renders the model prompt. Rows and insights appear in the
// order given; campaign names are sanitized like caller text.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n## Period\n")
	writeSummary(&b, in.Summary)
	if in.Previous != nil {
		b.WriteString("\n## Previous period\n")
		writeSummary(&b, *in.Previous)
	}

	label := in.DimensionLabel
	if label == "" {
		label = "Group"
	}
	if len(in.Rows) > 0 {
		fmt.Fprintf(&b, "\n## By %s\n", strings.ToLower(label))
		b.WriteString("name | leads | completed | disqualified | sales | conversion | disqualification | no-show\n")
		for _, r := range in.Rows {
			fmt.Fprintf(&b, "%s | %d | %d | %d | %d | %.1f | %.1f | %.1f\n",
				clean(r.Name), r.TotalLeads, r.DemosCompleted, r.Disqualified, r.Sales, r.ConversionRate, r.DisqualificationRate, r.NoShowRate)
		}
	}
	if len(in.Insights) > 0 {
		b.WriteString("\n## Findings\n")
		for _, i := range in.Insights {
			fmt.Fprintf(&b, "- [%s, priority %d] %s: %s", i.Kind, i.Priority, clean(i.Title), clean(i.Description))
			if i.Recommendation != "" {
				fmt.Fprintf(&b, " Suggested: %s", clean(i.Recommendation))
			}
			b.WriteByte('\n')
		}
	}
	if in.Question != "" {
		fmt.Fprintf(&b, "\n## Focus requested\n%s\n", in.Question)
	}
	return b.String()
}

func writeSummary(b *strings.Builder, s funnel.PeriodSummary) {
	fmt.Fprintf(b, "Window: %s\nLeads: %d, demos scheduled: %d, completed: %d, disqualified: %d, no-shows: %d, sales: %d\n",
		s.Window, s.TotalLeads, s.DemosScheduled, s.DemosCompleted, s.Disqualified, s.NoShows, s.Sales)
	fmt.Fprintf(b, "End-to-end conversion: %.1f%%, no-show rate: %.1f%%\n", s.ConversionRate, s.NoShowRate)
}

func clean(s string) string {
	out, _ := security.SanitizePrompt(s)
	return out
}

// Compose renders a plain briefing from insights without a model, for
// callers that accept the rule-based text.
func Compose(in Input) string {
	var b strings.Builder
	s := in.Summary
	fmt.Fprintf(&b, "%d leads in %s produced %d sales (%.1f%% end-to-end conversion).",
		s.TotalLeads, s.Window, s.Sales, s.ConversionRate)
	var good, bad []string
	for _, i := range in.Insights {
		switch i.Kind {
		case insights.KindPositive, insights.KindOpportunity:
			good = append(good, i.Title)
		case insights.KindWarning, insights.KindCritical:
			bad = append(bad, i.Title)
		}
	}
	if len(good) > 0 {
		fmt.Fprintf(&b, " Working well: %s.", strings.Join(good, "; "))
	}
	if len(bad) > 0 {
		fmt.Fprintf(&b, " Needs attention: %s.", strings.Join(bad, "; "))
	}
	return b.String()
}
