package leads

import (
	"fmt"
	"regexp"
	"strings"
)

// Canonical column names understood by the decoder.
const (
	ColumnID                     = "id"
	ColumnCampaign               = "utm_campaign"
	ColumnSource                 = "utm_source"
	ColumnMedium                 = "utm_medium"
	ColumnCreatedAt              = "created_at"
	ColumnDemoScheduledAt        = "demo_scheduled_at"
	ColumnNoShowAt               = "no_show_at"
	ColumnSoldAt                 = "sold_at"
	ColumnStatus                 = "status"
	ColumnDisqualificationReason = "disqualification_reason"
)

// Header aliases, checked in order. CRM exports use English or Portuguese names.
var columnPatterns = []struct {
	column string
	re     *regexp.Regexp
}{
	{ColumnID, regexp.MustCompile(`^(id|lead[_\s-]?id)$`)},
	{ColumnCampaign, regexp.MustCompile(`^(utm[_\s-]?campaign|campaign|campanha)$`)},
	{ColumnSource, regexp.MustCompile(`^(utm[_\s-]?source|source|fonte)$`)},
	{ColumnMedium, regexp.MustCompile(`^(utm[_\s-]?medium|medium|m[ií]dia)$`)},
	{ColumnCreatedAt, regexp.MustCompile(`^(created([_\s-]?(at|on|date))?|criado[_\s-]?em)$`)},
	{ColumnDemoScheduledAt, regexp.MustCompile(`^(demo([_\s-]?(scheduled|date))?([_\s-]?at)?|data[_\s-]?demo)$`)},
	{ColumnNoShowAt, regexp.MustCompile(`^(no[_\s-]?show([_\s-]?(at|date))?|data[_\s-]?no[_\s-]?show)$`)},
	{ColumnSoldAt, regexp.MustCompile(`^(sold([_\s-]?at)?|sale([_\s-]?(at|date))?|data[_\s-]?venda)$`)},
	{ColumnStatus, regexp.MustCompile(`^(status|stage)$`)},
	{ColumnDisqualificationReason, regexp.MustCompile(`^(disqualification[_\s-]?reasons?|motivos?[_\s-]?(de[_\s-]?)?desqualifica[cç][aã]o)$`)},
}

var dimensionColumns = map[string]Dimension{
	ColumnCampaign: DimensionCampaign,
	ColumnSource:   DimensionSource,
	ColumnMedium:   DimensionMedium,
}

// MapHeader resolves a raw header row to canonical column names. Unknown
// columns get a unique placeholder so the decoder ignores them. The second
// return value lists the attribution dimensions present in the header.
func MapHeader(header []string) ([]string, []Dimension) {
	out := make([]string, len(header))
	seen := map[string]bool{}
	var dims []Dimension
	for i, h := range header {
		low := strings.ToLower(strings.TrimSpace(h))
		out[i] = fmt.Sprintf("_col%d", i+1)
		for _, p := range columnPatterns {
			if seen[p.column] || !p.re.MatchString(low) {
				continue
			}
			out[i] = p.column
			seen[p.column] = true
			if dim, ok := dimensionColumns[p.column]; ok {
				dims = append(dims, dim)
			}
			break
		}
	}
	return out, dims
}
