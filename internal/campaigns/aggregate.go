package campaigns

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// SortKey orders ranked groups.
type SortKey string

const (
	SortTotalLeads           SortKey = "total_leads"
	SortConversionRate       SortKey = "conversion_rate"
	SortDisqualificationRate SortKey = "disqualification_rate"
	SortNoShowRate           SortKey = "no_show_rate"
	SortFunnelEfficiency     SortKey = "funnel_efficiency"
	SortSales                SortKey = "sales"
	SortName                 SortKey = "name"
)

// ErrUnknownSortKey is returned by ParseSortKey.
var ErrUnknownSortKey = errors.New("campaigns: unknown sort key")

// SortKeys lists the accepted sort keys.
func SortKeys() []SortKey {
	return []SortKey{SortTotalLeads, SortConversionRate, SortDisqualificationRate, SortNoShowRate, SortFunnelEfficiency, SortSales, SortName}
}

// ParseSortKey resolves a sort key; empty selects total_leads.
func ParseSortKey(s string) (SortKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortTotalLeads, nil
	}
	for _, k := range SortKeys() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// Less orders a before b under key. Every numeric key ranks the highest value
// first, which for disqualification and no-shows puts the worst group on top.
// Ties fall back to the group name.
func (k SortKey) Less(a, b Metrics) bool {
	return k.compare(a, b) < 0
}

func (k SortKey) compare(a, b Metrics) int {
	var c int
	switch k {
	case SortConversionRate:
		c = cmp.Compare(b.ConversionRate(), a.ConversionRate())
	case SortDisqualificationRate:
		c = cmp.Compare(b.DisqualificationRate(), a.DisqualificationRate())
	case SortNoShowRate:
		c = cmp.Compare(b.NoShowRate(), a.NoShowRate())
	case SortFunnelEfficiency:
		c = cmp.Compare(b.FunnelEfficiency(), a.FunnelEfficiency())
	case SortSales:
		c = cmp.Compare(b.Sales, a.Sales)
	case SortName:
	default:
		c = cmp.Compare(b.TotalLeads, a.TotalLeads)
	}
	if c != 0 {
		return c
	}
	switch {
	case a.Attribution.Less(b.Attribution):
		return -1
	case b.Attribution.Less(a.Attribution):
		return 1
	}
	return 0
}

// Sort orders ms in place by key.
func Sort(ms []Metrics, key SortKey) {
	slices.SortStableFunc(ms, key.compare)
}

// Options controls one aggregation.
type Options struct {
	Dimension leads.Dimension
	// MinLeads excludes smaller groups from Groups; values below 1 keep all.
	MinLeads int
	SortBy   SortKey
	// Window scopes each counter to its own timestamp. Nil counts all history.
	Window *leads.Window
}

// Report is the result of grouping a dataset.
type Report struct {
	Dimension leads.Dimension `json:"dimension"`
	Window    string          `json:"window"`
	// All holds every group in default order, below-threshold groups included.
	All []Metrics `json:"all"`
	// Groups holds the groups meeting MinLeads, ordered by the sort key.
	Groups   []Metrics `json:"groups"`
	Totals   Metrics   `json:"totals"`
	Excluded int       `json:"excluded"`
}

// Empty reports whether no group had any activity.
func (r Report) Empty() bool { return len(r.All) == 0 }

// Find returns the group with attribution a from All.
func (r Report) Find(a leads.Attribution) (Metrics, bool) {
	for _, m := range r.All {
		if m.Attribution == a {
			return m, true
		}
	}
	return Metrics{}, false
}

// Aggregator computes per-group funnel metrics. It holds no mutable state and
// is safe for concurrent use.
type Aggregator struct {
	Classifier *funnel.Classifier
}

// NewAggregator returns an aggregator using c, or the default classifier when nil.
func NewAggregator(c *funnel.Classifier) *Aggregator {
	if c == nil {
		c = funnel.NewClassifier(nil, "")
	}
	return &Aggregator{Classifier: c}
}

// Aggregate partitions ds by opts.Dimension in a single pass. Untracked leads
// form their own group. When the dataset lacks the dimension the group lists are
// empty but Totals still cover every lead. Passing a nil dataset panics.
func (a *Aggregator) Aggregate(ds *leads.Dataset, opts Options) Report {
	if ds == nil {
		panic("campaigns: Aggregate called with nil dataset")
	}
	dim := opts.Dimension
	if dim == "" {
		dim = leads.DimensionCampaign
	}
	rep := Report{Dimension: dim, Window: opts.Window.String()}

	var totals funnel.Counts
	groups := map[leads.Attribution]*funnel.Counts{}
	var order []leads.Attribution
	grouped := ds.HasDimension(dim)
	ds.Each(func(l leads.Lead) {
		a.Classifier.Add(&totals, l, opts.Window)
		if !grouped {
			return
		}
		key := l.Attribution(dim)
		cnt, ok := groups[key]
		if !ok {
			cnt = &funnel.Counts{}
			groups[key] = cnt
			order = append(order, key)
		}
		a.Classifier.Add(cnt, l, opts.Window)
	})
	rep.Totals = FromCounts(leads.Tracked("Total"), totals)

	for _, key := range order {
		cnt := groups[key]
		if cnt.Zero() {
			continue
		}
		rep.All = append(rep.All, FromCounts(key, *cnt))
	}
	Sort(rep.All, SortTotalLeads)

	for _, m := range rep.All {
		if m.TotalLeads < opts.MinLeads {
			rep.Excluded++
			continue
		}
		rep.Groups = append(rep.Groups, m)
	}
	key := opts.SortBy
	if key == "" {
		key = SortTotalLeads
	}
	Sort(rep.Groups, key)
	return rep
}

// AvailableDimensions lists the dimensions present in ds that carry at least
// one tracked value.
func AvailableDimensions(ds *leads.Dataset) []leads.Dimension {
	var out []leads.Dimension
	for _, dim := range ds.Dimensions() {
		tracked := false
		ds.Each(func(l leads.Lead) {
			if !tracked && l.Attribution(dim).IsTracked() {
				tracked = true
			}
		})
		if tracked {
			out = append(out, dim)
		}
	}
	return out
}
