package campaigns

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := base.AddDate(0, 0, days)
	return &t
}

func lead(campaign string, mut ...func(*leads.Lead)) leads.Lead {
	l := leads.Lead{Campaign: leads.Tracked(campaign), Source: leads.Tracked("google"), CreatedAt: base}
	for _, m := range mut {
		m(&l)
	}
	return l
}

func scheduled(status string) func(*leads.Lead) {
	return func(l *leads.Lead) {
		l.DemoScheduledAt = at(1)
		l.Status = status
	}
}

func sold(l *leads.Lead) { l.SoldAt = at(3) }

func noShow(l *leads.Lead) { l.NoShowAt = at(1) }

func fixture() []leads.Lead {
	var out []leads.Lead
	// A: 10 leads, 6 demos, 5 held, 1 disqualified, 2 sales.
	out = append(out,
		lead("A", scheduled("Won"), sold),
		lead("A", scheduled("Won"), sold),
		lead("A", scheduled("Hot Lead")),
		lead("A", scheduled("Demo Completed")),
		lead("A", func(l *leads.Lead) {
			scheduled("Disqualified")(l)
			l.DisqualificationReason = "No budget"
		}),
		lead("A", scheduled("Disqualified"), noShow),
	)
	for i := 0; i < 4; i++ {
		out = append(out, lead("A"))
	}
	// B: 6 leads, 3 held demos all disqualified.
	for i := 0; i < 3; i++ {
		out = append(out, lead("B", scheduled("Disqualified")))
	}
	for i := 0; i < 3; i++ {
		out = append(out, lead("B"))
	}
	// Untracked: 2 leads. C: 1 lead with a sale.
	out = append(out, lead(""), lead(""), lead("C", scheduled("Won"), sold))
	return out
}

func TestAggregate_CampaignScenario(t *testing.T) {
	agg := NewAggregator(nil)
	rep := agg.Aggregate(leads.NewDataset(fixture()), Options{Dimension: leads.DimensionCampaign, MinLeads: 5})

	require.Len(t, rep.All, 4)
	require.Len(t, rep.Groups, 2)
	require.Equal(t, 2, rep.Excluded)
	require.Equal(t, 19, rep.Totals.TotalLeads, "totals include excluded groups")
	require.Equal(t, 3, rep.Totals.Sales)

	a := rep.Groups[0]
	require.Equal(t, "A", a.Name())
	require.Equal(t, 10, a.TotalLeads)
	require.Equal(t, 6, a.DemosScheduled)
	require.Equal(t, 5, a.DemosCompleted)
	require.Equal(t, 1, a.Disqualified)
	require.Equal(t, 2, a.Sales)
	require.Equal(t, 1, a.NoShows)
	require.InDelta(t, 40.0, a.ConversionRate(), 1e-9)
	require.InDelta(t, 20.0, a.DisqualificationRate(), 1e-9)
	require.InDelta(t, 80.0, a.UtilizationRate(), 1e-9)
	require.InDelta(t, 20.0, a.FunnelEfficiency(), 1e-9)

	untracked, ok := rep.Find(leads.Untracked())
	require.True(t, ok)
	require.Equal(t, leads.UntrackedLabel, untracked.Name())
	require.Equal(t, 2, untracked.TotalLeads)
}

func TestAggregate_SortKeys(t *testing.T) {
	agg := NewAggregator(nil)
	ds := leads.NewDataset(fixture())

	rep := agg.Aggregate(ds, Options{SortBy: SortDisqualificationRate})
	require.Equal(t, "B", rep.Groups[0].Name(), "worst disqualification ranks first")

	rep = agg.Aggregate(ds, Options{SortBy: SortConversionRate})
	require.Equal(t, "C", rep.Groups[0].Name())

	rep = agg.Aggregate(ds, Options{SortBy: SortName})
	var names []string
	for _, m := range rep.Groups {
		names = append(names, m.Name())
	}
	require.Equal(t, []string{leads.UntrackedLabel, "A", "B", "C"}, names)
}

func TestAggregate_TiesBreakByName(t *testing.T) {
	ds := leads.NewDataset([]leads.Lead{lead("zeta"), lead("alpha"), lead("mid")})
	rep := NewAggregator(nil).Aggregate(ds, Options{})
	require.Equal(t, "alpha", rep.Groups[0].Name())
	require.Equal(t, "mid", rep.Groups[1].Name())
	require.Equal(t, "zeta", rep.Groups[2].Name())
}

func TestAggregate_MissingDimension(t *testing.T) {
	ds := leads.NewDataset(fixture(), leads.WithDimensions(leads.DimensionCampaign))
	rep := NewAggregator(nil).Aggregate(ds, Options{Dimension: leads.DimensionMedium})
	require.True(t, rep.Empty())
	require.Empty(t, rep.Groups)
	require.Equal(t, 19, rep.Totals.TotalLeads)
}

func TestAggregate_EmptyInput(t *testing.T) {
	rep := NewAggregator(nil).Aggregate(leads.NewDataset(nil), Options{MinLeads: 5})
	require.True(t, rep.Empty())
	require.Zero(t, rep.Totals.TotalLeads)
	require.Zero(t, rep.Totals.ConversionRate())
	require.Zero(t, rep.Totals.DisqualificationRate())
}

func TestAggregate_NilDatasetPanics(t *testing.T) {
	require.Panics(t, func() { NewAggregator(nil).Aggregate(nil, Options{}) })
}

func TestAggregate_WindowScopesCounters(t *testing.T) {
	ds := leads.NewDataset(fixture())
	w, err := leads.NewWindow(base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	rep := NewAggregator(nil).Aggregate(ds, Options{Window: w})
	a, ok := rep.Find(leads.Tracked("A"))
	require.True(t, ok)
	require.Equal(t, 5, a.DemosCompleted)
	require.Zero(t, a.Sales, "sales land after the window")
}

func randomDataset(r *rand.Rand) *leads.Dataset {
	statuses := []string{"New", "Demo Completed", "Hot Lead", "Won", "Disqualified", "Lost"}
	n := r.Intn(80)
	out := make([]leads.Lead, n)
	for i := range out {
		l := lead(fmt.Sprintf("c%d", r.Intn(6)))
		if r.Intn(5) == 0 {
			l.Campaign = leads.Untracked()
		}
		if r.Intn(2) == 0 {
			l.DemoScheduledAt = at(1)
			l.Status = statuses[r.Intn(len(statuses))]
			switch {
			case l.Status == "Won":
				l.SoldAt = at(2)
			case l.Status == "Disqualified" && r.Intn(3) == 0:
				l.NoShowAt = at(1)
			case l.Status == "New" && r.Intn(2) == 0:
				l.NoShowAt = at(1)
			}
		}
		out[i] = l
	}
	return leads.NewDataset(out)
}

func TestAggregate_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	agg := NewAggregator(nil)
	for i := 0; i < 300; i++ {
		ds := randomDataset(r)
		key := SortKeys()[r.Intn(len(SortKeys()))]
		opts := Options{MinLeads: r.Intn(4), SortBy: key}

		first := agg.Aggregate(ds, opts)
		second := agg.Aggregate(ds, opts)
		require.Equal(t, first, second, "aggregation is idempotent")

		for _, m := range first.All {
			require.LessOrEqual(t, m.Disqualified, m.DemosCompleted)
			for _, rate := range []float64{m.SchedulingRate(), m.CompletionRate(), m.DisqualificationRate(), m.ConversionRate(), m.NoShowRate(), m.FunnelEfficiency(), m.UtilizationRate()} {
				require.GreaterOrEqual(t, rate, 0.0)
				require.LessOrEqual(t, rate, 100.0)
			}
		}
		total := 0
		for _, m := range first.All {
			total += m.TotalLeads
		}
		require.Equal(t, first.Totals.TotalLeads, total)
	}
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	require.Equal(t, SortTotalLeads, k)
	k, err = ParseSortKey("Conversion_Rate")
	require.NoError(t, err)
	require.Equal(t, SortConversionRate, k)
	_, err = ParseSortKey("cost")
	require.ErrorIs(t, err, ErrUnknownSortKey)
}

func TestRow(t *testing.T) {
	m := Metrics{Attribution: leads.Tracked("A"), TotalLeads: 3, DemosScheduled: 3, DemosCompleted: 3, Sales: 1}
	row := m.Row()
	require.Equal(t, "A", row.Name)
	require.True(t, row.Tracked)
	require.Equal(t, 33.3, row.ConversionRate)
	require.Equal(t, 100.0, row.CompletionRate)
	v, ok := m.Value("conversion_rate")
	require.True(t, ok)
	require.InDelta(t, 33.33, v, 0.01)
	_, ok = m.Value("bogus")
	require.False(t, ok)
}

func TestSummarize(t *testing.T) {
	s := NewAggregator(nil).Summarize(leads.NewDataset(fixture()), nil, 5)
	require.Equal(t, 19, s.TotalLeads)
	require.Equal(t, 3, s.ActiveCampaigns)
	require.Equal(t, 1, s.ActiveSources)
	require.Equal(t, 17, s.TrackedLeads)
	require.Equal(t, 89.5, s.TrackedShare)
	require.Equal(t, 3, s.TotalSales)
	require.NotNil(t, s.BestCampaign)
	require.Equal(t, "A", s.BestCampaign.Name)
	require.NotNil(t, s.WorstCampaign)
	require.Equal(t, "B", s.WorstCampaign.Name)
	require.Equal(t, 100.0, s.WorstCampaign.Value)
	require.Equal(t, "A", s.TopSales.Name)
}

func TestSummarize_SaleInsideWindowForOlderLead(t *testing.T) {
	jan := func(day int) *time.Time {
		ts := time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC)
		return &ts
	}
	ds := leads.NewDataset([]leads.Lead{
		lead("A", func(l *leads.Lead) { l.CreatedAt = *jan(1); l.SoldAt = jan(15); l.Status = "Won" }),
		lead("A", func(l *leads.Lead) { l.CreatedAt = *jan(12) }),
	})
	w, err := leads.NewWindow(*jan(10), *jan(20))
	require.NoError(t, err)

	s := NewAggregator(nil).Summarize(ds, w, 0)
	period := funnel.NewClassifier(nil, "").Summarize(ds, w)
	require.Equal(t, 1, s.TotalLeads)
	require.Equal(t, 1, s.TotalSales)
	require.Equal(t, period.Sales, s.TotalSales)
	require.Equal(t, period.ConversionRate, s.ConversionRate)
	require.Equal(t, 100.0, s.ConversionRate)
	require.Equal(t, "A", s.TopSales.Name)
}

func TestAvailableDimensions(t *testing.T) {
	ds := leads.NewDataset(fixture())
	require.Equal(t, []leads.Dimension{leads.DimensionCampaign, leads.DimensionSource}, AvailableDimensions(ds))
}

func TestDisqualificationReasons(t *testing.T) {
	got := NewAggregator(nil).DisqualificationReasons(leads.NewDataset(fixture()), leads.DimensionCampaign, nil)
	require.Equal(t, []ReasonShare{
		{Group: "B", Reason: UnspecifiedReason, Count: 3, GroupTotal: 3, Share: 100},
		{Group: "A", Reason: UnspecifiedReason, Count: 1, GroupTotal: 2, Share: 50},
		{Group: "A", Reason: "No budget", Count: 1, GroupTotal: 2, Share: 50},
	}, got)
}

func TestDailyTrend(t *testing.T) {
	ls := []leads.Lead{
		lead("A"), lead("A"),
		lead("A", func(l *leads.Lead) { l.CreatedAt = base.AddDate(0, 0, 1) }),
		lead("B"), lead("C"),
	}
	got := NewAggregator(nil).DailyTrend(leads.NewDataset(ls), leads.DimensionCampaign, nil, 2)
	require.Equal(t, []TrendPoint{
		{Date: "2025-03-01", Group: "A", Leads: 2},
		{Date: "2025-03-01", Group: "B", Leads: 1},
		{Date: "2025-03-02", Group: "A", Leads: 1},
	}, got)
}
