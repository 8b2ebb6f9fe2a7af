package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/compare"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

var march = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

// history has campaign A in both months and campaign B only in February,
// where it closed five sales.
func history() *leads.Dataset {
	var ls []leads.Lead
	add := func(campaign string, created time.Time, won bool) {
		l := leads.Lead{Campaign: leads.Tracked(campaign), CreatedAt: created}
		if won {
			l.DemoScheduledAt = ptr(created.Add(24 * time.Hour))
			l.SoldAt = ptr(created.Add(48 * time.Hour))
			l.Status = "Won"
		}
		ls = append(ls, l)
	}
	for i := 0; i < 10; i++ {
		add("A", march.AddDate(0, 0, i), i < 2)
		add("A", march.AddDate(0, -1, i), i < 2)
	}
	for i := 0; i < 8; i++ {
		add("B", march.AddDate(0, -1, i), i < 5)
	}
	return leads.NewDataset(ls)
}

func TestRun_ComparesPeriods(t *testing.T) {
	ds := history()
	cur, err := leads.NewWindow(march, march.AddDate(0, 1, 0))
	require.NoError(t, err)
	prev, err := leads.NewWindow(march.AddDate(0, -1, 0), march)
	require.NoError(t, err)

	a := New(zerolog.Nop())
	res, err := a.Run(context.Background(), Request{
		Current:  Period{Dataset: ds, Window: cur},
		Previous: &Period{Dataset: ds, Window: prev},
		MinLeads: 5,
	})
	require.NoError(t, err)
	require.Equal(t, leads.DimensionCampaign, res.Dimension)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "A", res.Rows[0].Name)
	require.Equal(t, 10, res.Summary.TotalLeads)
	require.NotNil(t, res.PreviousSummary)
	require.Equal(t, 18, res.PreviousSummary.TotalLeads)

	require.Len(t, res.Comparisons, 2)
	b := res.Comparisons[1]
	require.Equal(t, "B", b.Name())
	sales, ok := b.Get("sales")
	require.True(t, ok)
	require.Equal(t, 5.0, sales.Previous)
	require.Equal(t, compare.TrendDown, sales.Trend())

	var critical []insights.Insight
	for _, ins := range res.Insights {
		if ins.Rule == "sales_regression" {
			critical = append(critical, ins)
		}
	}
	require.Len(t, critical, 1)
	require.Equal(t, insights.KindCritical, critical[0].Kind)
	require.Equal(t, "B", critical[0].Campaign)
	require.Equal(t, insights.PriorityHigh, critical[0].Priority)
}

func TestRun_WithoutPrevious(t *testing.T) {
	a := New(zerolog.Nop())
	res, err := a.Run(context.Background(), Request{Current: Period{Dataset: history()}, SortBy: campaigns.SortName, MaxInsights: 1})
	require.NoError(t, err)
	require.Nil(t, res.Comparisons)
	require.Nil(t, res.PreviousSummary)
	require.Len(t, res.Insights, 1)
	require.Equal(t, "A", res.Rows[0].Name)
}

func TestRun_EmptyPreviousDegrades(t *testing.T) {
	a := New(zerolog.Nop())
	res, err := a.Run(context.Background(), Request{
		Current:  Period{Dataset: history()},
		Previous: &Period{Dataset: leads.NewDataset(nil)},
	})
	require.NoError(t, err)
	require.Nil(t, res.Comparisons)
	require.NotEmpty(t, res.Rows)
}

func TestRun_EmptyInput(t *testing.T) {
	a := New(zerolog.Nop())
	res, err := a.Run(context.Background(), Request{Current: Period{Dataset: leads.NewDataset(nil)}, MinLeads: 5})
	require.NoError(t, err)
	require.Empty(t, res.Rows)
	require.Zero(t, res.Totals.TotalLeads)
	require.Len(t, res.Insights, 1)
	require.Equal(t, insights.KindInfo, res.Insights[0].Kind)
}

func TestRun_Errors(t *testing.T) {
	a := New(zerolog.Nop())
	_, err := a.Run(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoDataset)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Run(ctx, Request{Current: Period{Dataset: history()}})
	require.ErrorIs(t, err, context.Canceled)
}
