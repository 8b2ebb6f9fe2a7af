// Package analysis runs the full funnel pipeline for one request: aggregation
// of the current and previous periods, comparison and insight generation.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/compare"
	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// ErrNoDataset is returned when the current period has no dataset.
var ErrNoDataset = errors.New("analysis: current period dataset is required")

// Period is a dataset scoped to a window. A nil window covers all history.
type Period struct {
	Dataset *leads.Dataset
	Window  *leads.Window
}

// Request describes one analysis.
type Request struct {
	Current Period
	// Previous is optional; without it no comparison is produced.
	Previous    *Period
	Dimension   leads.Dimension
	SortBy      campaigns.SortKey
	MinLeads    int
	MaxInsights int
}

// Result bundles the two output payloads with their supporting figures.
type Result struct {
	Dimension       leads.Dimension           `json:"dimension"`
	Report          campaigns.Report          `json:"-"`
	Previous        *campaigns.Report         `json:"-"`
	Rows            []campaigns.Row           `json:"rows"`
	Totals          campaigns.Row             `json:"totals"`
	Excluded        int                       `json:"excluded_groups"`
	Comparisons     []compare.GroupComparison `json:"-"`
	Changes         []compare.GroupChanges    `json:"changes,omitempty"`
	Insights        []insights.Insight        `json:"insights"`
	Summary         funnel.PeriodSummary      `json:"summary"`
	PreviousSummary *funnel.PeriodSummary     `json:"previous_summary,omitempty"`
}

// Analyzer wires the aggregator and insight engine together.
type Analyzer struct {
	Aggregator *campaigns.Aggregator
	Engine     *insights.Engine
	Log        zerolog.Logger
}

// New returns an analyzer with default classifier, rules and thresholds.
func New(log zerolog.Logger) *Analyzer {
	return &Analyzer{Aggregator: campaigns.NewAggregator(nil), Engine: insights.NewEngine(), Log: log}
}

// Run aggregates both periods concurrently, then compares them and generates
// insights for the current period.
func (a *Analyzer) Run(ctx context.Context, req Request) (Result, error) {
	if req.Current.Dataset == nil {
		return Result{}, ErrNoDataset
	}
	if req.Dimension == "" {
		req.Dimension = leads.DimensionCampaign
	}
	start := time.Now()
	res := Result{Dimension: req.Dimension}

	opts := campaigns.Options{Dimension: req.Dimension, MinLeads: req.MinLeads, SortBy: req.SortBy}
	var prev *campaigns.Report

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o := opts
		o.Window = req.Current.Window
		res.Report = a.Aggregator.Aggregate(req.Current.Dataset, o)
		res.Summary = a.Aggregator.Classifier.Summarize(req.Current.Dataset, req.Current.Window)
		return gctx.Err()
	})
	if req.Previous != nil && req.Previous.Dataset != nil {
		g.Go(func() error {
			o := opts
			o.Window = req.Previous.Window
			r := a.Aggregator.Aggregate(req.Previous.Dataset, o)
			s := a.Aggregator.Classifier.Summarize(req.Previous.Dataset, req.Previous.Window)
			prev, res.PreviousSummary = &r, &s
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if prev != nil {
		res.Previous = prev
		res.Comparisons = compare.Compare(res.Report, *prev)
		res.Changes = compare.Flatten(res.Comparisons)
	}

	eng := *a.Engine
	eng.MinLeads = req.MinLeads
	if req.MaxInsights > 0 {
		eng.MaxInsights = req.MaxInsights
	}
	res.Insights = eng.Generate(insights.Input{
		Groups:      res.Report.Groups,
		Comparisons: res.Comparisons,
		Dimension:   req.Dimension,
	})
	res.Rows = campaigns.Rows(res.Report.Groups)
	res.Totals = res.Report.Totals.Row()
	res.Excluded = res.Report.Excluded

	a.Log.Debug().
		Str("dimension", string(req.Dimension)).
		Int("groups", len(res.Report.Groups)).
		Int("excluded", res.Excluded).
		Int("comparisons", len(res.Comparisons)).
		Int("insights", len(res.Insights)).
		Dur("elapsed", time.Since(start)).
		Msg("analysis complete")
	return res, nil
}
