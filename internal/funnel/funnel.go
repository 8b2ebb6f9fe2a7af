// Package funnel counts leads at each stage of the CRM funnel.
package funnel

import (
	"strings"
	"time"

	"github.com/vinodismyname/mcpfunnel/internal/leads"
)

// Field selects the timestamp a counter is bound to.
type Field int

const (
	FieldCreated Field = iota
	FieldDemoScheduled
	FieldNoShow
	FieldSold
)

func (f Field) String() string {
	switch f {
	case FieldCreated:
		return "created_at"
	case FieldDemoScheduled:
		return "demo_scheduled_at"
	case FieldNoShow:
		return "no_show_at"
	case FieldSold:
		return "sold_at"
	}
	return "unknown"
}

// Timestamp returns the value of field f for l, or nil when unset.
func Timestamp(l leads.Lead, f Field) *time.Time {
	switch f {
	case FieldCreated:
		if l.CreatedAt.IsZero() {
			return nil
		}
		return &l.CreatedAt
	case FieldDemoScheduled:
		return l.DemoScheduledAt
	case FieldNoShow:
		return l.NoShowAt
	case FieldSold:
		return l.SoldAt
	}
	return nil
}

// CountInWindow counts leads whose field is set and inside w. A nil window
// only checks presence.
func CountInWindow(ls []leads.Lead, f Field, w *leads.Window) int {
	n := 0
	for _, l := range ls {
		if w.ContainsPtr(Timestamp(l, f)) {
			n++
		}
	}
	return n
}

// LeadsCreated counts leads created inside w.
func LeadsCreated(ls []leads.Lead, w *leads.Window) int {
	return CountInWindow(ls, FieldCreated, w)
}

// DemosScheduled counts demos scheduled inside w.
func DemosScheduled(ls []leads.Lead, w *leads.Window) int {
	return CountInWindow(ls, FieldDemoScheduled, w)
}

// NoShows counts no-shows recorded inside w.
func NoShows(ls []leads.Lead, w *leads.Window) int {
	return CountInWindow(ls, FieldNoShow, w)
}

// Sales counts sales closed inside w.
func Sales(ls []leads.Lead, w *leads.Window) int {
	return CountInWindow(ls, FieldSold, w)
}

// Default status labels.
const DefaultDisqualifiedStatus = "Disqualified"

var DefaultCompletedStatuses = []string{"Demo Completed", "Hot Lead", "Negotiating", "Won"}

// Classifier derives demo outcomes from a lead's status and timestamps.
// Status labels are compared case-insensitively after trimming.
type Classifier struct {
	completed    map[string]struct{}
	disqualified string
}

// NewClassifier builds a classifier. A blank disqualified label falls back to
// DefaultDisqualifiedStatus; a nil completed set falls back to
// DefaultCompletedStatuses.
func NewClassifier(completed []string, disqualified string) *Classifier {
	if completed == nil {
		completed = DefaultCompletedStatuses
	}
	if strings.TrimSpace(disqualified) == "" {
		disqualified = DefaultDisqualifiedStatus
	}
	c := &Classifier{
		completed:    make(map[string]struct{}, len(completed)),
		disqualified: foldStatus(disqualified),
	}
	for _, s := range completed {
		if k := foldStatus(s); k != "" {
			c.completed[k] = struct{}{}
		}
	}
	return c
}

func foldStatus(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// DisqualifiedLabel reports whether status matches the disqualification label.
func (c *Classifier) DisqualifiedLabel(status string) bool {
	return foldStatus(status) == c.disqualified
}

// Disqualified reports whether the demo took place and the lead was then
// disqualified: demo scheduled, disqualified status and no no-show.
func (c *Classifier) Disqualified(l leads.Lead) bool {
	return l.DemoScheduledAt != nil && l.NoShowAt == nil && c.DisqualifiedLabel(l.Status)
}

// DemoCompleted reports whether the lead's demo counts as held.
func (c *Classifier) DemoCompleted(l leads.Lead) bool {
	if l.DemoScheduledAt == nil {
		return false
	}
	if c.Disqualified(l) {
		return true
	}
	_, ok := c.completed[foldStatus(l.Status)]
	return ok
}

// DemosCompleted counts completed demos whose scheduled timestamp is inside w.
func (c *Classifier) DemosCompleted(ls []leads.Lead, w *leads.Window) int {
	n := 0
	for _, l := range ls {
		if w.ContainsPtr(l.DemoScheduledAt) && c.DemoCompleted(l) {
			n++
		}
	}
	return n
}

// Counts holds every funnel counter for one set of leads.
type Counts struct {
	Leads          int `json:"total_leads"`
	DemosScheduled int `json:"demos_scheduled"`
	DemosCompleted int `json:"demos_completed"`
	Disqualified   int `json:"disqualified"`
	NoShows        int `json:"no_shows"`
	Sales          int `json:"sales"`
}

// Add accumulates a single lead. Each counter is gated on its own timestamp;
// completion and disqualification are gated on the demo timestamp.
func (c *Classifier) Add(cnt *Counts, l leads.Lead, w *leads.Window) {
	if w.Contains(l.CreatedAt) {
		cnt.Leads++
	}
	if w.ContainsPtr(l.DemoScheduledAt) {
		cnt.DemosScheduled++
		if c.DemoCompleted(l) {
			cnt.DemosCompleted++
			if c.Disqualified(l) {
				cnt.Disqualified++
			}
		}
	}
	if w.ContainsPtr(l.NoShowAt) {
		cnt.NoShows++
	}
	if w.ContainsPtr(l.SoldAt) {
		cnt.Sales++
	}
}

// Tally computes every counter in a single pass.
func (c *Classifier) Tally(ls []leads.Lead, w *leads.Window) Counts {
	var cnt Counts
	for _, l := range ls {
		c.Add(&cnt, l, w)
	}
	return cnt
}

// Zero reports whether no counter is set.
func (c Counts) Zero() bool { return c == Counts{} }

// Rate returns num/den as a percentage, or 0 when den is 0.
func Rate(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}
