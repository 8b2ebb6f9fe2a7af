package leads

import (
	"slices"
	"strings"
	"time"
)

// Dataset is a read-only, normalized view over the leads of one reporting
// window. Attribution is never blank and every timestamp is in UTC.
type Dataset struct {
	leads   []Lead
	dims    map[Dimension]bool
	dropped int
}

// Option customizes dataset construction.
type Option func(*Dataset)

// WithDimensions declares which attribution columns the source carried. Without
// this option every dimension is treated as present.
func WithDimensions(dims ...Dimension) Option {
	return func(d *Dataset) {
		d.dims = make(map[Dimension]bool, len(dims))
		for _, dim := range dims {
			d.dims[dim] = true
		}
	}
}

// NewDataset normalizes records into a Dataset. Records without a creation
// timestamp are dropped, as are repeats of a non-empty ID (the first row
// wins); the count is available via Dropped.
func NewDataset(records []Lead, opts ...Option) *Dataset {
	d := &Dataset{leads: make([]Lead, 0, len(records))}
	for _, opt := range opts {
		opt(d)
	}
	if d.dims == nil {
		d.dims = map[Dimension]bool{DimensionCampaign: true, DimensionSource: true, DimensionMedium: true}
	}
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.CreatedAt.IsZero() {
			d.dropped++
			continue
		}
		if id := strings.TrimSpace(r.ID); id != "" {
			if _, dup := seen[id]; dup {
				d.dropped++
				continue
			}
			seen[id] = struct{}{}
		}
		d.leads = append(d.leads, normalize(r))
	}
	return d
}

func normalize(r Lead) Lead {
	r.Campaign = Tracked(r.Campaign.name)
	r.Source = Tracked(r.Source.name)
	r.Medium = Tracked(r.Medium.name)
	r.CreatedAt = r.CreatedAt.UTC()
	r.DemoScheduledAt = utcPtr(r.DemoScheduledAt)
	r.NoShowAt = utcPtr(r.NoShowAt)
	r.SoldAt = utcPtr(r.SoldAt)
	return r
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// Len returns the number of leads in the view.
func (d *Dataset) Len() int { return len(d.leads) }

// Dropped returns how many input records were discarded during normalization.
func (d *Dataset) Dropped() int { return d.dropped }

// Leads returns a copy of the leads so callers cannot mutate the view.
func (d *Dataset) Leads() []Lead { return slices.Clone(d.leads) }

// Each calls fn for every lead in order without copying the backing slice.
func (d *Dataset) Each(fn func(Lead)) {
	for _, l := range d.leads {
		fn(l)
	}
}

// HasDimension reports whether the source carried the attribution column.
func (d *Dataset) HasDimension(dim Dimension) bool { return d.dims[dim] }

// Dimensions returns the attribution columns present in the source.
func (d *Dataset) Dimensions() []Dimension {
	var out []Dimension
	for _, dim := range Dimensions() {
		if d.dims[dim] {
			out = append(out, dim)
		}
	}
	return out
}

// Filter returns the sub-view of leads created inside w. A nil window returns d.
func (d *Dataset) Filter(w *Window) *Dataset {
	if w == nil {
		return d
	}
	out := &Dataset{dims: d.dims}
	for _, l := range d.leads {
		if w.Contains(l.CreatedAt) {
			out.leads = append(out.leads, l)
		}
	}
	return out
}

// Span returns the earliest and latest creation timestamps. ok is false for an
// empty dataset.
func (d *Dataset) Span() (first, last time.Time, ok bool) {
	for i, l := range d.leads {
		if i == 0 || l.CreatedAt.Before(first) {
			first = l.CreatedAt
		}
		if i == 0 || l.CreatedAt.After(last) {
			last = l.CreatedAt
		}
	}
	return first, last, len(d.leads) > 0
}
