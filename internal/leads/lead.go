package leads

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UntrackedLabel is the display name of the group holding leads without attribution.
const UntrackedLabel = "(untracked)"

// Attribution is the value of one attribution dimension for a lead: either a
// tracked name or the explicit Untracked marker. The zero value is Untracked.
type Attribution struct {
	name string
}

// Tracked returns a tracked attribution. Blank names collapse to Untracked.
func Tracked(name string) Attribution {
	return Attribution{name: strings.TrimSpace(name)}
}

// Untracked returns the attribution used when a lead carries no value.
func Untracked() Attribution { return Attribution{} }

// IsTracked reports whether the attribution carries a real value.
func (a Attribution) IsTracked() bool { return a.name != "" }

// Name returns the tracked value or UntrackedLabel.
func (a Attribution) Name() string {
	if a.name == "" {
		return UntrackedLabel
	}
	return a.name
}

func (a Attribution) String() string { return a.Name() }

// MarshalText renders the attribution by display name.
func (a Attribution) MarshalText() ([]byte, error) { return []byte(a.Name()), nil }

// Less orders attributions by display name; tracked values sort before
// Untracked when the display names collide.
func (a Attribution) Less(b Attribution) bool {
	an, bn := a.Name(), b.Name()
	if an != bn {
		return an < bn
	}
	return a.IsTracked() && !b.IsTracked()
}

// Dimension selects the attribution axis used to group leads.
type Dimension string

const (
	DimensionCampaign Dimension = "utm_campaign"
	DimensionSource   Dimension = "utm_source"
	DimensionMedium   Dimension = "utm_medium"
)

// ErrUnknownDimension is returned by ParseDimension for unsupported values.
var ErrUnknownDimension = errors.New("leads: unknown attribution dimension")

// Dimensions lists the supported dimensions in display order.
func Dimensions() []Dimension {
	return []Dimension{DimensionCampaign, DimensionSource, DimensionMedium}
}

// ParseDimension accepts both short ("campaign") and column ("utm_campaign") forms.
// An empty string selects the campaign dimension.
func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "campaign", "utm_campaign":
		return DimensionCampaign, nil
	case "source", "utm_source":
		return DimensionSource, nil
	case "medium", "utm_medium":
		return DimensionMedium, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// Label returns a human readable name for the dimension.
func (d Dimension) Label() string {
	switch d {
	case DimensionCampaign:
		return "Campaign"
	case DimensionSource:
		return "Source"
	case DimensionMedium:
		return "Medium"
	}
	return string(d)
}

// Lead is one row of the CRM funnel. Whether the demo was completed is not
// stored; it is derived from status and timestamps by the funnel package.
type Lead struct {
	ID       string
	Campaign Attribution
	Source   Attribution
	Medium   Attribution

	CreatedAt       time.Time
	DemoScheduledAt *time.Time
	NoShowAt        *time.Time
	SoldAt          *time.Time

	Status                 string
	DisqualificationReason string
}

// Attribution returns the lead's value for the given dimension.
func (l Lead) Attribution(d Dimension) Attribution {
	switch d {
	case DimensionCampaign:
		return l.Campaign
	case DimensionSource:
		return l.Source
	case DimensionMedium:
		return l.Medium
	}
	return Untracked()
}

// Window is a half-open [Start, End) interval. A nil *Window is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// ErrInvalidWindow indicates an empty or inverted window.
var ErrInvalidWindow = errors.New("leads: window end must be after start")

// NewWindow validates and returns a window with both bounds in UTC.
func NewWindow(start, end time.Time) (*Window, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	return &Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Contains reports whether t falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// ContainsPtr reports whether an optional timestamp is present and inside the window.
func (w *Window) ContainsPtr(t *time.Time) bool {
	return t != nil && w.Contains(*t)
}

// Previous returns the window of equal length ending where w starts.
func (w *Window) Previous() *Window {
	if w == nil {
		return nil
	}
	span := w.End.Sub(w.Start)
	return &Window{Start: w.Start.Add(-span), End: w.Start}
}

func (w *Window) String() string {
	if w == nil {
		return "all time"
	}
	return w.Start.Format(time.RFC3339) + " to " + w.End.Format(time.RFC3339)
}
