package leads

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/xuri/excelize/v2"
)

// ErrNaiveTimestamp is returned when a timestamp carries no zone offset and no
// default location was configured to interpret it.
var ErrNaiveTimestamp = errors.New("leads: timestamp without timezone offset")

// DefaultUntrackedAliases are placeholder values CRMs write instead of leaving
// an attribution blank. They are mapped to Untracked at load time.
var DefaultUntrackedAliases = []string{"(not set)", "(none)", "unknown", "(untracked)", "(não rastreado)", "não informado"}

// LoadOptions controls how raw rows are turned into leads.
type LoadOptions struct {
	// Location interprets timestamps without an offset. Nil rejects them.
	Location *time.Location
	// UntrackedAliases are compared case-insensitively; nil uses the defaults.
	UntrackedAliases []string
}

// LoadStats summarizes a decode run.
type LoadStats struct {
	Rows       int         `json:"rows"`
	Loaded     int         `json:"loaded"`
	Skipped    int         `json:"skipped"`
	Dropped    int         `json:"dropped"`
	Dimensions []Dimension `json:"dimensions"`
}

// RowReader yields raw rows; the first row is the header.
type RowReader interface {
	Read() ([]string, error)
}

type rawLead struct {
	ID                     string `csv:"id"`
	Campaign               string `csv:"utm_campaign"`
	Source                 string `csv:"utm_source"`
	Medium                 string `csv:"utm_medium"`
	CreatedAt              string `csv:"created_at"`
	DemoScheduledAt        string `csv:"demo_scheduled_at"`
	NoShowAt               string `csv:"no_show_at"`
	SoldAt                 string `csv:"sold_at"`
	Status                 string `csv:"status"`
	DisqualificationReason string `csv:"disqualification_reason"`
}

// Decode reads a header row and lead rows from r and builds a Dataset. Rows
// with unparseable timestamps are skipped; a timestamp without an offset
// aborts the load unless opts.Location is set.
func Decode(r RowReader, opts LoadOptions) (*Dataset, LoadStats, error) {
	var stats LoadStats
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return NewDataset(nil, WithDimensions()), stats, nil
	}
	if err != nil {
		return nil, stats, fmt.Errorf("leads: read header: %w", err)
	}
	columns, dims := MapHeader(header)
	stats.Dimensions = dims

	dec, err := csvutil.NewDecoder(&paddedReader{src: r, width: len(columns)}, columns...)
	if err != nil {
		return nil, stats, fmt.Errorf("leads: decoder: %w", err)
	}
	aliases := opts.UntrackedAliases
	if aliases == nil {
		aliases = DefaultUntrackedAliases
	}

	var records []Lead
	for {
		var raw rawLead
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, stats, fmt.Errorf("leads: decode row %d: %w", stats.Rows+2, err)
		}
		stats.Rows++
		l, err := raw.toLead(opts.Location, aliases)
		if err != nil {
			if errors.Is(err, ErrNaiveTimestamp) {
				return nil, stats, fmt.Errorf("row %d: %w", stats.Rows+1, err)
			}
			stats.Skipped++
			continue
		}
		records = append(records, l)
	}

	ds := NewDataset(records, WithDimensions(dims...))
	stats.Loaded = ds.Len()
	stats.Dropped = ds.Dropped()
	return ds, stats, nil
}

// DecodeRows decodes an in-memory table such as a worksheet.
func DecodeRows(rows [][]string, opts LoadOptions) (*Dataset, LoadStats, error) {
	return Decode(&sliceReader{rows: rows}, opts)
}

// DecodeCSV decodes comma-separated input with a header row.
func DecodeCSV(r io.Reader, opts LoadOptions) (*Dataset, LoadStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return Decode(cr, opts)
}

func (raw rawLead) toLead(loc *time.Location, aliases []string) (Lead, error) {
	l := Lead{
		ID:                     strings.TrimSpace(raw.ID),
		Campaign:               attribution(raw.Campaign, aliases),
		Source:                 attribution(raw.Source, aliases),
		Medium:                 attribution(raw.Medium, aliases),
		Status:                 strings.TrimSpace(raw.Status),
		DisqualificationReason: strings.TrimSpace(raw.DisqualificationReason),
	}
	created, err := ParseTimestamp(raw.CreatedAt, loc)
	if err != nil {
		return l, err
	}
	if created != nil {
		l.CreatedAt = *created
	}
	if l.DemoScheduledAt, err = ParseTimestamp(raw.DemoScheduledAt, loc); err != nil {
		return l, err
	}
	if l.NoShowAt, err = ParseTimestamp(raw.NoShowAt, loc); err != nil {
		return l, err
	}
	if l.SoldAt, err = ParseTimestamp(raw.SoldAt, loc); err != nil {
		return l, err
	}
	return l, nil
}

func attribution(s string, aliases []string) Attribution {
	s = strings.TrimSpace(s)
	for _, a := range aliases {
		if strings.EqualFold(s, a) {
			return Untracked()
		}
	}
	return Tracked(s)
}

var zonedLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05-0700", "2006-01-02T15:04:05-0700"}

var naiveLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02", "02/01/2006 15:04:05", "02/01/2006"}

// ParseTimestamp parses an optional timestamp. Blank input yields nil. Values
// without an offset, including Excel serial dates, need loc.
func ParseTimestamp(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}
	naive, ok := parseNaive(s)
	if !ok {
		return nil, fmt.Errorf("leads: unrecognized timestamp %q", s)
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: %q", ErrNaiveTimestamp, s)
	}
	t := time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), loc).UTC()
	return &t, nil
}

func parseNaive(s string) (time.Time, bool) {
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Raw worksheet cells hold dates as serial day numbers.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f < 2958466 {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type sliceReader struct {
	rows [][]string
	next int
}

func (s *sliceReader) Read() ([]string, error) {
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

// paddedReader evens out ragged rows; worksheets drop trailing empty cells.
type paddedReader struct {
	src   RowReader
	width int
}

func (p *paddedReader) Read() ([]string, error) {
	row, err := p.src.Read()
	if err != nil {
		return nil, err
	}
	switch {
	case len(row) < p.width:
		padded := make([]string, p.width)
		copy(padded, row)
		return padded, nil
	case len(row) > p.width:
		return row[:p.width], nil
	}
	return row, nil
}
