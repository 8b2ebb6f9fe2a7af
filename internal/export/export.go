// Package export writes analysis results to CSV or Excel files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/mcpfunnel/internal/analysis"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/compare"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
)

// Sheet names used in workbook exports.
const (
	SheetMetrics  = "Metrics"
	SheetChanges  = "Changes"
	SheetInsights = "Insights"
)

// ErrUnsupportedFormat is returned for targets other than .csv and .xlsx.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// Extensions are the accepted target extensions.
var Extensions = []string{".csv", ".xlsx"}

// Bundle is what an export carries. CSV targets hold only the metric rows.
type Bundle struct {
	Rows     []campaigns.Row
	Totals   *campaigns.Row
	Changes  []compare.GroupChanges
	Insights []insights.Insight
}

// FromResult builds a bundle from an analysis result. The totals row is
// appended under the name "TOTAL".
func FromResult(res analysis.Result) Bundle {
	totals := res.Totals
	totals.Name = "TOTAL"
	return Bundle{Rows: res.Rows, Totals: &totals, Changes: res.Changes, Insights: res.Insights}
}

type changeRow struct {
	Group string `csv:"group"`
	compare.Change
}

type insightRow struct {
	Priority       int      `csv:"priority"`
	Kind           string   `csv:"kind"`
	Rule           string   `csv:"rule"`
	Title          string   `csv:"title"`
	Campaign       string   `csv:"campaign"`
	MetricLabel    string   `csv:"metric_label"`
	MetricValue    *float64 `csv:"metric_value"`
	Description    string   `csv:"description"`
	Recommendation string   `csv:"recommendation"`
}

func (b Bundle) metricRows() []campaigns.Row {
	rows := b.Rows
	if b.Totals != nil {
		rows = append(append([]campaigns.Row(nil), rows...), *b.Totals)
	}
	return rows
}

func (b Bundle) changeRows() []changeRow {
	var out []changeRow
	for _, g := range b.Changes {
		for _, c := range g.Changes {
			out = append(out, changeRow{Group: g.Group, Change: c})
		}
	}
	return out
}

func (b Bundle) insightRows() []insightRow {
	out := make([]insightRow, len(b.Insights))
	for i, in := range b.Insights {
		out[i] = insightRow{
			Priority:       in.Priority,
			Kind:           string(in.Kind),
			Rule:           in.Rule,
			Title:          in.Title,
			Campaign:       in.Campaign,
			MetricLabel:    in.MetricLabel,
			MetricValue:    in.MetricValue,
			Description:    in.Description,
			Recommendation: in.Recommendation,
		}
	}
	return out
}

// Save writes b to path, choosing the format from the extension. It returns
// the number of data rows written across all sheets.
func Save(path string, b Bundle) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return 0, fmt.Errorf("export: create %s: %w", filepath.Base(path), err)
		}
		rows := b.metricRows()
		if err := WriteCSV(f, rows); err != nil {
			_ = f.Close()
			return 0, err
		}
		return len(rows), f.Close()
	case ".xlsx":
		return WriteXLSX(path, b)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// WriteCSV encodes items with a header row using their csv tags.
func WriteCSV[T any](w io.Writer, items []T) error {
	recs, err := records(items)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(recs); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes one sheet per non-empty section of b. The metrics sheet
// is always present.
func WriteXLSX(path string, b Bundle) (int, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetMetrics); err != nil {
		return 0, fmt.Errorf("export: rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("export: style: %w", err)
	}

	metrics, err := records(b.metricRows())
	if err != nil {
		return 0, err
	}
	n := len(metrics) - 1
	if err := writeSheet(f, SheetMetrics, metrics, bold); err != nil {
		return 0, err
	}
	if changes := b.changeRows(); len(changes) > 0 {
		recs, err := records(changes)
		if err != nil {
			return 0, err
		}
		if _, err := f.NewSheet(SheetChanges); err != nil {
			return 0, fmt.Errorf("export: new sheet: %w", err)
		}
		if err := writeSheet(f, SheetChanges, recs, bold); err != nil {
			return 0, err
		}
		n += len(recs) - 1
	}
	if ins := b.insightRows(); len(ins) > 0 {
		recs, err := records(ins)
		if err != nil {
			return 0, err
		}
		if _, err := f.NewSheet(SheetInsights); err != nil {
			return 0, fmt.Errorf("export: new sheet: %w", err)
		}
		if err := writeSheet(f, SheetInsights, recs, bold); err != nil {
			return 0, err
		}
		n += len(recs) - 1
	}

	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("export: save %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

func writeSheet(f *excelize.File, sheet string, recs [][]string, headerStyle int) error {
	for i, rec := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = v
			if i > 0 && !textColumns[recs[0][j]] {
				row[j] = cellValue(v)
			}
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("export: %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(recs) == 0 || len(recs[0]) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(recs[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

var textColumns = map[string]bool{"name": true, "group": true, "campaign": true, "title": true, "metric": true, "metric_label": true}

// cellValue stores numeric text as numbers so spreadsheets can sort and sum.
func cellValue(s string) any {
	if s == "" {
		return s
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

type sink struct{ rows [][]string }

func (s *sink) Write(rec []string) error {
	s.rows = append(s.rows, append([]string(nil), rec...))
	return nil
}

func records[T any](items []T) ([][]string, error) {
	var zero T
	header, err := csvutil.Header(zero, "csv")
	if err != nil {
		return nil, fmt.Errorf("export: header: %w", err)
	}
	out := &sink{rows: [][]string{header}}
	enc := csvutil.NewEncoder(out)
	enc.AutoHeader = false
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return nil, fmt.Errorf("export: encode: %w", err)
		}
	}
	return out.rows, nil
}
