package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpfunnel/pkg/pagination"
)

type openArgs struct {
	Path  string `validate:"required,leadpath"`
	Sheet string `validate:"omitempty,sheetname"`
}

type metricArgs struct {
	Dimension string `validate:"omitempty,dimension"`
	SortBy    string `validate:"omitempty,sortkey"`
	Start     string `validate:"omitempty,datetime_or_date"`
	End       string `validate:"required_with=Start"`
	Cursor    string `validate:"omitempty,cursor"`
	PageSize  int    `validate:"omitempty,min=1,max=500"`
}

func TestValidateStruct_Messages(t *testing.T) {
	require.Empty(t, ValidateStruct(openArgs{Path: "/data/leads.csv"}))
	require.Equal(t, "VALIDATION: path is required", ValidateStruct(openArgs{}))
	require.Contains(t, ValidateStruct(openArgs{Path: "leads.txt"}), "lead file")
	require.Contains(t, ValidateStruct(openArgs{Path: "a.xlsx", Sheet: "bad:name"}), "sheet name")

	require.Empty(t, ValidateStruct(metricArgs{Dimension: "source", SortBy: "sales"}))
	require.Contains(t, ValidateStruct(metricArgs{Dimension: "region"}), "dimension must be one of")
	require.Contains(t, ValidateStruct(metricArgs{SortBy: "revenue"}), "conversion_rate")
	require.Contains(t, ValidateStruct(metricArgs{Start: "yesterday", End: "2025-03-01"}), "RFC 3339")
	require.Contains(t, ValidateStruct(metricArgs{Start: "2025-03-01"}), "end is required together with start")
	require.Equal(t, "VALIDATION: pagesize must satisfy max=500", ValidateStruct(metricArgs{PageSize: 501}))
}

func TestValidateStruct_Cursor(t *testing.T) {
	tok, err := pagination.EncodeCursor(pagination.Cursor{Did: "d", Dim: "utm_campaign", Sb: "sales", Ps: 10})
	require.NoError(t, err)
	require.Empty(t, ValidateStruct(metricArgs{Cursor: tok}))
	require.Contains(t, ValidateStruct(metricArgs{Cursor: "@@@"}), "CURSOR_INVALID")
}

func TestParseBound(t *testing.T) {
	got, err := ParseBound("2025-03-01")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseBound("2025-03-01T09:00:00-03:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), got)
	require.Equal(t, time.UTC, got.Location())

	_, err = ParseBound("03/01/2025")
	require.Error(t, err)
}
