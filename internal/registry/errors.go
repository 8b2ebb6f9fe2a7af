package registry

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vinodismyname/mcpfunnel/internal/datasets"
	"github.com/vinodismyname/mcpfunnel/internal/export"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/internal/narrative"
	"github.com/vinodismyname/mcpfunnel/internal/security"
	"github.com/vinodismyname/mcpfunnel/internal/workbooks"
	"github.com/vinodismyname/mcpfunnel/pkg/mcperr"
)

// failure maps known sentinel errors to their catalog codes and falls back
// to code with the error text.
func failure(code mcperr.Code, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return mcperr.New(mcperr.Timeout, "")
	case errors.Is(err, context.Canceled):
		return mcperr.New(mcperr.Timeout, "request canceled")
	case errors.Is(err, datasets.ErrNotFound):
		return mcperr.New(mcperr.InvalidDataset, "")
	case errors.Is(err, datasets.ErrCapacity):
		return mcperr.New(mcperr.LimitExceeded, "dataset limit reached")
	case errors.Is(err, datasets.ErrTooManyRows):
		return mcperr.New(mcperr.LimitExceeded, err.Error())
	case errors.Is(err, security.ErrNotAllowed):
		return mcperr.New(mcperr.PermissionDenied, "path is outside the allowed directories")
	case errors.Is(err, security.ErrNotFound):
		return mcperr.New(code, "file or directory not found")
	case errors.Is(err, security.ErrUnsupportedExtension),
		errors.Is(err, workbooks.ErrUnsupportedFormat),
		errors.Is(err, export.ErrUnsupportedFormat):
		return mcperr.New(mcperr.UnsupportedFormat, "")
	case errors.Is(err, workbooks.ErrSheetNotFound):
		return mcperr.New(mcperr.InvalidSheet, "")
	case errors.Is(err, leads.ErrNaiveTimestamp):
		return mcperr.New(mcperr.NaiveTime, err.Error())
	case errors.Is(err, leads.ErrInvalidWindow):
		return mcperr.New(mcperr.InvalidWindow, "")
	case errors.Is(err, narrative.ErrNoModel):
		return mcperr.New(mcperr.NarrativeUnavailable, "")
	}
	return mcperr.Wrapf(code, "%v", err)
}
