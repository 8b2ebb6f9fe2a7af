package registry

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ExportToolFilter hides file-writing tools unless exports are enabled
// (server.enable_exports or MCPFUNNEL_ENABLE_EXPORTS=true).
type ExportToolFilter struct {
	allowExports bool
}

// NewExportToolFilter constructs a filter for the configured export toggle.
func NewExportToolFilter(allowExports bool) *ExportToolFilter {
	return &ExportToolFilter{allowExports: allowExports}
}

// FilterTools implements server tool filtering semantics. When exports are
// disabled, tools named export_* or write_* are excluded from discovery.
func (f *ExportToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowExports {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		name := strings.ToLower(t.Name)
		if strings.HasPrefix(name, "export_") || strings.HasPrefix(name, "write_") {
			continue
		}
		out = append(out, t)
	}
	return out
}
