package hub

import (
	"mcphub/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolDescriptor is a tool as presented to callers: the server's own
// declaration plus the hub-side pre-approval flag.
type ToolDescriptor struct {
	mcp.Tool
	// PreApproved marks tools the configuration allows to run without
	// a confirmation prompt.
	PreApproved bool `json:"preApproved"`
}

// ToolListing is the result of listing one server's tools.
type ToolListing struct {
	Server string           `json:"server"`
	Tools  []ToolDescriptor `json:"tools"`
	// Stale is true when the server is not currently connected and the
	// listing comes from the last successful refresh.
	Stale bool `json:"stale"`
}

// FilterTools applies the server's permission configuration to a raw
// tool list: disabled tools are removed entirely, and tools on the
// always-allow list are flagged pre-approved. The input is not
// modified.
func FilterTools(tools []mcp.Tool, cfg config.ServerConfig) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		if cfg.ToolDisabled(tool.Name) {
			continue
		}
		out = append(out, ToolDescriptor{
			Tool:        tool,
			PreApproved: cfg.AllowsTool(tool.Name),
		})
	}
	return out
}
