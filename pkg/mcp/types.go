package mcp

import (
	"encoding/json"

	"github.com/providentiaww/track-mcp/internal/tools"
)

// Tool is the discovery view of a catalog entry.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	ReadOnly    bool           `json:"readOnly"`
}

// ToolCall is the body of POST /api/tools/call.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is a successful REST tool call.
type ToolResult struct {
	Tool   string          `json:"tool"`
	Result json.RawMessage `json:"result"`
}

// Describe lists the registry in discovery form.
func Describe(registry *tools.Registry) []Tool {
	list := registry.List()
	out := make([]Tool, len(list))
	for i, t := range list {
		out[i] = Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema(),
			ReadOnly:    t.ReadOnly,
		}
	}
	return out
}
