package bridge

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// readOnlyTools is the capability fallback for servers that do not
// annotate their tools. Listing, reading, searching, validating, resource
// and snapshot enumeration, and runtime introspection are safe to
// auto-execute; everything else mutates project state.
var readOnlyTools = map[string]bool{
	"list_files":       true,
	"read_file":        true,
	"search_files":     true,
	"validate_script":  true,
	"list_resources":   true,
	"list_snapshots":   true,
	"get_runtime_info": true,
}

// ToolDescriptor describes one tool exposed by the tool server, plus the
// ReadOnly capability tag derived once at catalog-fetch time. ReadOnly
// comes from the server's readOnlyHint annotation when present, otherwise
// from the built-in name set.
type ToolDescriptor struct {
	mcp.Tool

	ReadOnly bool
}

// wireTool is the tools/list entry as it appears on the wire.
type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Annotations *wireToolHints `json:"annotations,omitempty"`
}

type wireToolHints struct {
	Title        string `json:"title,omitempty"`
	ReadOnlyHint bool   `json:"readOnlyHint,omitempty"`
}

func newDescriptor(w wireTool) ToolDescriptor {
	d := ToolDescriptor{
		Tool: mcp.Tool{
			Name:        w.Name,
			Description: w.Description,
			InputSchema: w.InputSchema,
		},
	}
	if w.Annotations != nil {
		d.Tool.Annotations = &mcp.ToolAnnotations{
			Title:        w.Annotations.Title,
			ReadOnlyHint: w.Annotations.ReadOnlyHint,
		}
		d.ReadOnly = w.Annotations.ReadOnlyHint
	} else {
		d.ReadOnly = readOnlyTools[w.Name]
	}
	return d
}
