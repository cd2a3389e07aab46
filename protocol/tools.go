package protocol

import (
	"encoding/json"
	"fmt"
)

// ToolInputSchema defines the expected input structure for a tool, expressed
// as a JSON Schema subset.
type ToolInputSchema struct {
	Type       string                    `json:"type"` // Typically "object"
	Properties map[string]PropertyDetail `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertyDetail describes a single parameter within a ToolInputSchema.
type PropertyDetail struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
}

// Tool defines a tool offered by the server. The descriptor is created at
// registration time and is immutable for the process lifetime.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ListToolsResult defines the result payload for a 'tools/list' response.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams defines the parameters for a 'tools/call' request: the tool
// name plus a mapping from parameter name to value.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallToolResult defines the result payload for a 'tools/call' response.
// IsError marks a failure that originated inside the tool handler, as opposed
// to a protocol-level JSON-RPC error.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// UnmarshalJSON decodes the Content interface slice by inspecting each item's
// type discriminator.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal CallToolResult: %w", err)
	}
	r.IsError = aux.IsError
	r.Content = make([]Content, 0, len(aux.Content))
	for _, raw := range aux.Content {
		var typeDetect struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &typeDetect); err != nil {
			return fmt.Errorf("failed to detect content type: %w", err)
		}
		switch typeDetect.Type {
		case "text":
			var tc TextContent
			if err := json.Unmarshal(raw, &tc); err != nil {
				return fmt.Errorf("failed to unmarshal TextContent: %w", err)
			}
			r.Content = append(r.Content, tc)
		default:
			return fmt.Errorf("unknown content type %q", typeDetect.Type)
		}
	}
	return nil
}

// Content defines the interface for the content items of a tool result.
type Content interface {
	GetType() string
}

// TextContent represents textual content, including the string rendering of a
// numeric tool result.
type TextContent struct {
	Type string `json:"type"` // Always "text"
	Text string `json:"text"`
}

func (tc TextContent) GetType() string { return tc.Type }

// NewTextContent creates a TextContent item.
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}
