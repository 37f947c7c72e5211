package bridge

import (
	"encoding/json"
	"fmt"
)

// ToolResult is the unwrapped payload of one tools/call invocation.
// Exactly one of Value and Text is meaningful: Value holds the decoded
// JSON payload, Text holds the raw inner text when it was not valid JSON.
type ToolResult struct {
	Value any
	Text  string
}

// IsText reports whether the payload did not parse as JSON and is carried
// as raw text.
func (r *ToolResult) IsText() bool {
	return r.Value == nil && r.Text != ""
}

// toolEnvelope is the generic tools/call response envelope. Its content's
// text field is itself JSON carrying either the tool's result or an error
// object.
type toolEnvelope struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// unwrapToolResult peels the two layers of a tools/call response: the
// generic envelope, then the JSON text nested inside it. An application
// error object inside the payload becomes a *ToolError; text that fails
// to parse as JSON is returned raw rather than failing the call.
func unwrapToolResult(raw json.RawMessage) (*ToolResult, error) {
	var env toolEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bridge: malformed tools/call envelope: %w", err)
	}

	text := ""
	for _, c := range env.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	if text == "" {
		return &ToolResult{}, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return &ToolResult{Text: text}, nil
	}

	if obj, ok := payload.(map[string]any); ok {
		if errObj, ok := obj["error"].(map[string]any); ok {
			return nil, newToolError(errObj)
		}
	}
	return &ToolResult{Value: payload}, nil
}

func newToolError(obj map[string]any) *ToolError {
	te := &ToolError{Details: obj["details"]}
	if code, ok := obj["code"]; ok {
		// Servers have shipped both string and numeric codes.
		te.Code = fmt.Sprint(code)
	}
	if msg, ok := obj["message"].(string); ok {
		te.Message = msg
	}
	if hint, ok := obj["hint"].(string); ok {
		te.Hint = hint
	}
	if te.Message == "" {
		te.Message = "tool reported an unspecified error"
	}
	return te
}
