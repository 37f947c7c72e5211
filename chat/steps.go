package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Preview bounds. Structured results are summarized by shape rather
// than serialized in full.
const (
	previewLimit   = 200
	summaryMaxKeys = 8
)

// Step records one tool call considered during a turn, in call order.
type Step struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Blocked    bool           `json:"blocked,omitempty"`
	Summary    string         `json:"summary"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"errorCode,omitempty"`
	Hint       string         `json:"hint,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

var titleCaser = cases.Title(language.Und)

// displayName turns a wire tool name into prose: "list_files" becomes
// "List Files".
func displayName(tool string) string {
	return titleCaser.String(strings.ReplaceAll(tool, "_", " "))
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit]) + "..."
}

func previewArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return preview(string(b))
}

// summarizeValue describes a structured result by shape: maps as a
// capped key list, slices as an item count, everything else as a
// bounded preview.
func summarizeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "ok"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > summaryMaxKeys {
			keys = keys[:summaryMaxKeys]
		}
		return fmt.Sprintf("object with %d keys (%s)", len(val), strings.Join(keys, ", "))
	case []any:
		return fmt.Sprintf("%d items", len(val))
	case string:
		return preview(val)
	default:
		return preview(fmt.Sprint(val))
	}
}
