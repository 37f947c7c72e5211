package chat

import (
	"strings"
	"testing"
)

func TestPreview(t *testing.T) {
	if got := preview("short"); got != "short" {
		t.Errorf("preview(short) = %q", got)
	}
	long := strings.Repeat("x", 300)
	got := preview(long)
	if len([]rune(got)) != previewLimit+3 {
		t.Errorf("len(preview(long)) = %d runes, want %d", len([]rune(got)), previewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("preview(long) = %q, want ellipsis suffix", got[len(got)-10:])
	}
	// Rune-safe: multi-byte text must not be split mid-character.
	cjk := strings.Repeat("目", 250)
	if !strings.HasSuffix(preview(cjk), "目...") {
		t.Error("preview split a multi-byte rune")
	}
}

func TestSummarizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "ok"},
		{"slice", []any{1, 2, 3}, "3 items"},
		{"string", "hello", "hello"},
		{"number", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summarizeValue(tt.in); got != tt.want {
				t.Errorf("summarizeValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSummarizeValue_MapCapsKeys(t *testing.T) {
	m := map[string]any{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		m[k] = 1
	}
	got := summarizeValue(m)
	if !strings.HasPrefix(got, "object with 10 keys") {
		t.Errorf("summarizeValue(map) = %q, want count prefix", got)
	}
	if strings.Contains(got, "j") {
		t.Errorf("summarizeValue(map) = %q, want key list capped at %d", got, summaryMaxKeys)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"list_files", "List Files"},
		{"get_runtime_info", "Get Runtime Info"},
		{"read_file", "Read File"},
	}
	for _, tt := range tests {
		if got := displayName(tt.in); got != tt.want {
			t.Errorf("displayName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args map[string]any
		want any
	}{
		{"missing path", "list_files", map[string]any{}, "game"},
		{"empty path", "list_files", map[string]any{"path": ""}, "game"},
		{"dot path", "search_files", map[string]any{"path": "."}, "game"},
		{"dot slash", "list_resources", map[string]any{"path": "./"}, "game"},
		{"explicit path kept", "list_files", map[string]any{"path": "game/scene"}, "game/scene"},
		{"non-directory tool untouched", "read_file", map[string]any{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArgs(tt.tool, tt.args, "game")
			if got["path"] != tt.want {
				t.Errorf("normalizeArgs(%s)[path] = %v, want %v", tt.tool, got["path"], tt.want)
			}
		})
	}
}

func TestNormalizeArgs_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"path": ""}
	normalizeArgs("list_files", in, "game")
	if in["path"] != "" {
		t.Error("normalizeArgs mutated its input map")
	}
}
