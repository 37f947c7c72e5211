package chat

// BlockedReason is the fixed notice attached to every step whose tool
// is not read-only. The proposed name and arguments stay on the step
// for an external confirmation flow to act on.
const BlockedReason = "confirmation required: this tool modifies the project and was not executed"

// directoryTools take a path argument that means "a directory to
// operate on"; an absent or current-directory path defaults to the
// project's canonical content root.
var directoryTools = map[string]bool{
	"list_files":     true,
	"search_files":   true,
	"list_resources": true,
}

// normalizeArgs applies default-argument normalization before
// execution. Arguments are copied, never mutated in place.
func normalizeArgs(name string, args map[string]any, defaultDir string) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if directoryTools[name] {
		switch p := out["path"]; p {
		case nil, "", ".", "./":
			out["path"] = defaultDir
		}
	}
	return out
}
