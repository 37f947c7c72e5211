package bridge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultServerCommand is the globally installed tool-server command name,
// used when no explicit binary path is configured.
const DefaultServerCommand = "terre-server"

// Flags enables optional tool-server capabilities at launch.
type Flags struct {
	// EnableExec lets the server run project scripts.
	EnableExec bool

	// EnableBrowser lets the server open preview pages.
	EnableBrowser bool
}

func (f Flags) args() []string {
	var out []string
	if f.EnableExec {
		out = append(out, "--enable-exec")
	}
	if f.EnableBrowser {
		out = append(out, "--enable-browser")
	}
	return out
}

// resolveExecutable locates the tool-server binary. Resolution order:
// an explicitly configured prebuilt binary, a from-source build output
// under the project root, then the globally installed command on PATH.
func resolveExecutable(opts Options, rootDir string) (string, error) {
	if opts.ServerPath != "" {
		if _, err := os.Stat(opts.ServerPath); err != nil {
			return "", fmt.Errorf("bridge: server binary %s: %w", opts.ServerPath, err)
		}
		return opts.ServerPath, nil
	}
	local := filepath.Join(rootDir, "bin", DefaultServerCommand)
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	path, err := exec.LookPath(DefaultServerCommand)
	if err != nil {
		return "", fmt.Errorf("bridge: no tool server found (set Options.ServerPath or install %s): %w",
			DefaultServerCommand, err)
	}
	return path, nil
}
