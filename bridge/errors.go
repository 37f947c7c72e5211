package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for error classification.
var (
	// ErrNotRunning indicates that no tool-server process is alive.
	ErrNotRunning = errors.New("bridge: tool server not running")

	// ErrTimeout indicates that a single request saw no response within
	// its deadline. The process is left running; only the one call fails.
	ErrTimeout = errors.New("bridge: request timed out")

	// ErrTerminated indicates that the child process died or failed to
	// start. Every pending call fails with it and the bridge reports
	// stopped.
	ErrTerminated = errors.New("bridge: tool server terminated")

	// ErrHandshake indicates that the initialize exchange failed or timed
	// out during startup. The bridge is left stopped.
	ErrHandshake = errors.New("bridge: initialize handshake failed")

	// ErrToolFailed indicates that a tool executed but reported a domain
	// failure. Use errors.As to recover the *ToolError carrying the
	// stable code and hint.
	ErrToolFailed = errors.New("bridge: tool reported an error")
)

// RPCError is a protocol-level error object from a JSON-RPC response.
// It is distinct from ToolError: the request itself was rejected, no tool
// ran.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error returns the error message with its protocol code.
func (e *RPCError) Error() string {
	return fmt.Sprintf("bridge: rpc error %d: %s", e.Code, e.Message)
}

// ToolError is an application-level failure reported inside a tool result
// payload. The tool ran; the operation it attempted failed. Code is a
// stable machine-readable identifier meant for external translation, Hint
// is human guidance, Details carries optional structured context.
type ToolError struct {
	Code    string
	Message string
	Hint    string
	Details any
}

// Error returns the message, including the hint when present.
func (e *ToolError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether this error matches the target.
// ToolError matches ErrToolFailed to allow sentinel-style error checking.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolFailed
}
