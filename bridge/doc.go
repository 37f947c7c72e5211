// Package bridge owns the tool-server child process and the JSON-RPC
// conversation with it over the child's standard streams.
//
// The tool server is a separate long-lived executable that exposes file
// and project operations as named tools. The bridge launches it with the
// project root as working directory, performs the mandatory initialize
// handshake, caches the tool catalog, and then correlates requests with
// responses by id so callers can issue calls concurrently and receive
// out-of-order completions.
//
// # Architecture
//
// The package is built from three pieces:
//
//   - [Framer]: converts between the byte stream and discrete message
//     frames. The shipped [LineFramer] implements newline-delimited JSON;
//     the framing scheme is swappable without touching correlation.
//
//   - A pending-request table keyed by a monotonically increasing integer
//     id. Every entry is settled exactly once: by a matching response, by
//     its own timeout, or by process termination.
//
//   - [Bridge]: the lifecycle surface. Start launches (replacing any
//     previous process), Stop tears down idempotently, Call issues a raw
//     request, CallTool wraps tools/call and unwraps the nested result
//     envelope into a [ToolResult] or [ToolError].
//
// # Failure semantics
//
// A per-call timeout fails only that call and leaves the process running;
// a late response for a timed-out id is ignored as unmatched. Process exit
// fails every outstanding call with [ErrTerminated] and resets the bridge
// to stopped. There is no automatic restart.
//
// # Capability tags
//
// Each catalog entry carries a ReadOnly tag resolved once at fetch time,
// from the server's readOnlyHint annotation when present and from a
// built-in name set otherwise. Callers enforcing a safety split consult
// the tag, not the name.
package bridge
