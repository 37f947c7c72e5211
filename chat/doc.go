// Package chat runs the per-turn conversation loop between a model
// provider and the project tool server.
//
// # Architecture
//
// A turn flows through one state machine: resolve the session, window
// the history, fetch the tool catalog (or proceed degraded when the
// server is down), generate, consult the retry heuristic on tool-less
// replies, then execute the requested tool calls and narrate the
// outcome as one assistant message.
//
// The pieces:
//
//   - Store / MemoryStore: session history keyed by id, with optional
//     TTL eviction. Turns for one session are serialized on the
//     session's mutex.
//   - Orchestrator: the turn machine. Chat returns the batched result;
//     ChatStream emits the same side effects as discrete events.
//   - Step: the record of one tool call considered during a turn.
//
// # Safety
//
// Tool calls are partitioned by the catalog's ReadOnly capability tag.
// Read-only tools execute immediately; everything else, including
// unrecognized names, is recorded as a blocked step carrying the
// proposed name and arguments for an external confirmation flow. A
// blocked or failed step never aborts the remaining steps of a turn;
// only a generation-time provider failure aborts the whole turn.
package chat
