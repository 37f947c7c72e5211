// Package gateway issues chat-completion requests against an
// OpenAI-compatible provider and classifies failures for the caller.
//
// The gateway does one thing per call: a single generation over a message
// window with an optional function-calling tool catalog. It does not loop,
// does not parse tool arguments (they come back as the raw strings the
// provider produced), and does not decide what a failure means for the
// conversation — it only tells the caller which class the failure is in:
//
//   - [ErrNoCredential]: no API key configured; fails before any HTTP.
//   - [ErrTransient]: HTTP 429 or 5xx, or a transport error. Retried
//     locally up to two more times with fixed backoff before surfacing.
//   - [ErrPermanent]: any other 4xx; surfaced immediately.
//
// The split lets a boundary layer map the two classes to different
// externally visible outcomes.
package gateway
