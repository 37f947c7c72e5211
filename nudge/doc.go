// Package nudge decides whether a tool-less model reply deserves another
// generation attempt, and builds the synthetic steering message for it.
//
// The heuristic looks only at the user's original text and the tool
// catalog — never at tool arguments or results — and it is consulted only
// when a generation produced zero tool calls. With smart detection on, an
// ordered rule list maps the text to an intent category (list, read,
// write, search, validate, snapshot, runtime); the first matching rule
// wins and selects the suggested tool names. When no rule matches, a
// literal mention of a catalog tool name still triggers a retry; when
// neither matches, the reply stands. With smart detection off, every
// tool-less reply is retried up to the attempt ceiling.
//
// The default rules carry both English and Chinese patterns because the
// conversations this heuristic grew up on are bilingual. Callers with
// different traffic replace the rule list wholesale via [Options.Rules].
package nudge
