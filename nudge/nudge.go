package nudge

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultMaxAttempts = 2
	DefaultBaseDelay   = 500 * time.Millisecond

	// maxSuggestions caps how many tool names a nudge interpolates.
	maxSuggestions = 3
)

// Rule maps user text to an intent category. Pattern detects the intent;
// Keywords select the catalog tools worth suggesting for it.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Keywords []string
}

// DefaultRules returns the built-in intent rules, ordered by priority:
// first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "list",
			Pattern:  regexp.MustCompile(`(?i)\b(list|ls|enumerate|show me)\b|列出|目录|列表|有哪些`),
			Keywords: []string{"list", "files"},
		},
		{
			Name:     "read",
			Pattern:  regexp.MustCompile(`(?i)\b(read|open|view|cat|contents?)\b|读取|查看|内容|打开`),
			Keywords: []string{"read"},
		},
		{
			Name:     "write",
			Pattern:  regexp.MustCompile(`(?i)\b(write|create|add|modify|change|update|edit|replace|fix)\b|写入|修改|创建|新建|替换|编辑`),
			Keywords: []string{"write", "replace"},
		},
		{
			Name:     "search",
			Pattern:  regexp.MustCompile(`(?i)\b(search|find|grep|locate|where)\b|搜索|查找|检索`),
			Keywords: []string{"search"},
		},
		{
			Name:     "validate",
			Pattern:  regexp.MustCompile(`(?i)\b(validate|check|lint|verify|syntax)\b|校验|检查|验证|语法`),
			Keywords: []string{"validate"},
		},
		{
			Name:     "snapshot",
			Pattern:  regexp.MustCompile(`(?i)\b(snapshot|restore|rollback|revert|backup)\b|快照|回滚|恢复|备份`),
			Keywords: []string{"snapshot", "restore"},
		},
		{
			Name:     "runtime",
			Pattern:  regexp.MustCompile(`(?i)\b(runtime|engine|status|version)\b|运行时|引擎|状态|版本`),
			Keywords: []string{"runtime", "info"},
		},
	}
}

// DefaultTemplates are the nudge messages, indexed by attempt number and
// clamped to the last entry. %s interpolates the suggested tool names.
var DefaultTemplates = []string{
	"This request needs a tool. Call one of the available tools (%s) instead of answering from memory.",
	"You must call a tool now. Pick the most suitable of %s and emit a tool call with concrete arguments before replying.",
}

// Context tracks retry state for exactly one inbound turn.
type Context struct {
	// Attempts counts the nudged regenerations performed so far.
	Attempts int

	// Original is the user's inbound text for this turn.
	Original string

	// Reasons records why each retry fired, in order.
	Reasons []string
}

// Decision is the heuristic's verdict for one tool-less reply.
type Decision struct {
	// Retry reports whether another generation attempt should happen.
	Retry bool

	// Reason identifies what triggered the retry.
	Reason string

	// Suggested holds the tool names interpolated into the nudge.
	Suggested []string

	// Wait is the backoff to sleep before the next generation.
	Wait time.Duration

	// Message is the synthetic steering message to append to the window.
	Message string
}

// Options configures a Heuristic.
type Options struct {
	// Rules overrides the intent rule list. Default: DefaultRules().
	Rules []Rule

	// Templates overrides the nudge templates. Default: DefaultTemplates.
	Templates []string

	// MaxAttempts is the retry ceiling per turn. Default: 2.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff. Default: 500ms.
	BaseDelay time.Duration

	// DisableSmartDetection retries every tool-less reply up to the
	// ceiling instead of matching intent first.
	DisableSmartDetection bool
}

// Heuristic decides retries for tool-less replies.
type Heuristic struct {
	rules       []Rule
	templates   []string
	maxAttempts int
	baseDelay   time.Duration
	smart       bool
}

// New creates a Heuristic with defaults applied.
func New(opts Options) *Heuristic {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	templates := opts.Templates
	if len(templates) == 0 {
		templates = DefaultTemplates
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Heuristic{
		rules:       rules,
		templates:   templates,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		smart:       !opts.DisableSmartDetection,
	}
}

// Decide examines one tool-less reply. On retry it increments the
// context's attempt counter, records the reason, and returns the nudge
// message plus the backoff to wait. Callers must only consult it when
// the reply produced no tool calls.
func (h *Heuristic) Decide(rc *Context, toolNames []string) Decision {
	if len(toolNames) == 0 || rc.Attempts >= h.maxAttempts {
		return Decision{}
	}

	var reason string
	var suggested []string

	if h.smart {
		if rule, ok := h.matchIntent(rc.Original); ok {
			reason = "intent:" + rule.Name
			suggested = selectByKeywords(toolNames, rule.Keywords)
			if len(suggested) == 0 {
				// The intent signal is still strong; fall back to the
				// head of the catalog.
				suggested = firstN(toolNames, maxSuggestions)
			}
		} else if name, ok := mentionedTool(rc.Original, toolNames); ok {
			reason = "mention:" + name
			suggested = []string{name}
		} else {
			return Decision{}
		}
	} else {
		reason = "unconditional"
		suggested = firstN(toolNames, maxSuggestions)
	}

	rc.Attempts++
	rc.Reasons = append(rc.Reasons, reason)

	return Decision{
		Retry:     true,
		Reason:    reason,
		Suggested: suggested,
		Wait:      h.Backoff(rc.Attempts),
		Message:   h.composeNudge(rc.Attempts, suggested),
	}
}

// Backoff returns the delay before the given attempt: exponential from
// the base, so attempts 1, 2, 3 wait base, 2*base, 4*base.
func (h *Heuristic) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return h.baseDelay << (attempt - 1)
}

func (h *Heuristic) matchIntent(text string) (Rule, bool) {
	for _, rule := range h.rules {
		if rule.Pattern != nil && rule.Pattern.MatchString(text) {
			return rule, true
		}
	}
	return Rule{}, false
}

func (h *Heuristic) composeNudge(attempt int, suggested []string) string {
	idx := attempt - 1
	if idx >= len(h.templates) {
		idx = len(h.templates) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return fmt.Sprintf(h.templates[idx], strings.Join(suggested, ", "))
}

func mentionedTool(text string, toolNames []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, name := range toolNames {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name, true
		}
	}
	return "", false
}

func selectByKeywords(toolNames, keywords []string) []string {
	var out []string
	for _, name := range toolNames {
		lower := strings.ToLower(name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out = append(out, name)
				break
			}
		}
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func firstN(names []string, n int) []string {
	if len(names) < n {
		n = len(names)
	}
	out := make([]string, n)
	copy(out, names[:n])
	return out
}
