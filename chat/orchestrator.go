package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Golenspade/terre-agent/bridge"
	"github.com/Golenspade/terre-agent/gateway"
	"github.com/Golenspade/terre-agent/nudge"
)

// ToolBridge is the orchestrator's view of the tool server.
//
// Contract:
// - Running/ListTools answer from cached state, never block.
// - CallTool honors ctx and returns *bridge.ToolError for application
//   failures, distinct from protocol/transport errors.
type ToolBridge interface {
	Running() bool
	ListTools() []bridge.ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]any) (*bridge.ToolResult, error)
}

// ChatRequest is one inbound turn.
type ChatRequest struct {
	// SessionID selects the conversation; empty creates a new session.
	SessionID string `json:"sessionId,omitempty"`

	// Message is the user's text.
	Message string `json:"message"`

	// Context is optional caller-supplied context prepended to the
	// user message.
	Context string `json:"context,omitempty"`
}

// ChatResult is the batched outcome of one turn.
type ChatResult struct {
	SessionID string        `json:"sessionId"`
	Content   string        `json:"content"`
	Steps     []Step        `json:"steps,omitempty"`
	Usage     gateway.Usage `json:"usage"`
	Retries   int           `json:"retries"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Orchestrator runs the per-turn state machine.
type Orchestrator struct {
	opts Options
	log  logrus.FieldLogger
	heur *nudge.Heuristic
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	return &Orchestrator{
		opts: opts,
		log:  opts.Logger,
		heur: opts.Heuristic,
	}, nil
}

// Chat runs one turn and returns the batched result. A provider
// failure at generation time aborts the turn; individual tool failures
// are narrated in the result instead.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return o.run(ctx, req, nil)
}

// ChatStream runs one turn and emits its side effects as discrete
// events. The channel is closed after the terminal done event, which
// follows final on success and error on failure.
func (o *Orchestrator) ChatStream(ctx context.Context, req ChatRequest) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		send := func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		res, err := o.run(ctx, req, send)
		if err != nil {
			send(Event{Type: EventError, Err: err.Error()})
		} else {
			send(Event{Type: EventFinal, SessionID: res.SessionID, Content: res.Content, Result: res})
		}
		send(Event{Type: EventDone})
	}()
	return ch
}

func (o *Orchestrator) run(ctx context.Context, req ChatRequest, emit func(Event)) (*ChatResult, error) {
	send := emit
	if send == nil {
		send = func(Event) {}
	}

	sess := o.opts.Store.GetOrCreate(req.SessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	send(Event{Type: EventMeta, SessionID: sess.ID})

	content := req.Message
	if req.Context != "" {
		content = req.Context + "\n\n" + content
	}
	sess.append(gateway.Message{Role: "user", Content: content})
	sess.repin(o.opts.SystemPrompt, o.opts.HistoryWindow)
	window := sess.window()

	var catalog []bridge.ToolDescriptor
	degraded := true
	if o.opts.Bridge != nil && o.opts.Bridge.Running() {
		catalog = o.opts.Bridge.ListTools()
		degraded = false
	}
	if degraded {
		o.log.Warn("tool server not running, turn proceeds tool-less")
		send(Event{Type: EventInfo, Content: "Tool server is not running; answering without project tools."})
	}

	byName := make(map[string]bridge.ToolDescriptor, len(catalog))
	names := make([]string, 0, len(catalog))
	for _, d := range catalog {
		byName[d.Name] = d
		names = append(names, d.Name)
	}
	schemas := toolSchemas(catalog)

	rc := &nudge.Context{Original: req.Message}
	var usage gateway.Usage
	var reply gateway.Reply

	for {
		r, err := o.opts.Client.Chat(ctx, gateway.Request{
			Messages:    window,
			Tools:       schemas,
			MaxTokens:   o.opts.MaxTokens,
			Temperature: o.opts.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("chat: generation failed: %w", err)
		}
		usage.Add(r.Usage)
		reply = r
		if len(r.ToolCalls) > 0 {
			break
		}

		d := o.heur.Decide(rc, names)
		if !d.Retry {
			break
		}
		o.log.WithFields(logrus.Fields{
			"session": sess.ID,
			"reason":  d.Reason,
			"attempt": rc.Attempts,
		}).Info("nudging tool-less reply")
		send(Event{Type: EventRetry, Content: d.Message})

		if r.Content != "" {
			prior := gateway.Message{Role: "assistant", Content: r.Content}
			window = append(window, prior)
			sess.append(prior)
		}
		nudgeMsg := gateway.Message{Role: "system", Content: d.Message}
		window = append(window, nudgeMsg)
		sess.append(nudgeMsg)

		if err := sleepCtx(ctx, d.Wait); err != nil {
			return nil, err
		}
	}

	res := &ChatResult{
		SessionID: sess.ID,
		Usage:     usage,
		Retries:   rc.Attempts,
		Degraded:  degraded,
	}

	if len(reply.ToolCalls) == 0 {
		text := reply.Content
		if rc.Attempts > 0 {
			text += fmt.Sprintf("\n\n(No tool call was produced after %d nudged attempt(s).)", rc.Attempts)
		}
		sess.append(gateway.Message{Role: "assistant", Content: text})
		res.Content = text
		return res, nil
	}

	calls := reply.ToolCalls
	if len(calls) > o.opts.MaxSteps {
		o.log.WithFields(logrus.Fields{
			"requested": len(calls),
			"max":       o.opts.MaxSteps,
		}).Warn("truncating tool calls for turn")
		calls = calls[:o.opts.MaxSteps]
	}

	if reply.Content != "" {
		send(Event{Type: EventAssistant, Content: reply.Content})
	}

	steps := make([]Step, 0, len(calls))
	for _, tc := range calls {
		st := o.execute(ctx, tc, byName)
		steps = append(steps, st)
		ev := st
		send(Event{Type: EventStep, Step: &ev})
	}

	summary := o.summarize(reply.Content, steps, rc.Attempts)
	sess.append(gateway.Message{Role: "assistant", Content: summary})
	res.Content = summary
	res.Steps = steps
	return res, nil
}

// execute runs one requested tool call. A blocked or failed step is
// recorded and returned, never raised.
func (o *Orchestrator) execute(ctx context.Context, tc gateway.ToolCall, catalog map[string]bridge.ToolDescriptor) Step {
	name := tc.Function.Name
	st := Step{Name: name, Args: o.parseArgs(name, tc.Function.Arguments)}

	desc, known := catalog[name]
	if !known || !desc.ReadOnly {
		st.Blocked = true
		st.Summary = BlockedReason
		return st
	}

	st.Args = normalizeArgs(name, st.Args, o.opts.DefaultDir)

	start := time.Now()
	result, err := o.opts.Bridge.CallTool(ctx, name, st.Args)
	st.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		var te *bridge.ToolError
		if errors.As(err, &te) {
			st.Error = te.Message
			st.ErrorCode = te.Code
			st.Hint = te.Hint
		} else {
			st.Error = err.Error()
		}
		st.Summary = fmt.Sprintf("%s failed: %s", displayName(name), st.Error)
		o.log.WithError(err).WithField("tool", name).Warn("tool call failed")
		return st
	}

	if result.IsText() {
		st.Result = result.Text
		st.Summary = fmt.Sprintf("%s: %s", displayName(name), preview(result.Text))
	} else {
		st.Result = result.Value
		st.Summary = fmt.Sprintf("%s: %s", displayName(name), summarizeValue(result.Value))
	}
	return st
}

// parseArgs decodes the provider's raw argument string. Malformed JSON
// degrades to an empty argument object rather than failing the turn.
func (o *Orchestrator) parseArgs(name, raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		o.log.WithError(err).WithField("tool", name).Warn("malformed tool arguments, using empty object")
		return map[string]any{}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}

// summarize composes the one assistant message narrating a turn's
// steps.
func (o *Orchestrator) summarize(preamble string, steps []Step, retries int) string {
	var b strings.Builder
	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n\n")
	}
	for _, st := range steps {
		switch {
		case st.Blocked:
			fmt.Fprintf(&b, "- %s %s: %s\n", displayName(st.Name), previewArgs(st.Args), BlockedReason)
		case st.Error != "":
			fmt.Fprintf(&b, "- %s\n", st.Summary)
			if st.Hint != "" {
				fmt.Fprintf(&b, "  Hint: %s\n", st.Hint)
			}
		default:
			fmt.Fprintf(&b, "- %s\n", st.Summary)
		}
	}
	if retries > 0 {
		fmt.Fprintf(&b, "\n(%d nudged attempt(s) were needed before a tool call was produced.)", retries)
	}
	return strings.TrimRight(b.String(), "\n")
}

func toolSchemas(catalog []bridge.ToolDescriptor) []gateway.ToolSchema {
	if len(catalog) == 0 {
		return nil
	}
	out := make([]gateway.ToolSchema, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, gateway.ToolSchema{
			Type: "function",
			Function: gateway.FunctionSchema{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
