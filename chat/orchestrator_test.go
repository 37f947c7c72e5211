package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Golenspade/terre-agent/bridge"
	"github.com/Golenspade/terre-agent/gateway"
)

// scriptedClient replays canned replies in order, clamping to the last
// entry, and records every request it sees.
type scriptedClient struct {
	mu       sync.Mutex
	replies  []gateway.Reply
	errs     []error
	requests []gateway.Request
}

func (c *scriptedClient) Chat(_ context.Context, req gateway.Request) (gateway.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return gateway.Reply{}, c.errs[i]
	}
	if len(c.replies) == 0 {
		return gateway.Reply{}, nil
	}
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return c.replies[i], nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type recordedCall struct {
	name string
	args map[string]any
}

type fakeBridge struct {
	mu      sync.Mutex
	running bool
	tools   []bridge.ToolDescriptor
	result  *bridge.ToolResult
	err     error
	calls   []recordedCall
}

func (b *fakeBridge) Running() bool { return b.running }

func (b *fakeBridge) ListTools() []bridge.ToolDescriptor { return b.tools }

func (b *fakeBridge) CallTool(_ context.Context, name string, args map[string]any) (*bridge.ToolResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, recordedCall{name: name, args: args})
	if b.err != nil {
		return nil, b.err
	}
	if b.result != nil {
		return b.result, nil
	}
	return &bridge.ToolResult{Value: map[string]any{"ok": true}}, nil
}

func (b *fakeBridge) recorded() []recordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedCall(nil), b.calls...)
}

func descriptor(name string, readOnly bool) bridge.ToolDescriptor {
	return bridge.ToolDescriptor{
		Tool:     mcp.Tool{Name: name},
		ReadOnly: readOnly,
	}
}

func standardBridge() *fakeBridge {
	return &fakeBridge{
		running: true,
		tools: []bridge.ToolDescriptor{
			descriptor("list_files", true),
			descriptor("read_file", true),
			descriptor("write_to_file", false),
		},
	}
}

func toolCall(name, args string) gateway.ToolCall {
	return gateway.ToolCall{
		ID:       "call-" + name,
		Type:     "function",
		Function: gateway.FunctionCall{Name: name, Arguments: args},
	}
}

func testOrchestrator(t *testing.T, client gateway.Client, tb ToolBridge) *Orchestrator {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	o, err := New(Options{
		Bridge:         tb,
		Client:         client,
		Logger:         log,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestChat_MutatingToolIsBlocked(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{
		ToolCalls: []gateway.ToolCall{toolCall("write_to_file", `{"path":"game/a.txt","content":"x"}`)},
	}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "write x into a.txt"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(res.Steps))
	}
	st := res.Steps[0]
	if !st.Blocked {
		t.Error("Step.Blocked = false, want true")
	}
	if st.Summary != BlockedReason {
		t.Errorf("Step.Summary = %q, want %q", st.Summary, BlockedReason)
	}
	if st.Args["path"] != "game/a.txt" {
		t.Errorf("Step.Args[path] = %v, want proposed args retained", st.Args["path"])
	}
	if got := fb.recorded(); len(got) != 0 {
		t.Errorf("CallTool invoked %d times for blocked tool, want 0", len(got))
	}
	if !strings.Contains(res.Content, BlockedReason) {
		t.Errorf("Content = %q, want blocked notice narrated", res.Content)
	}
}

func TestChat_UnknownToolIsBlocked(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{
		ToolCalls: []gateway.ToolCall{toolCall("delete_everything", `{}`)},
	}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "use delete_everything now"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(res.Steps) != 1 || !res.Steps[0].Blocked {
		t.Fatalf("Steps = %+v, want one blocked step", res.Steps)
	}
	if got := fb.recorded(); len(got) != 0 {
		t.Errorf("CallTool invoked %d times for unknown tool, want 0", len(got))
	}
}

func TestChat_WriteIntentRetryCeiling(t *testing.T) {
	fb := standardBridge()
	// The model never produces a tool call.
	client := &scriptedClient{replies: []gateway.Reply{{Content: "I would edit the file like so..."}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "please write a new player script"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got := client.calls(); got != 3 {
		t.Errorf("generation calls = %d, want 3 (1 + 2 retries)", got)
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, want 2", res.Retries)
	}
	if !strings.Contains(res.Content, "2") {
		t.Errorf("Content = %q, want attempt count noted", res.Content)
	}
}

func TestChat_NoIntentNoRetry(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{Content: "hello!"}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "how is the weather today?"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got := client.calls(); got != 1 {
		t.Errorf("generation calls = %d, want 1", got)
	}
	if res.Retries != 0 {
		t.Errorf("Retries = %d, want 0", res.Retries)
	}
	if res.Content != "hello!" {
		t.Errorf("Content = %q, want unannotated model text", res.Content)
	}
}

func TestChat_ListIntentNudgeThenExecute(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{
		{Content: "The directory probably contains scenes."},
		{ToolCalls: []gateway.ToolCall{toolCall("list_files", `{"path":""}`)}},
	}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "列出 game/scene 目录"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Retries != 1 {
		t.Errorf("Retries = %d, want 1", res.Retries)
	}
	if got := client.calls(); got != 2 {
		t.Errorf("generation calls = %d, want 2", got)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(res.Steps))
	}
	if res.Steps[0].Blocked {
		t.Error("Step.Blocked = true, want false for read-only tool")
	}
	calls := fb.recorded()
	if len(calls) != 1 || calls[0].name != "list_files" {
		t.Fatalf("recorded calls = %+v, want one list_files", calls)
	}
	if calls[0].args["path"] != "game" {
		t.Errorf("args[path] = %v, want default %q applied", calls[0].args["path"], "game")
	}
	// The second request must carry the nudge in the window.
	second := client.requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == "system" && strings.Contains(m.Content, "list_files") {
			found = true
		}
	}
	if !found {
		t.Error("second generation window is missing the nudge message")
	}
}

func TestChat_MalformedArgsDegradeToEmpty(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{
		ToolCalls: []gateway.ToolCall{toolCall("read_file", `{not json`)},
	}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "read the main scene file"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(res.Steps))
	}
	calls := fb.recorded()
	if len(calls) != 1 {
		t.Fatalf("recorded calls = %d, want 1", len(calls))
	}
	if len(calls[0].args) != 0 {
		t.Errorf("args = %v, want empty object for malformed JSON", calls[0].args)
	}
}

func TestChat_StepTruncation(t *testing.T) {
	fb := standardBridge()
	var calls []gateway.ToolCall
	for i := 0; i < 15; i++ {
		calls = append(calls, toolCall("read_file", fmt.Sprintf(`{"path":"f%d"}`, i)))
	}
	client := &scriptedClient{replies: []gateway.Reply{{ToolCalls: calls}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "read every file"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(res.Steps) != DefaultMaxSteps {
		t.Errorf("len(Steps) = %d, want %d", len(res.Steps), DefaultMaxSteps)
	}
	if got := len(fb.recorded()); got != DefaultMaxSteps {
		t.Errorf("CallTool invocations = %d, want %d", got, DefaultMaxSteps)
	}
}

func TestChat_ToolFailureDoesNotAbortTurn(t *testing.T) {
	fb := standardBridge()
	fb.err = &bridge.ToolError{Code: "E_NOT_FOUND", Message: "no such file", Hint: "check the path"}
	client := &scriptedClient{replies: []gateway.Reply{{
		ToolCalls: []gateway.ToolCall{
			toolCall("read_file", `{"path":"a"}`),
			toolCall("read_file", `{"path":"b"}`),
		},
	}}}
	o := testOrchestrator(t, client, fb)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "read a and b"})
	if err != nil {
		t.Fatalf("Chat() error = %v, want narrated failures", err)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(res.Steps))
	}
	for _, st := range res.Steps {
		if st.ErrorCode != "E_NOT_FOUND" {
			t.Errorf("Step.ErrorCode = %q, want E_NOT_FOUND", st.ErrorCode)
		}
		if st.Hint != "check the path" {
			t.Errorf("Step.Hint = %q, want propagated hint", st.Hint)
		}
	}
	if got := len(fb.recorded()); got != 2 {
		t.Errorf("CallTool invocations = %d, want both attempted", got)
	}
}

func TestChat_GatewayFailureAbortsTurn(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{errs: []error{gateway.ErrPermanent}}
	o := testOrchestrator(t, client, fb)

	_, err := o.Chat(context.Background(), ChatRequest{Message: "list the files"})
	if !errors.Is(err, gateway.ErrPermanent) {
		t.Errorf("Chat() error = %v, want ErrPermanent", err)
	}
}

func TestChat_DegradedMode(t *testing.T) {
	client := &scriptedClient{replies: []gateway.Reply{{Content: "no tools available"}}}
	o := testOrchestrator(t, client, nil)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "how is the weather?"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.Degraded {
		t.Error("Degraded = false, want true with no bridge")
	}
	if tools := client.requests[0].Tools; tools != nil {
		t.Errorf("Tools = %v, want none in degraded mode", tools)
	}
}

func TestChat_SessionReuseAndWindowTrim(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{Content: "noted"}}}
	store := NewMemoryStore(0)
	log := logrus.New()
	log.SetOutput(io.Discard)
	o, err := New(Options{
		Bridge:        fb,
		Client:        client,
		Store:         store,
		Logger:        log,
		HistoryWindow: 4,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first, err := o.Chat(context.Background(), ChatRequest{Message: "turn one"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := o.Chat(context.Background(), ChatRequest{
			SessionID: first.SessionID,
			Message:   fmt.Sprintf("turn %d", i+2),
		}); err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
	hist := store.GetOrCreate(first.SessionID).History()
	// Window trims to 4 before generation; the final assistant append
	// can push it to 5.
	if len(hist) > 5 {
		t.Errorf("len(history) = %d, want <= 5 after trimming", len(hist))
	}
	if hist[0].Role != "system" {
		t.Errorf("history[0].Role = %q, want system pinned first", hist[0].Role)
	}
}

func TestChat_GeneratesSessionID(t *testing.T) {
	client := &scriptedClient{replies: []gateway.Reply{{Content: "hi"}}}
	o := testOrchestrator(t, client, nil)

	res, err := o.Chat(context.Background(), ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.SessionID == "" {
		t.Error("SessionID empty, want generated id")
	}
}

func TestChatStream_EventOrder(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{
		Content:   "Listing now.",
		ToolCalls: []gateway.ToolCall{toolCall("list_files", `{}`)},
	}}}
	o := testOrchestrator(t, client, fb)

	var types []EventType
	for ev := range o.ChatStream(context.Background(), ChatRequest{Message: "list the files"}) {
		types = append(types, ev.Type)
	}
	want := []EventType{EventMeta, EventAssistant, EventStep, EventFinal, EventDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestChatStream_DoneFollowsError(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{errs: []error{gateway.ErrNoCredential}}
	o := testOrchestrator(t, client, fb)

	var types []EventType
	for ev := range o.ChatStream(context.Background(), ChatRequest{Message: "list the files"}) {
		types = append(types, ev.Type)
	}
	if len(types) < 2 {
		t.Fatalf("event types = %v, want error then done", types)
	}
	if types[len(types)-2] != EventError || types[len(types)-1] != EventDone {
		t.Errorf("tail events = %v, want [error done]", types[len(types)-2:])
	}
}

func TestChatStream_DegradedEmitsInfo(t *testing.T) {
	client := &scriptedClient{replies: []gateway.Reply{{Content: "no tools here"}}}
	o := testOrchestrator(t, client, nil)

	seen := false
	for ev := range o.ChatStream(context.Background(), ChatRequest{Message: "hello"}) {
		if ev.Type == EventInfo {
			seen = true
		}
	}
	if !seen {
		t.Error("no info event emitted in degraded mode")
	}
}

func TestChat_ConcurrentTurnsOneSession(t *testing.T) {
	fb := standardBridge()
	client := &scriptedClient{replies: []gateway.Reply{{Content: "ok"}}}
	o := testOrchestrator(t, client, fb)

	first, err := o.Chat(context.Background(), ChatRequest{Message: "seed"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := o.Chat(context.Background(), ChatRequest{
				SessionID: first.SessionID,
				Message:   fmt.Sprintf("concurrent %d", n),
			})
			if err != nil {
				t.Errorf("Chat() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	hist := o.opts.Store.GetOrCreate(first.SessionID).History()
	if hist[0].Role != "system" {
		t.Errorf("history[0].Role = %q, want system", hist[0].Role)
	}
}
