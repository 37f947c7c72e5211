package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Message is one entry in the conversation window, in provider wire
// shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model. Arguments stay
// as the raw string the provider produced; parsing is the caller's
// decision.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its unparsed argument JSON.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema is one catalog entry projected into the provider's
// function-calling schema.
type ToolSchema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema describes one callable function to the provider.
type FunctionSchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Usage is the provider's token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another generation's usage into u.
func (u *Usage) Add(v Usage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.TotalTokens += v.TotalTokens
}

// Request is one generation over a message window.
type Request struct {
	Messages    []Message
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float32
}

// Reply is the model's answer: free text, any requested tool calls, and
// usage accounting.
type Reply struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Client issues one chat completion per call.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines.
// - Errors: failures must match exactly one of ErrNoCredential,
//   ErrTransient, ErrPermanent via errors.Is.
type Client interface {
	Chat(ctx context.Context, req Request) (Reply, error)
}

// Default configuration values.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 120 * time.Second
)

// defaultBackoff is the fixed local retry schedule for transient
// failures: two extra attempts.
var defaultBackoff = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}

// Options configures an HTTPClient.
type Options struct {
	// BaseURL is the provider endpoint root. A bare host is normalized
	// to an http URL with a /v1 suffix. Default: the OpenAI API.
	BaseURL string

	// APIKey is the bearer credential. An empty key makes every Chat
	// call fail with ErrNoCredential before any HTTP.
	APIKey string

	// Model is the model identifier sent with every request. Required.
	Model string

	// Timeout bounds one HTTP round trip. Default: 120s.
	Timeout time.Duration

	// Backoff overrides the transient-retry schedule. The number of
	// entries is the number of extra attempts. Default: 500ms, 1500ms.
	Backoff []time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// HTTPClient is the OpenAI-compatible implementation of Client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	backoff []time.Duration
	http    *http.Client
}

// New creates an HTTPClient. The model is required; the credential is
// checked per call so a client can be constructed before configuration
// is complete.
func New(opts Options) (*HTTPClient, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("gateway: Model is required")
	}
	baseURL := normalizeBaseURL(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		backoff: backoff,
		http:    httpClient,
	}, nil
}

// chatCompletionRequest is the provider wire request.
type chatCompletionRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float32      `json:"temperature,omitempty"`
}

// chatCompletionResponse is the provider wire response.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat issues one generation, retrying transient failures on the fixed
// backoff schedule before surfacing them.
func (c *HTTPClient) Chat(ctx context.Context, req Request) (Reply, error) {
	if c.apiKey == "" {
		return Reply{}, ErrNoCredential
	}
	if len(req.Messages) == 0 {
		return Reply{}, fmt.Errorf("%w: request has no messages", ErrPermanent)
	}

	wire := chatCompletionRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		wire.ToolChoice = "auto"
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: marshal request: %v", ErrPermanent, err)
	}

	for attempt := 0; ; attempt++ {
		reply, err := c.roundTrip(ctx, payload)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, ErrTransient) || attempt >= len(c.backoff) {
			return Reply{}, err
		}
		select {
		case <-time.After(c.backoff[attempt]):
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		}
	}
}

func (c *HTTPClient) roundTrip(ctx context.Context, payload []byte) (Reply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: create request: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Reply{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Reply{}, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
	}
	if len(decoded.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: response has no choices", ErrTransient)
	}

	choice := decoded.Choices[0]
	return Reply{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        decoded.Usage,
	}, nil
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}
