package chat

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Golenspade/terre-agent/gateway"
	"github.com/Golenspade/terre-agent/nudge"
)

// Default configuration values.
const (
	DefaultHistoryWindow  = 12
	DefaultMaxSteps       = 12
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultMaxTokens      = 2048
	DefaultTemperature    = 0.7
	DefaultDir            = "game"

	// DefaultSystemPrompt is pinned at index 0 of every session window.
	DefaultSystemPrompt = "You are an assistant embedded in a game project editor. " +
		"Use the available tools to inspect the project instead of guessing; " +
		"propose mutating operations and wait for confirmation."
)

// Options configures an Orchestrator. Client is required; everything
// else has a usable default. A nil Bridge runs every turn in degraded
// (tool-less) mode.
type Options struct {
	// Bridge dispatches tool calls. Optional.
	Bridge ToolBridge

	// Client issues chat completions. Required.
	Client gateway.Client

	// Heuristic decides retries for tool-less replies. Default: a
	// nudge.Heuristic built from MaxRetries, RetryBaseDelay and
	// DisableSmartDetection.
	Heuristic *nudge.Heuristic

	// Store holds session history. Default: an in-memory store with no
	// eviction.
	Store Store

	// Logger receives orchestrator diagnostics. Default: the standard
	// logrus logger.
	Logger logrus.FieldLogger

	// SystemPrompt is re-pinned at index 0 before each generation.
	SystemPrompt string

	// HistoryWindow bounds the message window per generation. Default: 12.
	HistoryWindow int

	// MaxSteps bounds tool calls executed per turn. Default: 12.
	MaxSteps int

	// MaxRetries is the nudged-regeneration ceiling per turn. Default: 2.
	MaxRetries int

	// RetryBaseDelay seeds the nudge backoff. Default: 500ms.
	RetryBaseDelay time.Duration

	// DisableSmartDetection makes the heuristic retry unconditionally
	// instead of matching intent first.
	DisableSmartDetection bool

	// MaxTokens per generation. Default: 2048.
	MaxTokens int

	// Temperature per generation. Default: 0.7.
	Temperature float32

	// DefaultDir substitutes for empty or "." paths on directory-style
	// tools. Default: "game".
	DefaultDir string
}

func (o *Options) validate() error {
	if o.Client == nil {
		return errors.New("chat: Options.Client is required")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	if o.DefaultDir == "" {
		o.DefaultDir = DefaultDir
	}
	if o.Heuristic == nil {
		o.Heuristic = nudge.New(nudge.Options{
			MaxAttempts:           o.MaxRetries,
			BaseDelay:             o.RetryBaseDelay,
			DisableSmartDetection: o.DisableSmartDetection,
		})
	}
	if o.Store == nil {
		o.Store = NewMemoryStore(0)
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}
