package generic

import (
	"encoding/json"
	"net/http"
	"time"

	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"golang.org/x/time/rate"
)

// Completer is a struct which follows the chat-completion wire format used by
// OpenAI and every server mimicking it (vLLM, llama.cpp, ollama, ...).
type Completer struct {
	provider    pub_models.Provider
	url         string
	apiKey      string
	requireKey  bool
	temperature *float64
	maxTokens   *int
	filter      func(id string) bool
	client      *http.Client
	limiter     *rate.Limiter
	headerLimit *RateLimiter
	debug       bool
}

// Config is the construction time configuration of a Completer.
type Config struct {
	Provider pub_models.Provider
	// URL is the base endpoint, such as https://api.openai.com/v1. The
	// '/chat/completions' and '/models' paths are appended to it.
	URL        string
	APIKey     string
	RequireKey bool
	// Temperature is used when the request doesn't specify one.
	Temperature *float64
	MaxTokens   *int
	Timeout     time.Duration
	// RequestsPerMinute paces outgoing requests client side, 0 disables.
	RequestsPerMinute int
	// ModelFilter drops models from ListModels, nil keeps all.
	ModelFilter func(id string) bool
	// RemainingHeader and ResetHeader names the rate limit headers of the
	// vendor, leave empty if it has none.
	RemainingHeader string
	ResetHeader     string
	DebugEnv        string
	// Transport overrides the http transport, used in tests.
	Transport http.RoundTripper
}

type ToolSuper struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ToolsCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function Func   `json:"function"`
}

type Func struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is either a string, a slice of contentPart or nil, depending
	// on role and what the message carries.
	Content    any         `json:"content"`
	ToolCalls  []ToolsCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type req struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Tools       []ToolSuper   `json:"tools,omitempty"`
}

type chatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type responseMessage struct {
	Role string `json:"role"`
	// Content is null, a string, or an array of parts depending on vendor
	Content          json.RawMessage `json:"content"`
	ReasoningContent string          `json:"reasoning_content"`
	ToolCalls        []ToolsCall     `json:"tool_calls"`
}

type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}
