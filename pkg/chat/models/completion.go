package models

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderVllm      Provider = "vllm"
)

type ModelDescriptor struct {
	DisplayName string   `json:"display_name"`
	ID          string   `json:"id"`
	Provider    Provider `json:"provider"`
}

type CompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	Tools       []ToolDescriptor `json:"tools,omitempty"`
}

type CompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
}

// Choice holds every message segment the provider returned for one
// alternative, in order. Reasoning followed by an answer is two segments.
type Choice struct {
	Index        int       `json:"index"`
	Messages     []Message `json:"messages"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// ToolCalls returns every tool call request of every message, in order.
func (c Choice) ToolCalls() []ToolCallRequest {
	var ret []ToolCallRequest
	for _, m := range c.Messages {
		ret = append(ret, m.ToolCalls...)
	}
	return ret
}
