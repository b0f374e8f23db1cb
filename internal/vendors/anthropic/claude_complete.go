package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/google/uuid"
	"github.com/milarze/ergon/internal/models"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

const provider = string(pub_models.ProviderAnthropic)

func (c *Claude) Complete(ctx context.Context, chat pub_models.CompletionRequest) (pub_models.CompletionResponse, error) {
	if len(chat.Messages) == 0 {
		return pub_models.CompletionResponse{}, models.NewInvalidRequest("no messages provided")
	}
	if chat.Model == "" {
		return pub_models.CompletionResponse{}, models.NewInvalidRequest("no model specified")
	}
	if c.apiKey == "" {
		return pub_models.CompletionResponse{}, models.NewUnauthenticated(provider)
	}
	for i, m := range chat.Messages {
		if err := m.Validate(); err != nil {
			return pub_models.CompletionResponse{}, models.NewInvalidRequest("message %v: %v", i, err)
		}
	}

	system, claudifiedMsgs := claudifyMessages(chat.Messages)
	if len(claudifiedMsgs) == 0 {
		return pub_models.CompletionResponse{}, models.NewInvalidRequest("no non-system messages provided")
	}
	temperature := c.temperature
	if chat.Temperature != nil {
		temperature = chat.Temperature
	}
	reqData := claudeReq{
		Model:       chat.Model,
		Messages:    claudifiedMsgs,
		MaxTokens:   c.maxTokens,
		System:      system,
		Temperature: temperature,
		Tools:       toClaudeTools(chat.Tools),
	}
	if c.debug {
		ancli.PrintOK(fmt.Sprintf("claude request: %v\n", debug.IndentedJsonFmt(reqData)))
	}
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return pub_models.CompletionResponse{}, fmt.Errorf("failed to marshal ClaudeReq: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.url+"/messages", jsonData)
	if err != nil {
		return pub_models.CompletionResponse{}, err
	}
	var cr ClaudeResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return pub_models.CompletionResponse{}, &models.DecodeError{Provider: provider, Err: err}
	}
	if c.debug {
		ancli.PrintOK(fmt.Sprintf("claude response: %v\n", debug.IndentedJsonFmt(cr)))
	}
	return fromClaudeResponse(cr), nil
}

// fromClaudeResponse keeps every text and thinking block as its own assistant
// segment, in order. All tool_use blocks are gathered into one trailing
// assistant message, so that the tool results all answer the same message.
func fromClaudeResponse(cr ClaudeResponse) pub_models.CompletionResponse {
	var msgs []pub_models.Message
	toolMsg := pub_models.Message{Role: pub_models.RoleAssistant}
	seen := make(map[string]struct{})
	for _, block := range cr.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				msgs = append(msgs, pub_models.AssistantMessage(block.Text))
			}
		case "thinking":
			if block.Thinking != "" {
				msgs = append(msgs, pub_models.AssistantMessage(block.Thinking))
			}
		case "tool_use":
			id := block.ID
			if _, dup := seen[id]; id == "" || dup {
				id = uuid.NewString()
			}
			seen[id] = struct{}{}
			input := block.Input
			if len(input) == 0 || string(input) == "null" {
				input = emptyInput
			}
			toolMsg.ToolCalls = append(toolMsg.ToolCalls, pub_models.ToolCallRequest{
				ID:        id,
				Name:      block.Name,
				Arguments: input,
			})
			toolMsg.Content = append(toolMsg.Content, pub_models.ToolUse{ID: id, Name: block.Name, Input: input})
		}
	}
	if len(toolMsg.ToolCalls) > 0 {
		msgs = append(msgs, toolMsg)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, pub_models.AssistantMessage(""))
	}
	return pub_models.CompletionResponse{
		ID:    cr.ID,
		Model: cr.Model,
		Choices: []pub_models.Choice{{
			Index:        0,
			Messages:     msgs,
			FinishReason: cr.StopReason,
		}},
	}
}

func (c *Claude) ListModels(ctx context.Context) ([]pub_models.ModelDescriptor, error) {
	if c.apiKey == "" {
		return nil, models.NewUnauthenticated(provider)
	}
	var ret []pub_models.ModelDescriptor
	afterID := ""
	for {
		query := url.Values{"limit": {"1000"}}
		if afterID != "" {
			query.Set("after_id", afterID)
		}
		body, err := c.do(ctx, http.MethodGet, c.url+"/models?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		var ml modelList
		if err := json.Unmarshal(body, &ml); err != nil {
			return nil, &models.DecodeError{Provider: provider, Err: err}
		}
		for _, m := range ml.Data {
			if m.ID == "" {
				continue
			}
			name := m.DisplayName
			if name == "" {
				name = m.ID
			}
			ret = append(ret, pub_models.ModelDescriptor{
				DisplayName: name,
				ID:          m.ID,
				Provider:    pub_models.ProviderAnthropic,
			})
		}
		if !ml.HasMore || ml.LastID == "" || ml.LastID == afterID {
			return ret, nil
		}
		afterID = ml.LastID
	}
}

func (c *Claude) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	c.headerLimit.WaitIfNeeded(ctx)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.TransportError{Provider: provider, Err: err}
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.anthropicVersion)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{Provider: provider, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer res.Body.Close()
	if err := c.headerLimit.UpdateFromHeaders(res.Header); err != nil && c.debug {
		ancli.PrintWarn(fmt.Sprintf("claude: failed to update rate limits: %v\n", err))
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &models.TransportError{Provider: provider, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &models.ProviderError{Provider: provider, Status: res.StatusCode, Body: string(body)}
	}
	return body, nil
}
