package generic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func (s *Completer) toRequest(chat pub_models.CompletionRequest) (req, error) {
	msgs := make([]chatMessage, 0, len(chat.Messages))
	for i, m := range chat.Messages {
		if err := m.Validate(); err != nil {
			return req{}, fmt.Errorf("message %v: %w", i, err)
		}
		msgs = append(msgs, toChatMessage(m))
	}
	temperature := s.temperature
	if chat.Temperature != nil {
		temperature = chat.Temperature
	}
	ret := req{
		Model:       chat.Model,
		Messages:    msgs,
		MaxTokens:   s.maxTokens,
		Temperature: temperature,
	}
	for _, t := range chat.Tools {
		ret.Tools = append(ret.Tools, ToolSuper{
			Type:     "function",
			Function: convertToGenericTool(t),
		})
	}
	if len(ret.Tools) > 0 {
		ret.ToolChoice = "auto"
	}
	return ret, nil
}

func convertToGenericTool(t pub_models.ToolDescriptor) Tool {
	params := t.InputSchema
	if len(params) == 0 || string(params) == "null" {
		params = emptyObjectSchema
	}
	return Tool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

func toChatMessage(m pub_models.Message) chatMessage {
	switch m.Role {
	case pub_models.RoleTool:
		// Tool output is always a plain string on this wire
		return chatMessage{
			Role:       string(m.Role),
			Content:    m.Text(),
			ToolCallID: m.ToolCallID,
		}
	case pub_models.RoleAssistant:
		ret := chatMessage{Role: string(m.Role)}
		called := make(map[string]struct{}, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			called[tc.ID] = struct{}{}
			args := strings.TrimSpace(string(tc.Arguments))
			if args == "" || args == "null" {
				args = "{}"
			}
			ret.ToolCalls = append(ret.ToolCalls, ToolsCall{
				ID:   tc.ID,
				Type: "function",
				Function: Func{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		parts := make([]string, 0, len(m.Content))
		for _, b := range m.Content {
			if tu, ok := b.(pub_models.ToolUse); ok {
				if _, isCall := called[tu.ID]; isCall {
					continue
				}
			}
			if txt := pub_models.RenderText(b); txt != "" {
				parts = append(parts, txt)
			}
		}
		content := strings.Join(parts, "\n")
		if content == "" && len(ret.ToolCalls) > 0 {
			ret.Content = nil
		} else {
			ret.Content = content
		}
		return ret
	default:
		return chatMessage{
			Role:    string(m.Role),
			Content: userContent(m),
		}
	}
}

// userContent keeps plain text messages as strings and only switches to the
// parts array when there's an image in the message.
func userContent(m pub_models.Message) any {
	hasImage := false
	for _, b := range m.Content {
		if _, ok := b.(pub_models.ImageRef); ok {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return m.Text()
	}
	parts := make([]contentPart, 0, len(m.Content))
	for _, b := range m.Content {
		switch v := b.(type) {
		case pub_models.ImageRef:
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: v.URL, Detail: v.Detail},
			})
		default:
			if txt := pub_models.RenderText(v); txt != "" {
				parts = append(parts, contentPart{Type: "text", Text: txt})
			}
		}
	}
	return parts
}

func fromCompletion(cc chatCompletion) (pub_models.CompletionResponse, error) {
	ret := pub_models.CompletionResponse{
		ID:      cc.ID,
		Model:   cc.Model,
		Created: cc.Created,
		Choices: make([]pub_models.Choice, 0, len(cc.Choices)),
	}
	seen := make(map[string]struct{})
	for _, c := range cc.Choices {
		msgs, err := fromResponseMessage(c.Message, seen)
		if err != nil {
			return pub_models.CompletionResponse{}, fmt.Errorf("choice %v: %w", c.Index, err)
		}
		ret.Choices = append(ret.Choices, pub_models.Choice{
			Index:        c.Index,
			Messages:     msgs,
			FinishReason: c.FinishReason,
		})
	}
	return ret, nil
}

// fromResponseMessage splits one wire message into reasoning and answer
// segments. Tool call ids which are missing or already used in this response
// are replaced, since the tool results are matched on them.
func fromResponseMessage(rm responseMessage, seen map[string]struct{}) ([]pub_models.Message, error) {
	var ret []pub_models.Message
	if r := strings.TrimSpace(rm.ReasoningContent); r != "" {
		ret = append(ret, pub_models.AssistantMessage(r))
	}
	text, err := decodeContent(rm.Content)
	if err != nil {
		return nil, err
	}
	answer := pub_models.Message{Role: pub_models.RoleAssistant}
	if text != "" {
		answer.Content = append(answer.Content, pub_models.Text{Text: text})
	}
	for _, tc := range rm.ToolCalls {
		id := tc.ID
		if _, dup := seen[id]; id == "" || dup {
			id = uuid.NewString()
		}
		seen[id] = struct{}{}
		args := json.RawMessage(strings.TrimSpace(tc.Function.Arguments))
		if len(args) == 0 {
			args = json.RawMessage("{}")
		} else if !json.Valid(args) {
			// Keep malformed arguments as a string so the tool call
			// fails with a decode error instead of the whole reply
			quoted, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("failed to quote tool arguments: %w", err)
			}
			args = quoted
		}
		call := pub_models.ToolCallRequest{ID: id, Name: tc.Function.Name, Arguments: args}
		answer.ToolCalls = append(answer.ToolCalls, call)
		answer.Content = append(answer.Content, pub_models.ToolUse{ID: id, Name: call.Name, Input: args})
	}
	if len(answer.Content) > 0 || len(ret) == 0 {
		ret = append(ret, answer)
	}
	return ret, nil
}

func decodeContent(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", errors.New("content is neither string nor array of parts")
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}
