package anthropic

import (
	"encoding/json"
	"strings"

	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

var emptyInput = json.RawMessage("{}")

// claudifyMessages converts from the neutral chat format into the message
// block format claude expects. System messages are lifted out into the
// returned system prompt, tool results become tool_result blocks in user
// messages and consecutive messages of the same role are merged.
func claudifyMessages(msgs []pub_models.Message) (string, []ClaudeConvMessage) {
	var system []string
	claudeMsgs := make([]ClaudeConvMessage, 0, len(msgs))
	for _, msg := range msgs {
		var cm ClaudeConvMessage
		switch msg.Role {
		case pub_models.RoleSystem:
			if txt := msg.Text(); txt != "" {
				system = append(system, txt)
			}
			continue
		case pub_models.RoleTool:
			cm = ClaudeConvMessage{Role: "user", Content: toolResultBlocks(msg)}
		case pub_models.RoleAssistant:
			cm = ClaudeConvMessage{Role: "assistant", Content: assistantBlocks(msg)}
		default:
			cm = ClaudeConvMessage{Role: "user", Content: userBlocks(msg)}
		}
		// Claude rejects messages without content
		if len(cm.Content) == 0 {
			continue
		}
		claudeMsgs = append(claudeMsgs, cm)
	}

	// Merge consecutive messages of same role into the first one
	for i := 1; i < len(claudeMsgs); {
		if claudeMsgs[i].Role == claudeMsgs[i-1].Role {
			claudeMsgs[i-1].Content = append(claudeMsgs[i-1].Content, claudeMsgs[i].Content...)
			claudeMsgs = append(claudeMsgs[:i], claudeMsgs[i+1:]...)
		} else {
			i++
		}
	}
	return strings.Join(system, "\n\n"), claudeMsgs
}

func toolResultBlocks(msg pub_models.Message) []any {
	results := msg.ToolResults()
	if len(results) == 0 {
		return []any{ToolResultContentBlock{
			Type:      "tool_result",
			ToolUseID: msg.ToolCallID,
			Content:   msg.Text(),
		}}
	}
	ret := make([]any, 0, len(results))
	for _, tr := range results {
		id := tr.CallID
		if id == "" {
			id = msg.ToolCallID
		}
		ret = append(ret, ToolResultContentBlock{
			Type:      "tool_result",
			ToolUseID: id,
			Content:   tr.Content,
			IsError:   tr.IsError,
		})
	}
	return ret
}

func assistantBlocks(msg pub_models.Message) []any {
	called := make(map[string]struct{}, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		called[tc.ID] = struct{}{}
	}
	ret := make([]any, 0, len(msg.Content)+len(msg.ToolCalls))
	for _, b := range msg.Content {
		if tu, ok := b.(pub_models.ToolUse); ok {
			if _, isCall := called[tu.ID]; isCall {
				continue
			}
		}
		if txt := pub_models.RenderText(b); txt != "" {
			ret = append(ret, TextContentBlock{Type: "text", Text: txt})
		}
	}
	for _, tc := range msg.ToolCalls {
		input := tc.Arguments
		if len(input) == 0 || string(input) == "null" {
			input = emptyInput
		}
		ret = append(ret, ToolUseContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: input,
		})
	}
	return ret
}

func userBlocks(msg pub_models.Message) []any {
	ret := make([]any, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch v := b.(type) {
		case pub_models.ImageRef:
			ret = append(ret, ImageContentBlock{
				Type:   "image",
				Source: imageSource{Type: "url", URL: v.URL},
			})
		default:
			if txt := pub_models.RenderText(v); txt != "" {
				ret = append(ret, TextContentBlock{Type: "text", Text: txt})
			}
		}
	}
	return ret
}

func toClaudeTools(tools []pub_models.ToolDescriptor) []claudeTool {
	if len(tools) == 0 {
		return nil
	}
	ret := make([]claudeTool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if len(schema) == 0 || string(schema) == "null" {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		ret = append(ret, claudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return ret
}
