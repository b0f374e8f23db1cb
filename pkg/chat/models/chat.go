package models

import (
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a transcript. Messages are treated as immutable
// once appended, use Clone when a copy which may be modified is needed.
type Message struct {
	Role       Role              `json:"role"`
	Content    []ContentBlock    `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentBlock{Text{Text: text}}}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{Text{Text: text}}}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{Text{Text: text}}}
}

// ToolResultMessage answers the tool call with id callID.
func ToolResultMessage(callID, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentBlock{ToolResult{CallID: callID, Content: content, IsError: isError}},
		ToolCallID: callID,
	}
}

// Text renders every content block of the message and joins them with
// newlines. Blocks which render to nothing are skipped.
func (m Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, b := range m.Content {
		if s := RenderText(b); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolResults returns every ToolResult block of the message.
func (m Message) ToolResults() []ToolResult {
	var ret []ToolResult
	for _, b := range m.Content {
		if tr, ok := b.(ToolResult); ok {
			ret = append(ret, tr)
		}
	}
	return ret
}

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	case RoleTool:
		if m.ToolCallID == "" {
			return errors.New("tool message is missing tool_call_id")
		}
	default:
		return fmt.Errorf("unknown role: '%v'", m.Role)
	}
	if m.Role != RoleAssistant && len(m.ToolCalls) > 0 {
		return fmt.Errorf("role '%v' may not carry tool calls", m.Role)
	}
	return nil
}

func (m Message) Clone() Message {
	cpy := m
	cpy.Content = append([]ContentBlock(nil), m.Content...)
	cpy.ToolCalls = append([]ToolCallRequest(nil), m.ToolCalls...)
	return cpy
}
