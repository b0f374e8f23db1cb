package models

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is a closed union. The only implementations are Text,
// ImageRef, ToolUse and ToolResult.
type ContentBlock interface {
	contentBlock()
}

type Text struct {
	Text string `json:"text"`
}

type ImageRef struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

func (Text) contentBlock()       {}
func (ImageRef) contentBlock()   {}
func (ToolUse) contentBlock()    {}
func (ToolResult) contentBlock() {}

// RenderText is the textual projection of a content block. It is total:
// every variant renders to something, so nothing is lost when a transcript
// is shown as text.
func RenderText(b ContentBlock) string {
	switch v := b.(type) {
	case Text:
		return v.Text
	case ImageRef:
		if v.Detail != "" {
			return fmt.Sprintf("[image: %v (detail: %v)]", v.URL, v.Detail)
		}
		return fmt.Sprintf("[image: %v]", v.URL)
	case ToolUse:
		input := string(v.Input)
		if input == "" {
			input = "{}"
		}
		return fmt.Sprintf("Call: '%v', inputs: %v", v.Name, input)
	case ToolResult:
		if v.IsError {
			return "ERROR: " + v.Content
		}
		return v.Content
	case nil:
		return ""
	default:
		// Unreachable as long as the union stays closed
		return fmt.Sprintf("%v", v)
	}
}
