package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// encodeResult renders the content of a tool result as text. Binary content
// is described rather than inlined.
func encodeResult(res *mcpsdk.CallToolResult) (string, error) {
	if res == nil {
		return "", nil
	}
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		s, err := encodeContent(c)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("failed to marshal structured content: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(parts, "\n"), nil
}

func encodeContent(c mcpsdk.Content) (string, error) {
	switch v := c.(type) {
	case *mcpsdk.TextContent:
		return v.Text, nil
	case *mcpsdk.ImageContent:
		return fmt.Sprintf("[image: %v, %v bytes]", v.MIMEType, len(v.Data)), nil
	case *mcpsdk.AudioContent:
		return fmt.Sprintf("[audio: %v, %v bytes]", v.MIMEType, len(v.Data)), nil
	case *mcpsdk.ResourceLink:
		if v.Name != "" {
			return fmt.Sprintf("[resource: %v (%v)]", v.URI, v.Name), nil
		}
		return fmt.Sprintf("[resource: %v]", v.URI), nil
	case *mcpsdk.EmbeddedResource:
		if v.Resource == nil {
			return "", nil
		}
		if v.Resource.Text != "" {
			return v.Resource.Text, nil
		}
		return fmt.Sprintf("[resource: %v, %v, %v bytes]", v.Resource.URI, v.Resource.MIMEType, len(v.Resource.Blob)), nil
	case nil:
		return "", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal content of type %T: %w", v, err)
		}
		return string(b), nil
	}
}
