package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var dateTool = &mcpsdk.Tool{
	Name:        "date",
	Description: "Get the current date and time. Defaults to RFC3339 in local time.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"format": map[string]any{
				"type":        "string",
				"description": "Optional Go reference layout, for example '2006-01-02 15:04:05'.",
			},
			"utc": map[string]any{
				"type":        "boolean",
				"description": "If true, returns time in UTC.",
			},
			"unix": map[string]any{
				"type":        "boolean",
				"description": "If true, returns the current Unix timestamp in seconds. Overrides 'format'.",
			},
		},
	},
}

type dateInput struct {
	Format string `json:"format"`
	UTC    bool   `json:"utc"`
	Unix   bool   `json:"unix"`
}

func (s *Server) date(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var in dateInput
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return failure(fmt.Errorf("failed to decode arguments: %w", err)), nil
		}
	}
	return success(formatDate(s.now(), in)), nil
}

func formatDate(now time.Time, in dateInput) string {
	if in.UTC {
		now = now.UTC()
	}
	switch {
	case in.Unix:
		return strconv.FormatInt(now.Unix(), 10)
	case in.Format != "":
		return now.Format(in.Format)
	default:
		return now.Format(time.RFC3339)
	}
}
