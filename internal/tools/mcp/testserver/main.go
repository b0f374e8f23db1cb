// Command testserver is a minimal stdio tool server used by the mcp client
// tests. It serves add and env, the latter echoes TESTSERVER_VALUE.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "calc", Version: "test"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "add",
		Description: "add two numbers",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"a", "b"},
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var in struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("%v", in.A+in.B)}},
		}, nil
	})
	server.AddTool(&mcpsdk.Tool{
		Name:        "env",
		Description: "print the TESTSERVER_VALUE environment variable",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: os.Getenv("TESTSERVER_VALUE")}},
		}, nil
	})

	if err := server.Run(context.Background(), &mcpsdk.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "testserver: %v\n", err)
		os.Exit(1)
	}
}
