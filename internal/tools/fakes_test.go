package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	pub_models "github.com/milarze/ergon/pkg/chat/models"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	tools   []*mcpsdk.Tool
	listErr error
	call    func(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error)

	mu     sync.Mutex
	calls  []string
	closed atomic.Int32
}

func (f *fakeConn) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.call == nil {
		return textResult(name), nil
	}
	return f.call(ctx, name, args)
}

func (f *fakeConn) Close() error {
	f.closed.Add(1)
	return nil
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func tool(name string) *mcpsdk.Tool {
	return &mcpsdk.Tool{Name: name, InputSchema: map[string]any{"type": "object"}}
}

// fakeConnector hands out the connection registered for a server id, or an
// error for ids without one.
type fakeConnector struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	dials map[string]int
}

func newFakeConnector(conns map[string]*fakeConn) *fakeConnector {
	return &fakeConnector{conns: conns, dials: make(map[string]int)}
}

func (f *fakeConnector) connect(ctx context.Context, srv pub_models.McpServer) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials[srv.ID]++
	c, ok := f.conns[srv.ID]
	if !ok {
		return nil, fmt.Errorf("dial %v: %w", srv.ID, errConnRefused)
	}
	return c, nil
}

var errConnRefused = errors.New("connection refused")

func servers(ids ...string) []pub_models.McpServer {
	ret := make([]pub_models.McpServer, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, pub_models.McpServer{ID: id, Command: id})
	}
	return ret
}
