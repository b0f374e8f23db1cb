package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/milarze/ergon/internal/tools/builtin"
	"github.com/milarze/ergon/internal/tools/mcp"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/semaphore"
)

// Connection is a live session to one tool server.
type Connection interface {
	ListTools(ctx context.Context) ([]*mcpsdk.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error)
	Close() error
}

// Connector opens a connection to a server definition.
type Connector func(ctx context.Context, srv pub_models.McpServer) (Connection, error)

// Dial is the default Connector.
func Dial(ctx context.Context, srv pub_models.McpServer) (Connection, error) {
	if srv.Transport() == pub_models.TransportInProcess {
		c, err := builtin.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	s, err := mcp.Connect(ctx, srv)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var errRetired = errors.New("connection has been replaced by a reload")

// ServerConnection is the registry's handle on one connected server. Calls
// are bounded by MaxInFlight of the server definition, which lets transports
// that only handle one call at a time be serialized without blocking other
// servers.
type ServerConnection struct {
	ID   string
	conn Connection
	sem  *semaphore.Weighted

	mu       sync.Mutex
	inflight int
	retired  bool
	closed   bool
}

func newServerConnection(id string, conn Connection, maxInFlight int) *ServerConnection {
	sc := &ServerConnection{ID: id, conn: conn}
	if maxInFlight > 0 {
		sc.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return sc
}

// Call invokes the server local tool name.
func (sc *ServerConnection) Call(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	if err := sc.acquire(ctx); err != nil {
		return nil, err
	}
	defer sc.release()
	return sc.conn.CallTool(ctx, name, args)
}

func (sc *ServerConnection) acquire(ctx context.Context) error {
	sc.mu.Lock()
	if sc.retired {
		sc.mu.Unlock()
		return fmt.Errorf("failed to call '%v': %w", sc.ID, errRetired)
	}
	sc.inflight++
	sc.mu.Unlock()

	if sc.sem == nil {
		return nil
	}
	if err := sc.sem.Acquire(ctx, 1); err != nil {
		sc.done()
		return fmt.Errorf("failed waiting for a free slot on '%v': %w", sc.ID, err)
	}
	return nil
}

func (sc *ServerConnection) release() {
	if sc.sem != nil {
		sc.sem.Release(1)
	}
	sc.done()
}

func (sc *ServerConnection) done() {
	sc.mu.Lock()
	sc.inflight--
	closeNow := sc.retired && sc.inflight == 0 && !sc.closed
	if closeNow {
		sc.closed = true
	}
	sc.mu.Unlock()
	if closeNow {
		sc.conn.Close()
	}
}

// retire stops new calls and closes the connection once the calls already
// running have finished.
func (sc *ServerConnection) retire() {
	sc.mu.Lock()
	sc.retired = true
	closeNow := sc.inflight == 0 && !sc.closed
	if closeNow {
		sc.closed = true
	}
	sc.mu.Unlock()
	if closeNow {
		sc.conn.Close()
	}
}
