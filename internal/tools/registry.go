package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// DefaultConnectTimeout bounds connecting to and listing one server.
const DefaultConnectTimeout = 30 * time.Second

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

type toolRef struct {
	conn  *ServerConnection
	local string
}

// catalog is one immutable snapshot of the registry. Connections and tools
// are only ever published together.
type catalog struct {
	conns map[string]*ServerConnection
	tools []pub_models.ToolDescriptor
	index map[string]toolRef
}

var emptyCatalog = &catalog{
	conns: map[string]*ServerConnection{},
	index: map[string]toolRef{},
}

// Registry discovers the tools of every configured tool server and
// publishes them under '<server-id>__<local-name>'.
type Registry struct {
	connect Connector
	// mu serializes loads, readers only touch state
	mu      sync.Mutex
	servers []pub_models.McpServer
	state   atomic.Pointer[catalog]
	debug   bool
}

// NewRegistry returns an empty registry. Nothing is connected until
// LoadTools is called. A nil connect uses Dial.
func NewRegistry(connect Connector, servers ...pub_models.McpServer) *Registry {
	if connect == nil {
		connect = Dial
	}
	r := &Registry{
		connect: connect,
		servers: servers,
		debug:   misc.Truthy(os.Getenv("DEBUG")) || misc.Truthy(os.Getenv("DEBUG_CALL")),
	}
	r.state.Store(emptyCatalog)
	return r
}

// LoadTools connects to every configured server concurrently and installs
// the result as the new catalog. A server which fails contributes no tools,
// the failure is logged.
func (r *Registry) LoadTools(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx, r.servers)
}

// Reload replaces the server definitions and loads them.
func (r *Registry) Reload(ctx context.Context, servers []pub_models.McpServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = servers
	r.load(ctx, servers)
}

// Tools returns the published tool catalog.
func (r *Registry) Tools() []pub_models.ToolDescriptor {
	return append([]pub_models.ToolDescriptor(nil), r.state.Load().tools...)
}

// Servers returns the amount of published tools per connected server.
func (r *Registry) Servers() map[string]int {
	snap := r.state.Load()
	ret := make(map[string]int, len(snap.conns))
	for id := range snap.conns {
		ret[id] = 0
	}
	for _, ref := range snap.index {
		ret[ref.conn.ID]++
	}
	return ret
}

// Resolve returns the connection owning the namespaced tool name and the
// server local name of the tool.
func (r *Registry) Resolve(name string) (*ServerConnection, string, error) {
	if _, _, ok := pub_models.SplitNamespacedName(name); !ok {
		return nil, "", fmt.Errorf("%w: malformed tool name '%v'", ErrNotFound, name)
	}
	ref, ok := r.state.Load().index[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: '%v'", ErrNotFound, name)
	}
	return ref.conn, ref.local, nil
}

// Close unpublishes every tool and closes all connections once their
// running calls are done.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.state.Swap(emptyCatalog)
	for _, sc := range old.conns {
		sc.retire()
	}
}

type loaded struct {
	srv   pub_models.McpServer
	conn  Connection
	tools []*mcpsdk.Tool
}

func (r *Registry) load(ctx context.Context, servers []pub_models.McpServer) {
	accepted := acceptServers(servers)
	results := make([]*loaded, len(accepted))
	var g errgroup.Group
	for i, srv := range accepted {
		g.Go(func() error {
			l, err := r.loadServer(ctx, srv)
			if err != nil {
				ancli.Warnf("skipping tool server '%v': %v\n", srv.ID, err)
				return nil
			}
			results[i] = l
			return nil
		})
	}
	g.Wait()

	next := &catalog{
		conns: make(map[string]*ServerConnection),
		index: make(map[string]toolRef),
	}
	for _, l := range results {
		if l == nil {
			continue
		}
		sc := newServerConnection(l.srv.ID, l.conn, l.srv.MaxInFlight)
		next.conns[sc.ID] = sc
		for _, tool := range l.tools {
			if tool == nil || tool.Name == "" {
				ancli.Warnf("server '%v' advertised a tool without name, skipping it\n", sc.ID)
				continue
			}
			name := pub_models.NamespacedName(sc.ID, tool.Name)
			if _, exists := next.index[name]; exists {
				ancli.Warnf("server '%v' advertised tool '%v' twice, keeping the first\n", sc.ID, tool.Name)
				continue
			}
			next.index[name] = toolRef{conn: sc, local: tool.Name}
			next.tools = append(next.tools, pub_models.ToolDescriptor{
				Name:        name,
				Description: tool.Description,
				InputSchema: inputSchema(tool),
			})
		}
		if r.debug {
			ancli.Okf("loaded tool server '%v'\n", sc.ID)
		}
	}

	old := r.state.Swap(next)
	for _, sc := range old.conns {
		sc.retire()
	}
}

func (r *Registry) loadServer(ctx context.Context, srv pub_models.McpServer) (*loaded, error) {
	timeout := DefaultConnectTimeout
	if srv.ConnectTimeoutSeconds > 0 {
		timeout = time.Duration(srv.ConnectTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := r.connect(ctx, srv)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return &loaded{srv: srv, conn: conn, tools: tools}, nil
}

// acceptServers drops definitions whose id cannot be namespaced
// unambiguously. The first of several servers sharing an id wins.
func acceptServers(servers []pub_models.McpServer) []pub_models.McpServer {
	seen := make(map[string]bool, len(servers))
	ret := make([]pub_models.McpServer, 0, len(servers))
	for _, srv := range servers {
		switch {
		case srv.ID == "":
			ancli.Warnf("skipping tool server without id\n")
			continue
		case !pub_models.ValidServerID(srv.ID):
			ancli.Warnf("skipping tool server '%v': id may not contain '%v' or end with '_'\n", srv.ID, pub_models.NamespaceSeparator)
			continue
		case seen[srv.ID]:
			ancli.Warnf("skipping tool server '%v': duplicate id\n", srv.ID)
			continue
		}
		seen[srv.ID] = true
		ret = append(ret, srv)
	}
	return ret
}

func inputSchema(tool *mcpsdk.Tool) json.RawMessage {
	if tool.InputSchema == nil {
		return emptyObjectSchema
	}
	b, err := json.Marshal(tool.InputSchema)
	if err != nil || string(b) == "null" {
		return emptyObjectSchema
	}
	return b
}
