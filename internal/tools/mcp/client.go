package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const clientName = "ergon"

// Version is reported to the servers during the handshake.
var Version = "dev"

// Session is one live connection to a tool server.
type Session struct {
	id    string
	cs    *mcpsdk.ClientSession
	debug bool
}

// Connect starts or dials the server described by srv and performs the
// handshake. ctx bounds the handshake only, the session stays open until
// Close.
func Connect(ctx context.Context, srv pub_models.McpServer) (*Session, error) {
	t, err := buildTransport(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to build transport for '%v': %w", srv.ID, err)
	}
	return NewSession(ctx, srv.ID, t)
}

// NewSession performs the handshake over an already constructed transport.
func NewSession(ctx context.Context, id string, t mcpsdk.Transport) (*Session, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: Version}, nil)
	cs, err := client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to '%v': %w", id, err)
	}
	return &Session{
		id:    id,
		cs:    cs,
		debug: misc.Truthy(os.Getenv("DEBUG")) || misc.Truthy(os.Getenv("DEBUG_CALL")),
	}, nil
}

// ListTools pages through the complete tool catalog of the server.
func (s *Session) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	var ret []*mcpsdk.Tool
	for tool, err := range s.cs.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("failed to list tools of '%v': %w", s.id, err)
		}
		ret = append(ret, tool)
	}
	return ret, nil
}

func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	if s.debug {
		ancli.Noticef("mcp_%v call: %v, args: %v\n", s.id, name, debug.IndentedJsonFmt(args))
	}
	res, err := s.cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if s.debug {
		ancli.Noticef("mcp_%v result: %v\n", s.id, debug.IndentedJsonFmt(res))
	}
	return res, nil
}

func (s *Session) Close() error {
	return s.cs.Close()
}
