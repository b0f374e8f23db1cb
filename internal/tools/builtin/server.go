// Package builtin is the in-process tool server. It speaks the same protocol
// as external tool servers over an in-memory transport, so the registry and
// dispatcher treat it like any other server.
package builtin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/milarze/ergon/internal/tools/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerID is the id the built-in tools are namespaced under.
const ServerID = "builtin"

const fetchTimeout = 10 * time.Second

type Server struct {
	client *http.Client
	now    func() time.Time
	srv    *mcpsdk.Server
}

// New returns a server whose web tools use client. A nil client gets a
// default one with a short timeout.
func New(client *http.Client) *Server {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	s := &Server{
		client: client,
		now:    time.Now,
		srv:    mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerID, Version: mcp.Version}, nil),
	}
	s.srv.AddTool(websiteTextTool, s.websiteText)
	s.srv.AddTool(dateTool, s.date)
	return s
}

// Conn is a client session to an in-process server. Closing it also closes
// the server side.
type Conn struct {
	*mcp.Session
	ss *mcpsdk.ServerSession
}

func (c *Conn) Close() error {
	err := c.Session.Close()
	// The server side usually sees the client hang up first
	_ = c.ss.Close()
	return err
}

// Connect starts a server session and connects a client session to it.
func (s *Server) Connect(ctx context.Context) (*Conn, error) {
	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ss, err := s.srv.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start builtin server: %w", err)
	}
	cs, err := mcp.NewSession(ctx, ServerID, clientTransport)
	if err != nil {
		ss.Close()
		return nil, err
	}
	return &Conn{Session: cs, ss: ss}, nil
}

// Connect is a shorthand for New(nil).Connect.
func Connect(ctx context.Context) (*Conn, error) {
	return New(nil).Connect(ctx)
}

func success(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func failure(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}
