package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func buildTransport(srv pub_models.McpServer) (mcpsdk.Transport, error) {
	switch srv.Transport() {
	case pub_models.TransportHTTP:
		endpoint, err := normalizeHTTPURL(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		return &mcpsdk.StreamableClientTransport{
			Endpoint: endpoint,
			HTTPClient: &http.Client{
				Transport: &headerTransport{headers: srv.Headers, base: http.DefaultTransport},
			},
		}, nil
	case pub_models.TransportStdio:
		if strings.TrimSpace(srv.Command) == "" {
			return nil, errors.New("command is empty")
		}
		env, err := commandEnv(srv)
		if err != nil {
			return nil, err
		}
		// Not CommandContext: the process has to outlive the handshake context
		cmd := exec.Command(srv.Command, srv.Args...)
		cmd.Env = env
		if misc.Truthy(os.Getenv("DEBUG")) {
			cmd.Stderr = os.Stderr
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	default:
		return nil, fmt.Errorf("unsupported transport: '%v'", srv.Transport())
	}
}

func normalizeHTTPURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}

// headerTransport adds the configured headers, such as Authorization, to
// every request towards a remote server.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(h.headers) == 0 {
		return h.base.RoundTrip(req)
	}
	cpy := req.Clone(req.Context())
	for k, v := range h.headers {
		cpy.Header.Set(k, v)
	}
	return h.base.RoundTrip(cpy)
}
