package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NamespaceSeparator joins a server id and a server local tool name.
const NamespaceSeparator = "__"

// NamespacedName returns '<serverID>__<localName>'.
func NamespacedName(serverID, localName string) string {
	return serverID + NamespaceSeparator + localName
}

// ValidServerID reports whether tool names of the server split back into the
// server id and the local name. An id may neither contain the separator nor
// end with '_', since 'a_' + '__x' is the same name as 'a' + '___x'.
func ValidServerID(id string) bool {
	return id != "" && !strings.Contains(id, NamespaceSeparator) && !strings.HasSuffix(id, "_")
}

// SplitNamespacedName splits on the first occurrence of the separator. ok is
// false if the name does not have the form '<server-id>__<local-name>' with
// both parts non-empty.
func SplitNamespacedName(name string) (serverID, localName string, ok bool) {
	serverID, localName, found := strings.Cut(name, NamespaceSeparator)
	if !found || serverID == "" || localName == "" {
		return "", "", false
	}
	return serverID, localName, true
}

// ToolCallRequest is a tool invocation requested by the model. Name is
// always namespaced, Arguments is the raw structured payload as sent by the
// provider.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// PrettyPrint the call, showing name and arguments in a concise way
func (c ToolCallRequest) PrettyPrint() string {
	args := strings.TrimSpace(string(c.Arguments))
	if args == "" || args == "null" {
		args = "{}"
	}
	return fmt.Sprintf("Call: '%s', inputs: %s", c.Name, args)
}

type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolCallResult is the outcome of one dispatched call.
type ToolCallResult struct {
	ID       string         `json:"id"`
	Success  bool           `json:"success"`
	Contents []ContentBlock `json:"contents"`
}

// McpServer describes one external tool server. A server with an URL is
// reached over streamable HTTP, otherwise Command is spawned and spoken to
// over stdio.
type McpServer struct {
	ID      string            `json:"id" toml:"id" yaml:"id"`
	Command string            `json:"command,omitempty" toml:"command" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" toml:"args" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" toml:"env" yaml:"env,omitempty"`
	EnvFile string            `json:"env_file,omitempty" toml:"env_file" yaml:"env_file,omitempty"`
	URL     string            `json:"url,omitempty" toml:"url" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers" yaml:"headers,omitempty"`
	// MaxInFlight limits concurrent calls on the connection. 0 means
	// unlimited, 1 serializes all calls.
	MaxInFlight           int `json:"max_in_flight,omitempty" toml:"max_in_flight" yaml:"max_in_flight,omitempty"`
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds,omitempty" toml:"connect_timeout_seconds" yaml:"connect_timeout_seconds,omitempty"`
	// Builtin selects the in-process tool server instead of a transport.
	Builtin bool `json:"-" toml:"-" yaml:"-"`
}

type TransportKind string

const (
	TransportStdio     TransportKind = "stdio"
	TransportHTTP      TransportKind = "http"
	TransportInProcess TransportKind = "inprocess"
)

func (s McpServer) Transport() TransportKind {
	switch {
	case s.Builtin:
		return TransportInProcess
	case s.URL != "":
		return TransportHTTP
	default:
		return TransportStdio
	}
}
