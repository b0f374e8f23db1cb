package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 60 * time.Second

// Some providers reject tool results without content
const emptyResponse = "<EMPTY-RESPONSE>"

// Resolver finds the connection owning a namespaced tool name.
type Resolver interface {
	Resolve(name string) (*ServerConnection, string, error)
}

type Dispatcher struct {
	resolver    Resolver
	timeout     time.Duration
	outputLimit int
	debug       bool
}

// NewDispatcher returns a dispatcher which gives every call at most timeout
// to complete and limits tool output to outputLimit runes. Zero values use
// DefaultCallTimeout and no limit respectively.
func NewDispatcher(resolver Resolver, timeout time.Duration, outputLimit int) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Dispatcher{
		resolver:    resolver,
		timeout:     timeout,
		outputLimit: outputLimit,
		debug:       misc.Truthy(os.Getenv("DEBUG_CALL")),
	}
}

// Invoke runs one tool call. Every failure is returned as a *CallError
// carrying the id of the call, the result is only valid when err is nil.
func (d *Dispatcher) Invoke(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
	if d.debug {
		ancli.Noticef("Invoke call: %v", debug.IndentedJsonFmt(call))
	}
	fail := func(err error) (pub_models.ToolCallResult, error) {
		return pub_models.ToolCallResult{}, &CallError{CallID: call.ID, Err: err}
	}

	conn, local, err := d.resolver.Resolve(call.Name)
	if err != nil {
		return fail(err)
	}
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := conn.Call(ctx, local, args)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(fmt.Errorf("tool call '%v' timed out after %v: %w", call.Name, d.timeout, err))
		}
		return fail(fmt.Errorf("failed to call '%v': %w", call.Name, err))
	}

	out, err := encodeResult(res)
	if err != nil {
		return fail(fmt.Errorf("failed to encode result of '%v': %w", call.Name, err))
	}
	out = limitToolOutput(out, d.outputLimit)
	if res.IsError {
		return fail(&ExecutionError{Tool: call.Name, Message: out})
	}
	if out == "" {
		out = emptyResponse
	}
	return pub_models.ToolCallResult{
		ID:       call.ID,
		Success:  true,
		Contents: []pub_models.ContentBlock{pub_models.ToolResult{CallID: call.ID, Content: out}},
	}, nil
}

// decodeArguments turns the raw arguments into the object tool servers
// expect. Missing arguments are treated as an empty object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("failed to decode arguments, expected a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func limitToolOutput(out string, limit int) string {
	if limit <= 0 {
		return out
	}
	amRunes := utf8.RuneCountInString(out)
	if amRunes <= limit {
		return out
	}
	runes := []rune(out)
	return fmt.Sprintf(
		"%v... and %v more characters. The tool's output has been restricted as it's too long. Please concentrate your tool calls to reduce the amount of tokens used!",
		string(runes[:limit]), amRunes-limit)
}
