// Package chat holds the conversation orchestrator: the state machine which
// sends the transcript to a model, runs the tool calls the model asks for
// and resumes the conversation once every call of the round has answered.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/google/uuid"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxParallel   = 4
	DefaultMaxToolRounds = 25
)

// ErrBusy is returned when input is submitted, or the conversation reset,
// while a turn is still running. Input is never queued.
var ErrBusy = errors.New("conversation is awaiting a response")

// Completer is the part of the router the orchestrator uses.
type Completer interface {
	CompleteByModel(ctx context.Context, model string, req pub_models.CompletionRequest) (pub_models.CompletionResponse, error)
}

// ToolCatalog publishes the tools offered to the model.
type ToolCatalog interface {
	Tools() []pub_models.ToolDescriptor
}

// Invoker runs one tool call.
type Invoker interface {
	Invoke(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error)
}

type Options struct {
	Model        string
	SystemPrompt string
	Temperature  *float64
	// MaxParallel bounds the amount of tool calls running at once
	MaxParallel int
	// MaxToolRounds bounds the amount of tool rounds within one turn
	MaxToolRounds int
	// Notify receives every state change and appended message. Calls are
	// serialized but may come from any goroutine.
	Notify func(Event)
}

type Orchestrator struct {
	completer Completer
	tools     ToolCatalog
	invoker   Invoker
	opts      Options
	debug     bool

	notifyMu sync.Mutex

	mu sync.Mutex
	// events are queued under mu in transcript order and delivered by flush
	events     []Event
	id         string
	model      string
	state      State
	transcript []pub_models.Message
	turnDone   chan struct{}
	// pending counts unanswered tool calls of the running round by call id
	pending  map[string]int
	resolved chan struct{}
}

func New(completer Completer, tools ToolCatalog, invoker Invoker, opts Options) *Orchestrator {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	o := &Orchestrator{
		completer: completer,
		tools:     tools,
		invoker:   invoker,
		opts:      opts,
		model:     opts.Model,
		debug:     misc.Truthy(os.Getenv("DEBUG")) || misc.Truthy(os.Getenv("DEBUG_ORCHESTRATOR")),
	}
	o.resetLocked()
	return o
}

// Submit appends the text as a user message and starts a turn. Empty input
// is ignored. The turn runs in the background, use Wait or the
// notifications to follow it.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return ErrBusy
	}
	msg := pub_models.UserMessage(text)
	o.transcript = append(o.transcript, msg)
	o.state = AwaitingCompletion
	done := make(chan struct{})
	o.turnDone = done
	o.enqueueLocked(Event{Kind: EventMessage, Message: msg}, Event{Kind: EventState, State: AwaitingCompletion})
	o.mu.Unlock()

	o.flush()
	go o.runTurn(ctx, done)
	return nil
}

// Wait blocks until the running turn, if any, is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.turnDone
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, done chan struct{}) {
	defer func() {
		o.setState(Idle)
		close(done)
	}()

	for round := 0; ; round++ {
		calls, ok := o.complete(ctx)
		if !ok || len(calls) == 0 {
			return
		}
		if round >= o.opts.MaxToolRounds {
			o.refuseCalls(calls)
			return
		}
		o.runTools(ctx, calls)
		o.setState(AwaitingCompletion)
	}
}

// complete issues one completion request with the current transcript and
// appends the reply. ok is false if the turn has to end.
func (o *Orchestrator) complete(ctx context.Context) ([]pub_models.ToolCallRequest, bool) {
	o.mu.Lock()
	model := o.model
	req := pub_models.CompletionRequest{
		Model:       model,
		Messages:    append([]pub_models.Message(nil), o.transcript...),
		Temperature: o.opts.Temperature,
	}
	o.mu.Unlock()
	if o.tools != nil {
		req.Tools = o.tools.Tools()
	}
	if o.debug {
		ancli.Noticef("completion request: %v", debug.IndentedJsonFmt(req))
	}

	resp, err := o.completer.CompleteByModel(ctx, model, req)
	if err != nil {
		o.appendMessages(pub_models.AssistantMessage(describeError(err)))
		return nil, false
	}
	if len(resp.Choices) == 0 {
		o.appendMessages(pub_models.AssistantMessage(noResponse))
		return nil, false
	}
	choice := resp.Choices[0]
	if len(choice.Messages) == 0 {
		o.appendMessages(pub_models.AssistantMessage(noResponse))
		return nil, false
	}
	o.appendMessages(choice.Messages...)
	return choice.ToolCalls(), true
}

// runTools dispatches every call concurrently and returns once all of them
// have been folded back into the transcript.
func (o *Orchestrator) runTools(ctx context.Context, calls []pub_models.ToolCallRequest) {
	resolved := make(chan struct{})
	o.mu.Lock()
	o.pending = make(map[string]int, len(calls))
	for _, c := range calls {
		o.pending[c.ID]++
	}
	o.resolved = resolved
	o.state = AwaitingToolResults
	o.enqueueLocked(Event{Kind: EventState, State: AwaitingToolResults})
	o.mu.Unlock()
	o.flush()

	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallel)
	for _, call := range calls {
		g.Go(func() error {
			res, err := o.invoker.Invoke(ctx, call)
			o.resolve(call.ID, toolMessage(call, res, err))
			return nil
		})
	}
	<-resolved
	g.Wait()
}

// resolve removes the call from the pending set and appends its result in
// the same critical section. The caller emptying the set closes resolved.
// The result is queued for notification before the lock is released, so
// listeners see results in transcript order.
func (o *Orchestrator) resolve(callID string, msg pub_models.Message) {
	o.mu.Lock()
	n, ok := o.pending[callID]
	if !ok {
		o.mu.Unlock()
		ancli.Warnf("dropping result of unknown tool call: '%v'\n", callID)
		return
	}
	if n <= 1 {
		delete(o.pending, callID)
	} else {
		o.pending[callID] = n - 1
	}
	o.transcript = append(o.transcript, msg)
	o.enqueueLocked(Event{Kind: EventMessage, Message: msg})
	if len(o.pending) == 0 {
		close(o.resolved)
	}
	o.mu.Unlock()
	o.flush()
}

// refuseCalls answers calls beyond the round limit so the transcript stays
// valid for the next turn.
func (o *Orchestrator) refuseCalls(calls []pub_models.ToolCallRequest) {
	msgs := make([]pub_models.Message, 0, len(calls)+1)
	for _, c := range calls {
		msgs = append(msgs, pub_models.ToolResultMessage(c.ID, "ERROR: No more tool calls allowed", true))
	}
	msgs = append(msgs, pub_models.AssistantMessage(fmt.Sprintf(
		"Error: stopped after %v rounds of tool calls. Send a new message to continue.", o.opts.MaxToolRounds)))
	o.appendMessages(msgs...)
}

func toolMessage(call pub_models.ToolCallRequest, res pub_models.ToolCallResult, err error) pub_models.Message {
	if err != nil {
		return pub_models.ToolResultMessage(call.ID, err.Error(), true)
	}
	if !res.Success {
		return pub_models.ToolResultMessage(call.ID, "tool call did not succeed", true)
	}
	return pub_models.Message{
		Role:       pub_models.RoleTool,
		Content:    res.Contents,
		ToolCallID: call.ID,
	}
}

func (o *Orchestrator) appendMessages(msgs ...pub_models.Message) {
	o.mu.Lock()
	o.transcript = append(o.transcript, msgs...)
	for _, m := range msgs {
		o.enqueueLocked(Event{Kind: EventMessage, Message: m})
	}
	o.mu.Unlock()
	o.flush()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.enqueueLocked(Event{Kind: EventState, State: s})
	o.mu.Unlock()
	o.flush()
}

// enqueueLocked must be called with mu held.
func (o *Orchestrator) enqueueLocked(events ...Event) {
	if o.opts.Notify == nil {
		return
	}
	o.events = append(o.events, events...)
}

// flush delivers the queued events one at a time. mu is not held while
// Notify runs, so listeners may call back into the Orchestrator.
func (o *Orchestrator) flush() {
	if o.opts.Notify == nil {
		return
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	for {
		o.mu.Lock()
		if len(o.events) == 0 {
			o.mu.Unlock()
			return
		}
		e := o.events[0]
		o.events = o.events[1:]
		o.mu.Unlock()
		o.opts.Notify(e)
	}
}

// Reset starts a new conversation containing only the system prompt.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return ErrBusy
	}
	o.resetLocked()
	return nil
}

func (o *Orchestrator) resetLocked() {
	o.id = uuid.NewString()
	o.transcript = nil
	if o.opts.SystemPrompt != "" {
		o.transcript = append(o.transcript, pub_models.SystemMessage(o.opts.SystemPrompt))
	}
}

// SetModel changes the model used from the next completion request on.
func (o *Orchestrator) SetModel(model string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.model = model
}

func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// ID of the current conversation.
func (o *Orchestrator) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AwaitingResponse is true while a turn is running.
func (o *Orchestrator) AwaitingResponse() bool {
	return o.State() != Idle
}

// Transcript returns a copy of the transcript.
func (o *Orchestrator) Transcript() []pub_models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	ret := make([]pub_models.Message, len(o.transcript))
	for i, m := range o.transcript {
		ret[i] = m.Clone()
	}
	return ret
}
