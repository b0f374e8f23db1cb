package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/google/go-cmp/cmp"
	"github.com/milarze/ergon/internal/models"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedCompleter answers the n:th request with the n:th reply. onRequest,
// if set, runs before answering and may block.
type scriptedCompleter struct {
	mu        sync.Mutex
	replies   []reply
	requests  []pub_models.CompletionRequest
	models    []string
	onRequest func(n int, req pub_models.CompletionRequest)
}

type reply struct {
	resp pub_models.CompletionResponse
	err  error
}

func (s *scriptedCompleter) CompleteByModel(ctx context.Context, model string, req pub_models.CompletionRequest) (pub_models.CompletionResponse, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	s.models = append(s.models, model)
	s.mu.Unlock()
	if s.onRequest != nil {
		s.onRequest(n, req)
	}
	if n >= len(s.replies) {
		return pub_models.CompletionResponse{}, errors.New("no more scripted replies")
	}
	return s.replies[n].resp, s.replies[n].err
}

func (s *scriptedCompleter) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func answer(msgs ...pub_models.Message) reply {
	return reply{resp: pub_models.CompletionResponse{Choices: []pub_models.Choice{{Messages: msgs}}}}
}

func toolCallMessage(calls ...pub_models.ToolCallRequest) pub_models.Message {
	return pub_models.Message{Role: pub_models.RoleAssistant, ToolCalls: calls}
}

type staticTools []pub_models.ToolDescriptor

func (s staticTools) Tools() []pub_models.ToolDescriptor { return s }

type funcInvoker func(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error)

func (f funcInvoker) Invoke(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
	return f(ctx, call)
}

func okResult(id, content string) pub_models.ToolCallResult {
	return pub_models.ToolCallResult{
		ID:       id,
		Success:  true,
		Contents: []pub_models.ContentBlock{pub_models.ToolResult{CallID: id, Content: content}},
	}
}

func submitAndWait(t *testing.T, o *Orchestrator, text string) {
	t.Helper()
	if err := o.Submit(context.Background(), text); err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("turn did not finish: %v", err)
	}
}

func roles(msgs []pub_models.Message) []pub_models.Role {
	ret := make([]pub_models.Role, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, m.Role)
	}
	return ret
}

func TestSubmit_NoTools(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{answer(pub_models.AssistantMessage("hello"))}}
	tools := staticTools{{Name: "calc__add"}}
	o := New(c, tools, nil, Options{Model: "gpt-4o", SystemPrompt: "be nice"})

	submitAndWait(t, o, "hi")
	want := []pub_models.Message{
		pub_models.SystemMessage("be nice"),
		pub_models.UserMessage("hi"),
		pub_models.AssistantMessage("hello"),
	}
	if diff := cmp.Diff(want, o.Transcript()); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, o.State(), Idle)
	testboil.FailTestIfDiff(t, c.requestCount(), 1)
	testboil.FailTestIfDiff(t, c.models[0], "gpt-4o")
	if diff := cmp.Diff([]pub_models.ToolDescriptor(tools), c.requests[0].Tools); diff != "" {
		t.Fatalf("tool catalog not sent (-want +got):\n%v", diff)
	}
}

func TestSubmit_CalculatorScenario(t *testing.T) {
	call := pub_models.ToolCallRequest{ID: "call_1", Name: "calc__add", Arguments: json.RawMessage(`{"a":2,"b":2}`)}
	c := &scriptedCompleter{replies: []reply{
		answer(toolCallMessage(call)),
		answer(pub_models.AssistantMessage("4")),
	}}
	invoker := funcInvoker(func(ctx context.Context, got pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		if got.Name != "calc__add" {
			return pub_models.ToolCallResult{}, fmt.Errorf("unexpected call: %v", got.Name)
		}
		return okResult(got.ID, "4"), nil
	})
	o := New(c, staticTools{}, invoker, Options{})

	submitAndWait(t, o, "what's 2+2 using the calculator tool")
	want := []pub_models.Message{
		pub_models.UserMessage("what's 2+2 using the calculator tool"),
		toolCallMessage(call),
		{Role: pub_models.RoleTool, ToolCallID: "call_1", Content: []pub_models.ContentBlock{pub_models.ToolResult{CallID: "call_1", Content: "4"}}},
		pub_models.AssistantMessage("4"),
	}
	if diff := cmp.Diff(want, o.Transcript()); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, c.requestCount(), 2)
	// The second request carries the tool result
	if diff := cmp.Diff(want[:3], c.requests[1].Messages); diff != "" {
		t.Fatalf("unexpected second request (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, o.State(), Idle)
}

func TestSubmit_ToolFailureScenario(t *testing.T) {
	call := pub_models.ToolCallRequest{ID: "call_1", Name: "calc__add", Arguments: json.RawMessage(`{"a":2,"b":2}`)}
	c := &scriptedCompleter{replies: []reply{
		answer(toolCallMessage(call)),
		answer(pub_models.AssistantMessage("The calculator is unavailable.")),
	}}
	invoker := funcInvoker(func(ctx context.Context, got pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		return pub_models.ToolCallResult{}, errors.New("connection refused")
	})
	o := New(c, nil, invoker, Options{})

	submitAndWait(t, o, "what's 2+2 using the calculator tool")
	transcript := o.Transcript()
	if diff := cmp.Diff([]pub_models.Role{pub_models.RoleUser, pub_models.RoleAssistant, pub_models.RoleTool, pub_models.RoleAssistant}, roles(transcript)); diff != "" {
		t.Fatalf("unexpected roles (-want +got):\n%v", diff)
	}
	results := transcript[2].ToolResults()
	testboil.FailTestIfDiff(t, len(results), 1)
	testboil.FailTestIfDiff(t, results[0].IsError, true)
	testboil.FailTestIfDiff(t, results[0].Content, "connection refused")
	testboil.FailTestIfDiff(t, transcript[2].ToolCallID, "call_1")
	testboil.FailTestIfDiff(t, c.requestCount(), 2)
	testboil.FailTestIfDiff(t, o.State(), Idle)
}

// Results arrive in reverse order of the calls. The next completion request
// must be issued exactly once and only after every result is in.
func TestSubmit_PendingSetConvergence(t *testing.T) {
	const k = 5
	calls := make([]pub_models.ToolCallRequest, 0, k)
	for i := 0; i < k; i++ {
		calls = append(calls, pub_models.ToolCallRequest{ID: fmt.Sprintf("call_%d", i), Name: "s__t"})
	}
	gates := make(map[string]chan struct{}, k)
	for _, c := range calls {
		gates[c.ID] = make(chan struct{})
	}
	var startedWg sync.WaitGroup
	startedWg.Add(k)
	invoker := funcInvoker(func(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		startedWg.Done()
		<-gates[call.ID]
		if call.ID == "call_2" {
			return pub_models.ToolCallResult{}, errors.New("boom")
		}
		return okResult(call.ID, "ok "+call.ID), nil
	})

	c := &scriptedCompleter{replies: []reply{
		answer(pub_models.AssistantMessage("thinking"), toolCallMessage(calls...)),
		answer(pub_models.AssistantMessage("done")),
	}}
	var secondRequest []pub_models.Message
	c.onRequest = func(n int, req pub_models.CompletionRequest) {
		if n == 1 {
			secondRequest = req.Messages
		}
	}
	o := New(c, nil, invoker, Options{MaxParallel: k})
	if err := o.Submit(context.Background(), "go"); err != nil {
		t.Fatalf("failed to submit: %v", err)
	}

	startedWg.Wait()
	testboil.FailTestIfDiff(t, o.State(), AwaitingToolResults)
	for i := k - 1; i >= 0; i-- {
		testboil.FailTestIfDiff(t, c.requestCount(), 1)
		close(gates[calls[i].ID])
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("turn did not finish: %v", err)
	}

	testboil.FailTestIfDiff(t, c.requestCount(), 2)
	wantRoles := []pub_models.Role{pub_models.RoleUser, pub_models.RoleAssistant, pub_models.RoleAssistant}
	for i := 0; i < k; i++ {
		wantRoles = append(wantRoles, pub_models.RoleTool)
	}
	if diff := cmp.Diff(wantRoles, roles(secondRequest)); diff != "" {
		t.Fatalf("second request issued before all results (-want +got):\n%v", diff)
	}
	answered := make(map[string]bool)
	for _, m := range secondRequest[3:] {
		answered[m.ToolCallID] = true
		if m.ToolCallID == "call_2" && !m.ToolResults()[0].IsError {
			t.Fatal("expected failing call to be an error result")
		}
	}
	testboil.FailTestIfDiff(t, len(answered), k)
}

func TestSubmit_BoundedParallelism(t *testing.T) {
	const k = 6
	calls := make([]pub_models.ToolCallRequest, 0, k)
	for i := 0; i < k; i++ {
		calls = append(calls, pub_models.ToolCallRequest{ID: fmt.Sprintf("c%d", i), Name: "s__t"})
	}
	var mu sync.Mutex
	active, maxActive := 0, 0
	invoker := funcInvoker(func(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return okResult(call.ID, "ok"), nil
	})
	c := &scriptedCompleter{replies: []reply{
		answer(toolCallMessage(calls...)),
		answer(pub_models.AssistantMessage("done")),
	}}
	o := New(c, nil, invoker, Options{MaxParallel: 2})
	submitAndWait(t, o, "go")
	if maxActive > 2 {
		t.Fatalf("expected at most 2 concurrent calls, got: %v", maxActive)
	}
	testboil.FailTestIfDiff(t, len(o.Transcript()), 2+k+1)
}

func TestSubmit_BusyIsRejected(t *testing.T) {
	release := make(chan struct{})
	c := &scriptedCompleter{
		replies:   []reply{answer(pub_models.AssistantMessage("hello"))},
		onRequest: func(int, pub_models.CompletionRequest) { <-release },
	}
	o := New(c, nil, nil, Options{})
	if err := o.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	testboil.FailTestIfDiff(t, o.AwaitingResponse(), true)
	if err := o.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got: %v", err)
	}
	if err := o.Reset(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy on reset, got: %v", err)
	}
	close(release)
	if err := o.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]pub_models.Role{pub_models.RoleUser, pub_models.RoleAssistant}, roles(o.Transcript())); diff != "" {
		t.Fatalf("busy input leaked into transcript (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, c.requestCount(), 1)
}

func TestSubmit_EmptyInputIsNoop(t *testing.T) {
	c := &scriptedCompleter{}
	o := New(c, nil, nil, Options{SystemPrompt: "sys"})
	before := o.Transcript()
	for _, in := range []string{"", "   ", "\n\t"} {
		if err := o.Submit(context.Background(), in); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if diff := cmp.Diff(before, o.Transcript()); diff != "" {
		t.Fatalf("transcript changed (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, o.State(), Idle)
	testboil.FailTestIfDiff(t, c.requestCount(), 0)
}

// timeoutError is what the http client returns once its deadline passes.
type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestSubmit_CompletionErrors(t *testing.T) {
	tests := []struct {
		name string
		r    reply
		want string
	}{
		{name: "zero choices", r: reply{resp: pub_models.CompletionResponse{}}, want: "Error: No response from model."},
		{name: "unauthenticated", r: reply{err: models.NewUnauthenticated("openai")}, want: "Add the api key"},
		{name: "provider error", r: reply{err: &models.ProviderError{Provider: "anthropic", Status: 529, Body: "overloaded"}}, want: "anthropic responded with status 529: overloaded"},
		{name: "transport", r: reply{err: &models.TransportError{Provider: "vllm", Err: errors.New("connection refused")}}, want: "failed to reach vllm: connection refused"},
		{name: "timeout", r: reply{err: &models.TransportError{Provider: "openai", Err: fmt.Errorf("failed to execute request: %w", timeoutError{})}}, want: "Error: request to openai timed out. Try again."},
		{name: "other", r: reply{err: errors.New("something")}, want: "Error: something"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &scriptedCompleter{replies: []reply{tc.r}}
			o := New(c, nil, nil, Options{})
			submitAndWait(t, o, "hi")
			transcript := o.Transcript()
			testboil.FailTestIfDiff(t, len(transcript), 2)
			testboil.FailTestIfDiff(t, transcript[1].Role, pub_models.RoleAssistant)
			testboil.AssertStringContains(t, transcript[1].Text(), tc.want)
			testboil.FailTestIfDiff(t, o.State(), Idle)

			// The conversation is usable after a failed turn
			if err := o.Submit(context.Background(), "again"); err != nil {
				t.Fatalf("failed to submit after error: %v", err)
			}
			if err := o.Wait(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSubmit_MultipleSegmentsKept(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{answer(
		pub_models.AssistantMessage("reasoning"),
		pub_models.AssistantMessage("answer"),
	)}}
	o := New(c, nil, nil, Options{})
	submitAndWait(t, o, "hi")
	transcript := o.Transcript()
	testboil.FailTestIfDiff(t, len(transcript), 3)
	testboil.FailTestIfDiff(t, transcript[1].Text(), "reasoning")
	testboil.FailTestIfDiff(t, transcript[2].Text(), "answer")
}

func TestSubmit_ToolRoundLimit(t *testing.T) {
	loop := func(id string) reply {
		return answer(toolCallMessage(pub_models.ToolCallRequest{ID: id, Name: "s__t"}))
	}
	c := &scriptedCompleter{replies: []reply{loop("1"), loop("2"), loop("3")}}
	invoker := funcInvoker(func(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		return okResult(call.ID, "again"), nil
	})
	o := New(c, nil, invoker, Options{MaxToolRounds: 2})
	submitAndWait(t, o, "loop")

	testboil.FailTestIfDiff(t, c.requestCount(), 3)
	transcript := o.Transcript()
	last := transcript[len(transcript)-1]
	testboil.FailTestIfDiff(t, last.Role, pub_models.RoleAssistant)
	testboil.AssertStringContains(t, last.Text(), "stopped after 2 rounds")
	refused := transcript[len(transcript)-2]
	testboil.FailTestIfDiff(t, refused.ToolCallID, "3")
	testboil.FailTestIfDiff(t, refused.ToolResults()[0].IsError, true)
}

func TestNotifications(t *testing.T) {
	var mu sync.Mutex
	var states []State
	var appended []pub_models.Role
	notify := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case EventState:
			states = append(states, e.State)
		case EventMessage:
			appended = append(appended, e.Message.Role)
		}
	}
	call := pub_models.ToolCallRequest{ID: "1", Name: "s__t"}
	c := &scriptedCompleter{replies: []reply{answer(toolCallMessage(call)), answer(pub_models.AssistantMessage("done"))}}
	invoker := funcInvoker(func(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		return okResult(call.ID, "ok"), nil
	})
	o := New(c, nil, invoker, Options{Notify: notify})
	submitAndWait(t, o, "hi")

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]State{AwaitingCompletion, AwaitingToolResults, AwaitingCompletion, Idle}, states); diff != "" {
		t.Fatalf("unexpected states (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff([]pub_models.Role{pub_models.RoleUser, pub_models.RoleAssistant, pub_models.RoleTool, pub_models.RoleAssistant}, appended); diff != "" {
		t.Fatalf("unexpected messages (-want +got):\n%v", diff)
	}
}

func TestNotifications_FollowTranscriptOrder(t *testing.T) {
	var o *Orchestrator
	var mu sync.Mutex
	var notified []string
	notify := func(e Event) {
		if e.Kind != EventMessage || e.Message.Role != pub_models.RoleTool {
			return
		}
		// Listeners may read the orchestrator while being notified
		_ = o.State()
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, e.Message.ToolCallID)
	}
	calls := make([]pub_models.ToolCallRequest, 0, 8)
	for i := range 8 {
		calls = append(calls, pub_models.ToolCallRequest{ID: fmt.Sprint(i), Name: "s__t"})
	}
	c := &scriptedCompleter{replies: []reply{answer(toolCallMessage(calls...)), answer(pub_models.AssistantMessage("done"))}}
	invoker := funcInvoker(func(ctx context.Context, call pub_models.ToolCallRequest) (pub_models.ToolCallResult, error) {
		return okResult(call.ID, "ok"), nil
	})
	o = New(c, nil, invoker, Options{Notify: notify, MaxParallel: len(calls)})
	submitAndWait(t, o, "hi")

	var inTranscript []string
	for _, m := range o.Transcript() {
		if m.Role == pub_models.RoleTool {
			inTranscript = append(inTranscript, m.ToolCallID)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	testboil.FailTestIfDiff(t, len(inTranscript), len(calls))
	if diff := cmp.Diff(inTranscript, notified); diff != "" {
		t.Fatalf("notifications out of transcript order (-transcript +notified):\n%v", diff)
	}
}

func TestResetAndModel(t *testing.T) {
	c := &scriptedCompleter{replies: []reply{answer(pub_models.AssistantMessage("a")), answer(pub_models.AssistantMessage("b"))}}
	o := New(c, nil, nil, Options{Model: "m1", SystemPrompt: "sys"})
	firstID := o.ID()
	submitAndWait(t, o, "hi")

	if err := o.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]pub_models.Message{pub_models.SystemMessage("sys")}, o.Transcript()); diff != "" {
		t.Fatalf("unexpected transcript after reset (-want +got):\n%v", diff)
	}
	if o.ID() == firstID {
		t.Fatal("expected a new conversation id after reset")
	}

	o.SetModel("m2")
	testboil.FailTestIfDiff(t, o.Model(), "m2")
	submitAndWait(t, o, "hi")
	testboil.FailTestIfDiff(t, c.models[1], "m2")
}

func TestStateString(t *testing.T) {
	testboil.FailTestIfDiff(t, Idle.String(), "idle")
	testboil.FailTestIfDiff(t, AwaitingCompletion.String(), "awaiting completion")
	testboil.FailTestIfDiff(t, AwaitingToolResults.String(), "awaiting tool results")
	testboil.FailTestIfDiff(t, State(42).String(), "unknown")
}
