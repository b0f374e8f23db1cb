package tools

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	"github.com/google/go-cmp/cmp"
	"github.com/milarze/ergon/internal/tools/mcp"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func toolNames(descs []pub_models.ToolDescriptor) []string {
	ret := make([]string, 0, len(descs))
	for _, d := range descs {
		ret = append(ret, d.Name)
	}
	return ret
}

func TestLoadTools_NamespacesAndResolves(t *testing.T) {
	calc := &fakeConn{tools: []*mcpsdk.Tool{tool("add"), tool("sub")}}
	web := &fakeConn{tools: []*mcpsdk.Tool{tool("add"), tool("fetch")}}
	fc := newFakeConnector(map[string]*fakeConn{"calc": calc, "web": web})
	r := NewRegistry(fc.connect, servers("calc", "web")...)
	defer r.Close()

	r.LoadTools(context.Background())
	want := []string{"calc__add", "calc__sub", "web__add", "web__fetch"}
	if diff := cmp.Diff(want, toolNames(r.Tools())); diff != "" {
		t.Fatalf("unexpected catalog (-want +got):\n%v", diff)
	}

	for _, name := range want {
		sc, local, err := r.Resolve(name)
		if err != nil {
			t.Fatalf("failed to resolve %v: %v", name, err)
		}
		server, wantLocal, _ := pub_models.SplitNamespacedName(name)
		testboil.FailTestIfDiff(t, sc.ID, server)
		testboil.FailTestIfDiff(t, local, wantLocal)
	}
}

func TestLoadTools_PartialFailure(t *testing.T) {
	calc := &fakeConn{tools: []*mcpsdk.Tool{tool("add")}}
	broken := &fakeConn{listErr: errors.New("boom")}
	fc := newFakeConnector(map[string]*fakeConn{"calc": calc, "broken": broken})
	r := NewRegistry(fc.connect, servers("down", "calc", "broken")...)
	defer r.Close()

	r.LoadTools(context.Background())
	if diff := cmp.Diff([]string{"calc__add"}, toolNames(r.Tools())); diff != "" {
		t.Fatalf("unexpected catalog (-want +got):\n%v", diff)
	}
	if diff := cmp.Diff(map[string]int{"calc": 1}, r.Servers()); diff != "" {
		t.Fatalf("unexpected servers (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, broken.closed.Load(), int32(1))
}

func TestLoadTools_SkipsInvalidDefinitions(t *testing.T) {
	conns := map[string]*fakeConn{
		"a":    {tools: []*mcpsdk.Tool{tool("x"), tool("x"), tool(""), nil}},
		"b__c": {tools: []*mcpsdk.Tool{tool("y")}},
	}
	fc := newFakeConnector(conns)
	r := NewRegistry(fc.connect, append(servers("a", "b__c", "a", ""), pub_models.McpServer{})...)
	defer r.Close()

	r.LoadTools(context.Background())
	if diff := cmp.Diff([]string{"a__x"}, toolNames(r.Tools())); diff != "" {
		t.Fatalf("unexpected catalog (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, fc.dials["a"], 1)
	testboil.FailTestIfDiff(t, fc.dials["b__c"], 0)
}

func TestLoadTools_TrailingUnderscoreID(t *testing.T) {
	conns := map[string]*fakeConn{
		"a":  {tools: []*mcpsdk.Tool{tool("_x")}},
		"a_": {tools: []*mcpsdk.Tool{tool("x")}},
	}
	fc := newFakeConnector(conns)
	r := NewRegistry(fc.connect, servers("a", "a_")...)
	defer r.Close()

	r.LoadTools(context.Background())
	if diff := cmp.Diff([]string{"a___x"}, toolNames(r.Tools())); diff != "" {
		t.Fatalf("unexpected catalog (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, fc.dials["a_"], 0)
	sc, local, err := r.Resolve("a___x")
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	testboil.FailTestIfDiff(t, sc.ID, "a")
	testboil.FailTestIfDiff(t, local, "_x")
}

func TestLoadTools_Schema(t *testing.T) {
	withSchema := &mcpsdk.Tool{Name: "add", Description: "adds", InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
	}}
	noSchema := &mcpsdk.Tool{Name: "now"}
	fc := newFakeConnector(map[string]*fakeConn{"calc": {tools: []*mcpsdk.Tool{withSchema, noSchema}}})
	r := NewRegistry(fc.connect, servers("calc")...)
	defer r.Close()
	r.LoadTools(context.Background())

	tools := r.Tools()
	testboil.FailTestIfDiff(t, len(tools), 2)
	testboil.FailTestIfDiff(t, tools[0].Description, "adds")
	testboil.FailTestIfDiff(t, string(tools[0].InputSchema), `{"properties":{"a":{"type":"number"}},"type":"object"}`)
	testboil.FailTestIfDiff(t, string(tools[1].InputSchema), string(emptyObjectSchema))
}

func TestResolve_NotFound(t *testing.T) {
	fc := newFakeConnector(map[string]*fakeConn{"calc": {tools: []*mcpsdk.Tool{tool("add")}}})
	r := NewRegistry(fc.connect, servers("calc")...)
	defer r.Close()
	r.LoadTools(context.Background())

	for _, name := range []string{"add", "calc_add", "calc__mul", "web__add", "__add", "calc__"} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := r.Resolve(name); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got: %v", err)
			}
		})
	}
}

func TestReload_SwapsAtomicallyAndRetires(t *testing.T) {
	first := &fakeConn{tools: []*mcpsdk.Tool{tool("add")}}
	second := &fakeConn{tools: []*mcpsdk.Tool{tool("mul")}}
	fc := newFakeConnector(map[string]*fakeConn{"calc": first, "math": second})
	r := NewRegistry(fc.connect, servers("calc")...)
	defer r.Close()
	r.LoadTools(context.Background())

	oldConn, _, err := r.Resolve("calc__add")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Reload(context.Background(), servers("math"))
	if diff := cmp.Diff([]string{"math__mul"}, toolNames(r.Tools())); diff != "" {
		t.Fatalf("unexpected catalog (-want +got):\n%v", diff)
	}
	if _, _, err := r.Resolve("calc__add"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale tool still resolves: %v", err)
	}
	testboil.FailTestIfDiff(t, first.closed.Load(), int32(1))
	if _, err := oldConn.Call(context.Background(), "add", nil); !errors.Is(err, errRetired) {
		t.Fatalf("expected retired connection to refuse calls, got: %v", err)
	}
}

func TestReload_WaitsForInflightCalls(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	conn := &fakeConn{
		tools: []*mcpsdk.Tool{tool("slow")},
		call: func(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
			close(started)
			<-release
			return textResult("done"), nil
		},
	}
	fc := newFakeConnector(map[string]*fakeConn{"s": conn})
	r := NewRegistry(fc.connect, servers("s")...)
	r.LoadTools(context.Background())
	sc, local, err := r.Resolve("s__slow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error)
	go func() {
		_, err := sc.Call(context.Background(), local, nil)
		done <- err
	}()
	<-started
	r.Close()
	testboil.FailTestIfDiff(t, conn.closed.Load(), int32(0))
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight call failed: %v", err)
	}
	testboil.FailTestIfDiff(t, conn.closed.Load(), int32(1))
}

// Readers must never observe a tool whose connection is not published in
// the same snapshot.
func TestResolve_ConcurrentWithReload(t *testing.T) {
	conns := map[string]*fakeConn{
		"a": {tools: []*mcpsdk.Tool{tool("t")}},
		"b": {tools: []*mcpsdk.Tool{tool("t")}},
	}
	fc := newFakeConnector(conns)
	r := NewRegistry(fc.connect, servers("a")...)
	defer r.Close()
	r.LoadTools(context.Background())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, d := range r.Tools() {
				sc, _, err := r.Resolve(d.Name)
				if err != nil {
					// Replaced between Tools and Resolve, fine
					continue
				}
				server, _, _ := pub_models.SplitNamespacedName(d.Name)
				if sc.ID != server {
					t.Errorf("resolved %v to server %v", d.Name, sc.ID)
					return
				}
			}
		}
	}()
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			r.Reload(context.Background(), servers("b"))
		} else {
			r.Reload(context.Background(), servers("a"))
		}
	}
	close(stop)
	wg.Wait()
}

func TestServers_CountsTools(t *testing.T) {
	fc := newFakeConnector(map[string]*fakeConn{
		"a": {tools: []*mcpsdk.Tool{tool("x"), tool("y")}},
		"b": {},
	})
	r := NewRegistry(fc.connect, servers("a", "b")...)
	defer r.Close()
	r.LoadTools(context.Background())
	got := r.Servers()
	ids := make([]string, 0, len(got))
	for id := range got {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatalf("unexpected servers (-want +got):\n%v", diff)
	}
	testboil.FailTestIfDiff(t, got["a"], 2)
	testboil.FailTestIfDiff(t, got["b"], 0)
}

func TestRegistry_InMemoryServer(t *testing.T) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "calc", Version: "test"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "add",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return textResult("4"), nil
	})

	var serverSessions []*mcpsdk.ServerSession
	connect := func(ctx context.Context, srv pub_models.McpServer) (Connection, error) {
		st, ct := mcpsdk.NewInMemoryTransports()
		ss, err := server.Connect(ctx, st, nil)
		if err != nil {
			return nil, err
		}
		serverSessions = append(serverSessions, ss)
		cs, err := mcp.NewSession(ctx, srv.ID, ct)
		if err != nil {
			return nil, err
		}
		return cs, nil
	}
	r := NewRegistry(connect, servers("calc")...)
	r.LoadTools(context.Background())

	d := NewDispatcher(r, 0, 0)
	res, err := d.Invoke(context.Background(), pub_models.ToolCallRequest{ID: "call_1", Name: "calc__add", Arguments: []byte(`{"a":2,"b":2}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testboil.FailTestIfDiff(t, res.Contents[0].(pub_models.ToolResult).Content, "4")

	r.Close()
	for _, ss := range serverSessions {
		ss.Wait()
	}
}
