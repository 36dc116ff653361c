package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

type echoTool struct {
	name    string
	schema  map[string]any
	runFunc func(ctx context.Context, callCtx CallContext, args json.RawMessage) (string, error)
}

func (t *echoTool) Name() string             { return t.name }
func (t *echoTool) Description() string      { return "echoes its input" }
func (t *echoTool) Kind() Kind               { return KindNative }
func (t *echoTool) Schema() map[string]any   { return t.schema }
func (t *echoTool) Run(ctx context.Context, callCtx CallContext, args json.RawMessage) (string, error) {
	return t.runFunc(ctx, callCtx, args)
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsInvalidName(t *testing.T) {
	r := newTestRegistry()
	err := r.Register(&echoTool{name: "bad name!"})
	if err == nil {
		t.Fatal("expected an error for a tool name with spaces/punctuation")
	}
}

func TestRegisterGetRoundTrip(t *testing.T) {
	r := newTestRegistry()
	tool := &echoTool{name: "echo"}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	got, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected to find the registered tool")
	}
	if got.Name() != "echo" {
		t.Errorf("Name() = %q, want %q", got.Name(), "echo")
	}
}

func TestUnregisterByPrefix(t *testing.T) {
	r := newTestRegistry()
	r.Register(&echoTool{name: "mcp_search_web"})
	r.Register(&echoTool{name: "mcp_search_files"})
	r.Register(&echoTool{name: "native_exec"})

	r.UnregisterByPrefix("mcp_")

	if _, ok := r.Get("mcp_search_web"); ok {
		t.Error("expected mcp_search_web to be unregistered")
	}
	if _, ok := r.Get("mcp_search_files"); ok {
		t.Error("expected mcp_search_files to be unregistered")
	}
	if _, ok := r.Get("native_exec"); !ok {
		t.Error("expected native_exec to survive the prefix unregister")
	}
}

func TestSubsetRestrictsToNamedTools(t *testing.T) {
	r := newTestRegistry()
	r.Register(&echoTool{name: "read_file"})
	r.Register(&echoTool{name: "exec"})
	r.Register(&echoTool{name: "web_search"})

	sub := r.Subset([]string{"read_file", "exec"})

	if _, ok := sub.Get("read_file"); !ok {
		t.Error("expected read_file in subset")
	}
	if _, ok := sub.Get("exec"); !ok {
		t.Error("expected exec in subset")
	}
	if _, ok := sub.Get("web_search"); ok {
		t.Error("web_search should not be in the restricted subset")
	}
}

func TestExecuteUnknownToolReturnsErrorString(t *testing.T) {
	r := newTestRegistry()
	result := r.Execute(context.Background(), CallContext{}, "missing", nil)
	if result == "" {
		t.Fatal("expected a non-empty error string")
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	r := newTestRegistry()
	r.Register(&echoTool{
		name: "panics",
		runFunc: func(context.Context, CallContext, json.RawMessage) (string, error) {
			panic("boom")
		},
	})

	result := r.Execute(context.Background(), CallContext{}, "panics", nil)
	if result == "" {
		t.Fatal("expected Execute to convert the panic into a result string, not propagate it")
	}
}

func TestExecuteValidatesArgsAgainstSchema(t *testing.T) {
	r := newTestRegistry()
	r.Register(&echoTool{
		name: "needs_query",
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
		runFunc: func(context.Context, CallContext, json.RawMessage) (string, error) {
			return "ok", nil
		},
	})

	result := r.Execute(context.Background(), CallContext{}, "needs_query", json.RawMessage(`{}`))
	if result == "ok" {
		t.Fatal("expected a validation error for missing required field")
	}

	result = r.Execute(context.Background(), CallContext{}, "needs_query", json.RawMessage(`{"query":"hi"}`))
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
}

func TestGetDefinitionsIncludesEveryRegisteredTool(t *testing.T) {
	r := newTestRegistry()
	r.Register(&echoTool{name: "a"})
	r.Register(&echoTool{name: "b"})

	defs := r.GetDefinitions()
	if len(defs) != 2 {
		t.Fatalf("GetDefinitions() returned %d entries, want 2", len(defs))
	}
}
