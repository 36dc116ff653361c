package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolNamePattern is the spec §3/§6 tool-name contract.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Registry is the Tool Registry (C4): name->tool mapping, schema export,
// parameter validation and panic-safe execution dispatch (spec §4.4).
// Concurrent Get/GetDefinitions is permitted; Register/UnregisterByPrefix
// serialize against them (spec §5 "shared resources").
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds tool, rejecting invalid names. Re-registering a name
// replaces the existing tool, matching the teacher's ToolRegistry.Register
// idiom (internal/agent/tool_registry.go in the example pack).
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name %q: must match %s", name, toolNamePattern.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// Unregister removes a single tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// UnregisterByPrefix removes every tool whose name starts with prefix,
// supporting MCP hot-reload (spec §4.4, §8 invariant 7).
func (r *Registry) UnregisterByPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
		}
	}
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// GetDefinitions returns the JSON-schema list the LLM API expects
// (spec §4.4).
func (r *Registry) GetDefinitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

// Subset returns a new Registry containing only the named tools, used by
// the Subagent Manager to build a per-template restricted registry
// (spec §4.8 "tools field restricts the registry").
func (r *Registry) Subset(names []string) *Registry {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub := NewRegistry(r.logger)
	for name, t := range r.tools {
		if allowed[name] {
			sub.tools[name] = t
		}
	}
	return sub
}

// Execute looks up name, validates args against the tool's schema, and
// calls Run. Missing tools, schema violations, panics and unexpected
// errors are all converted to a single-string result — the agent loop must
// never be aborted by a tool (spec §4.4, §8 invariant 4).
func (r *Registry) Execute(ctx context.Context, callCtx CallContext, name string, args json.RawMessage) (result string) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}

	if err := validateArgs(tool.Schema(), args); err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p, "stack", string(debug.Stack()))
			result = fmt.Sprintf("Error executing %s: %v", name, p)
		}
	}()

	out, err := tool.Run(ctx, callCtx, args)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %s", name, err.Error())
	}
	return out
}

// validateArgs checks args against schema's required fields, basic types
// and enum membership (spec §4.4 "basic type checks, enum membership").
func validateArgs(schema map[string]any, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(schemaJSON))); err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}

	if len(args) == 0 {
		args = []byte("{}")
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
