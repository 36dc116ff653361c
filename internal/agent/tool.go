// Package agent implements the Tool Registry (C4), Context Builder (C6) and
// Agent Loop (C7) — the core per-message orchestration described in
// spec §4.4, §4.6, §4.7.
package agent

import (
	"context"
	"encoding/json"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// CallContext threads call-site context (channel, chatId, batchId)
// explicitly through execute, replacing the hidden mutable per-call state
// the Python original kept on stateful tools (spec §9 "Stateful tools").
type CallContext struct {
	Channel string
	ChatID  string
	BatchID string
}

// Kind distinguishes the tagged union of tool implementations named in
// spec §9: Native | McpAdapter | McpLazyAdapter | SubagentSpawn |
// ClaudeCodeDelegate. It is informational only — dispatch is always
// through the Tool interface.
type Kind string

const (
	KindNative            Kind = "native"
	KindMCPAdapter        Kind = "mcp_adapter"
	KindMCPLazyAdapter    Kind = "mcp_lazy_adapter"
	KindSubagentSpawn     Kind = "subagent_spawn"
	KindClaudeCodeDelegate Kind = "claude_code_delegate"
)

// Tool is the contract every dispatchable tool implements (spec §3 "Tool").
type Tool interface {
	Name() string
	Description() string
	// Schema returns an OpenAI-compatible JSON-schema parameter object.
	Schema() map[string]any
	Kind() Kind
	// Run executes the tool. It may return a Go error for unexpected
	// failures; the registry is responsible for ever turning that into a
	// "never throw" string result (spec §4.4) — Run itself is free to
	// return an error.
	Run(ctx context.Context, callCtx CallContext, args json.RawMessage) (string, error)
}

// Definition is an alias of the shared wire type so registry callers don't
// need to import pkg/models directly for this one shape.
type Definition = models.ToolDefinition
