package nativetools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/nanobot-run/nanobot/internal/agent"
)

// ClaudeCodeTool delegates a coding task to the Claude Code CLI in
// print mode, confined to the workspace (spec §4.8 template "claude-coder",
// spec §5 "delegation to Claude Code CLI"). It is meant to be wrapped in
// agent.ShieldedTool: delegations can run far longer than a message
// timeout, so the shield — not this tool — decides when to give up waiting
// and deliver the result late.
type ClaudeCodeTool struct {
	Workspace string
	Timeout   time.Duration
}

func (t *ClaudeCodeTool) Name() string { return "claude_code" }
func (t *ClaudeCodeTool) Description() string {
	return "Delegate a coding task to the Claude Code CLI, running in this workspace."
}
func (t *ClaudeCodeTool) Kind() agent.Kind { return agent.KindClaudeCodeDelegate }
func (t *ClaudeCodeTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"task": map[string]any{"type": "string", "description": "Task for Claude Code to perform"}},
		"required":   []string{"task"},
	}
}

func (t *ClaudeCodeTool) Run(ctx context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var a struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid claude_code arguments: %w", err)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "claude", "-p", a.Task, "--permission-mode", "acceptEdits")
	cmd.Dir = t.Workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Sprintf("%s\n[claude code exit error: %s]", out.String(), err.Error()), nil
	}
	return out.String(), nil
}
