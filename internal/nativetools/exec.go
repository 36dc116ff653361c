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

// ExecTool runs a shell command confined to the workspace directory with a
// bounded timeout (spec §4.8 template "coder"/"analyst" tool "exec").
type ExecTool struct {
	Workspace string
	Timeout   time.Duration
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Run a shell command in the workspace and return its combined output." }
func (t *ExecTool) Kind() agent.Kind    { return agent.KindNative }
func (t *ExecTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"command": map[string]any{"type": "string", "description": "Shell command to run"}},
		"required":   []string{"command"},
	}
}

func (t *ExecTool) Run(ctx context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var a struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid exec arguments: %w", err)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", a.Command)
	cmd.Dir = t.Workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Sprintf("%s\n[exit error: %s]", out.String(), err.Error()), nil
	}
	return out.String(), nil
}
