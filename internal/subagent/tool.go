package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nanobot-run/nanobot/internal/agent"
)

// SpawnTool exposes Manager.Spawn as a dispatchable tool (spec §4.8
// "spawn"), implementing agent.StatefulTool so the loop can inject the
// current message's channel/chatId/batchId before each call — the explicit
// call-context threading the spec's stateful-tool redesign calls for
// (spec §9 "Stateful tools").
type SpawnTool struct {
	manager *Manager
	call    agent.CallContext
	media   []string
}

// NewSpawnTool builds the spawn tool bound to manager.
func NewSpawnTool(manager *Manager) *SpawnTool {
	return &SpawnTool{manager: manager}
}

func (t *SpawnTool) Name() string        { return "spawn" }
func (t *SpawnTool) Kind() agent.Kind    { return agent.KindSubagentSpawn }
func (t *SpawnTool) Description() string {
	return "Spawn a subagent to handle a task in the background. Use this for complex or time-consuming " +
		"tasks that can run independently; the subagent reports back when done. Do not spawn the same or " +
		"equivalent task more than once per user request. For coding tasks use template='coder' or " +
		"'claude-coder'; for image analysis use template='vision'; for audio transcription use template='voice'."
}

func (t *SpawnTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task for the subagent to complete",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the task (for display)",
			},
			"template": map[string]any{
				"type":        "string",
				"enum":        []string{"minimal", "coder", "researcher", "analyst", "claude-coder", "vision", "voice"},
				"description": "The subagent template",
				"default":     "minimal",
			},
			"session_id": map[string]any{
				"type":        "string",
				"description": "Optional ID to run this subagent task under; an earlier conversation with the same ID is not resumed",
			},
			"enable_memory": map[string]any{
				"type":        "boolean",
				"description": "Enable agent-specific memory for this subagent",
				"default":     false,
			},
			"attach_media": map[string]any{
				"type":        "boolean",
				"description": "Whether to forward the current message's media to the subagent",
				"default":     false,
			},
		},
		"required": []string{"task"},
	}
}

// SetCallContext implements agent.StatefulTool.
func (t *SpawnTool) SetCallContext(callCtx agent.CallContext) { t.call = callCtx }

// SetMedia records the current message's media paths so attach_media=true
// can forward them (spec §4.8 "attach_media").
func (t *SpawnTool) SetMedia(media []string) { t.media = media }

type spawnArgs struct {
	Task         string `json:"task"`
	Label        string `json:"label"`
	Template     string `json:"template"`
	SessionID    string `json:"session_id"`
	EnableMemory bool   `json:"enable_memory"`
	AttachMedia  bool   `json:"attach_media"`
}

func (t *SpawnTool) Run(ctx context.Context, callCtx agent.CallContext, args json.RawMessage) (string, error) {
	var a spawnArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid spawn arguments: %w", err)
		}
	}
	if a.Template == "" {
		a.Template = "minimal"
	}

	var media []string
	if a.AttachMedia {
		media = t.media
	}

	return t.manager.Spawn(ctx, SpawnRequest{
		Task:         a.Task,
		Label:        a.Label,
		Template:     a.Template,
		SessionID:    a.SessionID,
		EnableMemory: a.EnableMemory,
		Origin:       Origin{Channel: callCtx.Channel, ChatID: callCtx.ChatID},
		Media:        media,
		BatchID:      callCtx.BatchID,
	}), nil
}
