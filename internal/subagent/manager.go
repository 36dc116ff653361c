package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nanobot-run/nanobot/internal/agent"
	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/memory"
	"github.com/nanobot-run/nanobot/internal/providers"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// Origin identifies where a spawn request came from, so the result can be
// announced back to the right conversation (spec §4.8).
type Origin struct {
	Channel string
	ChatID  string
}

func (o Origin) key() string { return o.Channel + ":" + o.ChatID }

// Manager is the Subagent Manager (C8, spec §4.8): it spawns background
// tasks, tracks in-flight ones for cancellation/concurrency accounting, and
// announces completion back onto the message bus as a synthetic system
// message so the main agent loop can summarize it for the user.
type Manager struct {
	Bus       *bus.Bus
	Registry  *agent.Registry
	Providers *providers.Registry
	Memory    memory.Store
	Model     string
	Workspace string
	Logger    *slog.Logger

	MaxConcurrent int

	mu      sync.Mutex
	running map[string]context.CancelFunc
	slots   chan struct{}
}

// NewManager wires a Subagent Manager (spec §4.8 "Concurrency").
func NewManager(b *bus.Bus, registry *agent.Registry, provReg *providers.Registry, mem memory.Store, model, workspace string, logger *slog.Logger, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Manager{
		Bus: b, Registry: registry, Providers: provReg, Memory: mem,
		Model: model, Workspace: workspace, Logger: logger,
		MaxConcurrent: maxConcurrent,
		running:       make(map[string]context.CancelFunc),
		slots:         make(chan struct{}, maxConcurrent),
	}
}

// SpawnRequest carries the spawn tool's arguments (spec §4.8 "spawn(...)").
type SpawnRequest struct {
	Task         string
	Label        string
	Template     string
	SessionID    string
	EnableMemory bool
	Origin       Origin
	Media        []string
	BatchID      string
}

// RunningCount reports the number of in-flight subagents (spec §4.8
// "get_running_count").
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Spawn starts a subagent in the background and returns immediately with a
// status string, matching the original tool's synchronous-ack /
// asynchronous-completion contract (spec §4.8).
func (m *Manager) Spawn(parent context.Context, req SpawnRequest) string {
	tmpl := GetTemplate(req.Template)
	if len(req.Media) > 0 && tmpl.Name == "voice" && mediaIsImagesOnly(req.Media) {
		m.Logger.Info("subagent template override voice->vision: image-only media", "task", req.Task)
		tmpl = GetTemplate("vision")
	}

	taskID := req.SessionID
	displayLabel := req.Label
	if taskID == "" {
		taskID = uuid.NewString()[:8]
	}
	if displayLabel == "" {
		displayLabel = truncateLabel(req.Task, 30)
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return fmt.Sprintf("Subagent [%s] not started; the background task pool (%d) is currently full.", displayLabel, m.MaxConcurrent)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(parent))
	m.mu.Lock()
	m.running[taskID] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			<-m.slots
			m.mu.Lock()
			delete(m.running, taskID)
			m.mu.Unlock()
			cancel()
		}()
		m.run(runCtx, taskID, displayLabel, req, tmpl)
	}()

	m.Logger.Info("subagent spawned", "task_id", taskID, "label", displayLabel, "template", tmpl.Name)
	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", displayLabel, taskID)
}

// Cancel stops a running subagent by task id (spec §4.8 "Concurrency" —
// cancel handles).
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[taskID]
	if ok {
		cancel()
		delete(m.running, taskID)
	}
	return ok
}

func (m *Manager) run(ctx context.Context, taskID, label string, req SpawnRequest, tmpl Template) {
	registry := m.Registry
	if len(tmpl.Tools) > 0 {
		registry = m.Registry.Subset(tmpl.Tools)
	}

	callCtx := agent.CallContext{Channel: req.Origin.Channel, ChatID: req.Origin.ChatID, BatchID: req.BatchID}

	var final string
	if tmpl.ClaudeCode {
		// Claude-Code templates delegate the whole task straight to the
		// shielded delegate tool instead of driving an LLM tool-calling
		// loop (spec §4.8 template "claude-coder", spec §5 "Shielded work").
		args, err := json.Marshal(map[string]string{"task": req.Task})
		if err != nil {
			m.announce(taskID, label, req, fmt.Sprintf("Error: %s", err.Error()), "error")
			return
		}
		final = registry.Execute(ctx, callCtx, "claude_code", args)
	} else {
		var err error
		final, err = m.runLoop(ctx, taskID, label, req, tmpl, registry, callCtx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.announce(taskID, label, req, fmt.Sprintf("Error: %s", err.Error()), "error")
			return
		}
	}

	if final == "" {
		final = "Task completed but no final response was generated."
	}

	if req.EnableMemory && m.Memory != nil {
		summary := final
		if len(summary) > 500 {
			summary = summary[:500] + "..."
		}
		today := time.Now().Format("2006-01-02")
		line := fmt.Sprintf("Task: %s\nResult: %s", req.Task, summary)
		if err := m.Memory.AppendDailyNote(ctx, taskID, models.ScopeGlobal, today, line); err != nil {
			m.Logger.Warn("subagent daily note append failed", "task_id", taskID, "error", err)
		}
	}

	m.announce(taskID, label, req, final, "ok")
}

// runLoop drives the ordinary LLM tool-calling loop for non-Claude-Code
// templates: build the system prompt (with memory context, if enabled),
// then alternate model calls and tool execution until the model stops
// requesting tools or tmpl.MaxIterations is reached.
func (m *Manager) runLoop(ctx context.Context, taskID, _ string, req SpawnRequest, tmpl Template, registry *agent.Registry, callCtx agent.CallContext) (string, error) {
	var memoryContext string
	if req.EnableMemory && m.Memory != nil {
		memoryContext, _ = m.Memory.ComposeForPrompt(ctx, models.ScopeGlobal, taskID, memory.DefaultThresholds())
	}

	systemPrompt := promptFor(tmpl.Prompt, req.Task, m.Workspace)
	if memoryContext != "" {
		systemPrompt += "\n\n## Agent Memory\n\n" + memoryContext
	}

	messages := []models.Message{
		{Role: models.RoleUser, Content: req.Task},
	}

	provider, ok := m.Providers.Get(m.Model)
	if !ok {
		return "", fmt.Errorf("no LLM provider configured for subagents")
	}

	maxIter := tmpl.MaxIterations
	if maxIter <= 0 {
		maxIter = 15
	}

	var final string
	for i := 0; i < maxIter; i++ {
		resp, err := provider.Chat(ctx, providers.ChatRequest{
			Messages: append([]models.Message{{Role: models.RoleSystem, Content: systemPrompt}}, messages...),
			Tools:    registry.GetDefinitions(),
			Model:    providers.ModelName(m.Model),
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			break
		}

		messages = append(messages, models.Message{Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result := registry.Execute(ctx, callCtx, call.Name, call.Arguments)
			messages = append(messages, models.Message{Role: models.RoleTool, Content: result, ToolCallID: call.ID})
		}
	}

	return final, nil
}

func (m *Manager) announce(taskID, label string, req SpawnRequest, result, status string) {
	statusText := "completed successfully"
	if status != "ok" {
		statusText = "failed"
	}

	content := fmt.Sprintf(
		"[Subagent '%s' %s]\n\nTask: %s\n\nResult:\n%s\n\nSummarize this naturally for the user. Keep it brief (1-2 sentences). Do not mention technical details like \"subagent\" or task IDs.",
		label, statusText, req.Task, result,
	)

	m.Bus.PublishInbound(models.InboundMessage{
		Channel: models.SystemChannel,
		ChatID:  req.Origin.key(),
		Content: content,
	})
	m.Logger.Debug("subagent announced result", "task_id", taskID, "status", status)
}

func truncateLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
