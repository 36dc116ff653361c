package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/providers"
	"github.com/nanobot-run/nanobot/internal/sessions"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// progressKey is the inbound-message metadata key carrying the best-effort
// progress callback (spec §4.7 "Progress events").
const progressKey = "progress"

// ProgressFunc receives thinking/tool_start/tool_end events. Errors are
// swallowed by the caller, matching spec §4.7's "callback errors are
// swallowed".
type ProgressFunc func(event string, data map[string]any)

// McpHotReloader lets the loop ask C5 to reload when it observes a stale
// run-context, and whether lazy registration should be attempted this turn
// (spec §4.5, §4.7 step 3).
type McpHotReloader interface {
	NeedsReload() bool
	ReloadMcpConfig(ctx context.Context) error
	RegisterLazy(ctx context.Context) error
}

// StatefulTool receives the call-site context before each turn so replies
// and spawned work route back correctly (spec §4.7 step 2).
type StatefulTool interface {
	SetCallContext(CallContext)
}

// Loop is the Agent Loop (C7): one goroutine consuming inbound messages,
// building prompt context, driving the provider/tool-dispatch cycle, and
// persisting + replying (spec §4.7).
type Loop struct {
	Bus           *bus.Bus
	Sessions      sessions.Store
	Registry      *Registry
	Context       *ContextBuilder
	Providers     *providers.Registry
	Model         string
	MaxIterations int
	// MaxExecutionTime bounds total loop wall-clock time; zero means no
	// limit (spec §9 open question iii).
	MaxExecutionTime time.Duration
	MessageTimeout   time.Duration
	LoopWindow       int // spec §9 open question (i); default 1
	Logger           *slog.Logger
	StatefulTools    []StatefulTool
	MCP              McpHotReloader
}

// Run consumes inbound messages until ctx is cancelled. Each suspension
// point (the 1s-bounded queue wait) lets shutdown interleave cleanly
// (spec §5 "Suspension points").
func (l *Loop) Run(ctx context.Context) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		msg, ok := l.Bus.ConsumeInbound(waitCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		l.handle(ctx, msg)
	}
}

func (l *Loop) handle(parent context.Context, msg models.InboundMessage) {
	timeout := l.MessageTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	out, err := l.processMessage(ctx, msg)
	if ctx.Err() == context.DeadlineExceeded {
		l.Logger.Warn("message timeout", "channel", msg.Channel, "chat_id", msg.ChatID)
		l.Bus.PublishOutbound(models.OutboundMessage{
			Channel: replyChannel(msg), ChatID: replyChatID(msg),
			Content: "Sorry, that took too long to process. Please try again.",
		})
		return
	}
	if err != nil {
		l.Logger.Error("process message failed", "error", err, "channel", msg.Channel, "chat_id", msg.ChatID)
		l.Bus.PublishOutbound(models.OutboundMessage{
			Channel: replyChannel(msg), ChatID: replyChatID(msg),
			Content: "Sorry, something went wrong handling that.",
		})
		return
	}
	l.Bus.PublishOutbound(out)
}

func replyChannel(msg models.InboundMessage) string {
	if msg.Channel == models.SystemChannel {
		ch, _, _ := decodeSystemDestination(msg.ChatID)
		return ch
	}
	return msg.Channel
}

func replyChatID(msg models.InboundMessage) string {
	if msg.Channel == models.SystemChannel {
		_, chatID, _ := decodeSystemDestination(msg.ChatID)
		return chatID
	}
	return msg.ChatID
}

// decodeSystemDestination splits a "<channel>:<chatId>" encoded destination
// (spec §3 "the special channel value system").
func decodeSystemDestination(encoded string) (channel, chatID string, ok bool) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return "", encoded, false
	}
	return parts[0], parts[1], true
}

// ProcessDirect is the non-bus convenience entrypoint (SPEC_FULL
// "process_direct"): it processes one message and returns the reply
// content instead of publishing it. Neither the CLI nor the scheduler
// calls it; both go through the bus.
func (l *Loop) ProcessDirect(ctx context.Context, channel, chatID, content string) (string, error) {
	out, err := l.processMessage(ctx, models.InboundMessage{Channel: channel, ChatID: chatID, Content: content})
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

func (l *Loop) processMessage(ctx context.Context, msg models.InboundMessage) (models.OutboundMessage, error) {
	sessionKey := msg.SessionKey()
	replyChannel, replyChatID := msg.Channel, msg.ChatID
	if msg.Channel == models.SystemChannel {
		if ch, id, ok := decodeSystemDestination(msg.ChatID); ok {
			replyChannel, replyChatID = ch, id
		}
	}

	callCtx := CallContext{Channel: replyChannel, ChatID: replyChatID}
	for _, st := range l.StatefulTools {
		st.SetCallContext(callCtx)
	}

	if l.MCP != nil {
		if l.MCP.NeedsReload() {
			if err := l.MCP.ReloadMcpConfig(ctx); err != nil {
				l.Logger.Warn("mcp hot-reload failed", "error", err)
			}
		} else if err := l.MCP.RegisterLazy(ctx); err != nil {
			l.Logger.Debug("mcp lazy registration skipped", "error", err)
		}
	}

	session, err := l.Sessions.GetOrCreate(ctx, sessionKey)
	if err != nil {
		return models.OutboundMessage{}, fmt.Errorf("get or create session: %w", err)
	}

	progress, _ := msg.Metadata[progressKey].(ProgressFunc)
	emit := func(event string, data map[string]any) {
		if progress == nil {
			return
		}
		defer func() { _ = recover() }()
		progress(event, data)
	}

	scope := models.ScopeGlobal
	agentID := ""
	systemPrompt, err := l.Context.BuildSystemPrompt(ctx, scope, agentID, replyChannel, replyChatID, msg.Content, session.Metadata.MirrorAttackLevel)
	if err != nil {
		return models.OutboundMessage{}, fmt.Errorf("build system prompt: %w", err)
	}

	provider, ok := l.Providers.Get(l.Model)
	if !ok {
		return models.OutboundMessage{}, fmt.Errorf("no provider available for model %q", l.Model)
	}

	maxIterations := l.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 40
	}
	loopWindow := l.LoopWindow
	if loopWindow <= 0 {
		loopWindow = 1
	}

	var deadline <-chan time.Time
	if l.MaxExecutionTime > 0 {
		timer := time.NewTimer(l.MaxExecutionTime)
		defer timer.Stop()
		deadline = timer.C
	}

	workingMessages := BuildMessages(systemPrompt, session.Messages, msg.Content, msg.Media)
	var finalContent string
	var toolSteps []models.ToolStep
	var assistantToolCalls []models.ToolCall
	var usage models.Usage
	var recentSteps []stepSignature
	loopDetected := false

iterations:
	for i := 0; i < maxIterations; i++ {
		select {
		case <-deadline:
			break iterations
		default:
		}

		emit("thinking", nil)
		resp, err := provider.Chat(ctx, providers.ChatRequest{
			Messages: workingMessages,
			Tools:    l.Registry.GetDefinitions(),
			Model:    providers.ModelName(l.Model),
		})
		if err != nil {
			finalContent = fmt.Sprintf("I hit an error talking to the model: %s", err.Error())
			break
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		assistantToolCalls = resp.ToolCalls
		workingMessages = append(workingMessages, models.Message{Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			sig := stepSignature{name: call.Name, args: canonicalJSON(call.Arguments)}
			if matchesRecent(recentSteps, sig, loopWindow) {
				loopDetected = true
				break
			}
			recentSteps = append(recentSteps, sig)

			emit("tool_start", map[string]any{"name": call.Name, "args": string(call.Arguments)})
			result := l.Registry.Execute(ctx, callCtx, call.Name, call.Arguments)
			emit("tool_end", map[string]any{"name": call.Name, "args": string(call.Arguments), "result": truncate(result, 2000)})

			toolSteps = append(toolSteps, models.ToolStep{Name: call.Name, Arguments: string(call.Arguments), Result: result})
			workingMessages = append(workingMessages, models.Message{Role: models.RoleTool, Content: result, ToolCallID: call.ID})
		}
		if loopDetected {
			break
		}
	}

	if finalContent == "" {
		finalContent = l.synthesize(ctx, provider, workingMessages, assistantToolCalls)
	}

	now := time.Now()
	session.Messages = append(session.Messages,
		models.Message{Sequence: session.NextSequence(), Role: models.RoleUser, Content: msg.Content, CreatedAt: now},
	)
	session.Messages = append(session.Messages,
		models.Message{
			Sequence: session.NextSequence(), Role: models.RoleAssistant, Content: finalContent,
			ToolSteps: toolSteps, Usage: &usage, CreatedAt: now,
		},
	)
	if err := l.Sessions.Save(ctx, session); err != nil {
		return models.OutboundMessage{}, fmt.Errorf("save session: %w", err)
	}

	return models.OutboundMessage{Channel: replyChannel, ChatID: replyChatID, Content: finalContent}, nil
}

// synthesize issues the tool-less synthesis call when the loop ends without
// text content, falling back to a summary of the tools that ran
// (spec §4.7 step 6).
func (l *Loop) synthesize(ctx context.Context, provider providers.Provider, messages []models.Message, lastCalls []models.ToolCall) string {
	resp, err := provider.Chat(ctx, providers.ChatRequest{Messages: messages, Tools: nil, Model: providers.ModelName(l.Model)})
	if err == nil && strings.TrimSpace(resp.Content) != "" {
		return resp.Content
	}
	if len(lastCalls) == 0 {
		return "Done."
	}
	names := make([]string, 0, len(lastCalls))
	for _, c := range lastCalls {
		names = append(names, c.Name)
	}
	return "I ran: " + strings.Join(names, ", ")
}

type stepSignature struct {
	name string
	args string
}

// matchesRecent implements the spec §9 open-question (i) loop detector:
// by default it compares only against the immediately previous step
// (window=1); a larger window is an intentional generalization knob.
func matchesRecent(recent []stepSignature, sig stepSignature, window int) bool {
	n := len(recent)
	start := n - window
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		if recent[i] == sig {
			return true
		}
	}
	return false
}

// canonicalJSON reorders object keys so identical argument sets compare
// equal regardless of field order (spec §4.7 "canonical-JSON of args").
func canonicalJSON(raw json.RawMessage) string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	normalized := canonicalize(value)
	out, err := json.Marshal(normalized)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func canonicalize(v any) any {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]canonicalPair, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, canonicalPair{Key: k, Value: canonicalize(value[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return value
	}
}

type canonicalPair struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
