// Package maintenance implements Auto-memory & maintenance (C10, spec
// §4.10): periodic extraction of long-term memory from recent
// conversation, and summarization/daily-fold upkeep of the memory store.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nanobot-run/nanobot/internal/memory"
	"github.com/nanobot-run/nanobot/internal/providers"
	"github.com/nanobot-run/nanobot/internal/sessions"
	"github.com/nanobot-run/nanobot/pkg/models"
)

const autoIntegratePrompt = `You are a memory-extraction assistant. From the conversation below, extract information worth remembering long-term.

Keep: user preferences and habits, important decisions and commitments, project status and progress, key facts and knowledge, important people and relationships.
Ignore: greetings, one-off Q&A, throwaway task requests, small talk.

Output one fact per line as "- <fact>". If there is nothing worth keeping, output exactly: none`

// AutoMemoryIntegrator extracts long-term memory from recent chat history
// (spec §4.10 "Auto-integration job").
type AutoMemoryIntegrator struct {
	Sessions         sessions.Store
	Memory           memory.Store
	Providers        *providers.Registry
	Model            string
	Logger           *slog.Logger
	LookbackMinutes  int
	MaxMessages      int
}

// NewAutoMemoryIntegrator builds the integrator with the spec's defaults
// (lookback 60 min, max 100 messages) when zero values are passed.
func NewAutoMemoryIntegrator(sess sessions.Store, mem memory.Store, provReg *providers.Registry, model string, logger *slog.Logger, lookbackMinutes, maxMessages int) *AutoMemoryIntegrator {
	if lookbackMinutes <= 0 {
		lookbackMinutes = 60
	}
	if maxMessages <= 0 {
		maxMessages = 100
	}
	return &AutoMemoryIntegrator{
		Sessions: sess, Memory: mem, Providers: provReg, Model: model, Logger: logger,
		LookbackMinutes: lookbackMinutes, MaxMessages: maxMessages,
	}
}

// IntegrateNow runs one extraction pass (spec §4.10 "integrate_now()").
func (a *AutoMemoryIntegrator) IntegrateNow(ctx context.Context) (string, error) {
	since := time.Now().Add(-time.Duration(a.LookbackMinutes) * time.Minute)

	history, count, err := a.recentHistory(ctx, since)
	if err != nil {
		return "", fmt.Errorf("gather recent history: %w", err)
	}
	if count == 0 {
		return "no new messages to integrate", nil
	}

	provider, ok := a.Providers.Get(a.Model)
	if !ok {
		return "", fmt.Errorf("no LLM provider configured for auto memory integration")
	}
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: autoIntegratePrompt},
			{Role: models.RoleUser, Content: history},
		},
		Model:     providers.ModelName(a.Model),
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("llm extraction: %w", err)
	}

	extracted := strings.TrimSpace(resp.Content)
	if extracted == "" || extracted == "none" {
		return fmt.Sprintf("processed %d messages, nothing worth remembering", count), nil
	}

	facts := parseFacts(extracted)
	if len(facts) == 0 {
		return fmt.Sprintf("processed %d messages, could not parse extraction", count), nil
	}

	written, err := a.writeWithDedup(ctx, facts)
	if err != nil {
		return "", fmt.Errorf("write extracted memories: %w", err)
	}

	return fmt.Sprintf("processed %d messages, extracted %d facts, wrote %d new", count, len(facts), written), nil
}

// recentHistory gathers up to MaxMessages user/assistant messages created
// since `since`, across all non-subagent sessions (spec §4.10 "≤100
// messages excluding subagent turns").
func (a *AutoMemoryIntegrator) recentHistory(ctx context.Context, since time.Time) (string, int, error) {
	keys, err := a.Sessions.ListSessions(ctx)
	if err != nil {
		return "", 0, err
	}

	var lines []string
	count := 0
	for _, key := range keys {
		if strings.HasPrefix(key, "subagent:") {
			continue
		}
		msgs, err := a.Sessions.GetMessages(ctx, key, a.MaxMessages, nil)
		if err != nil {
			a.Logger.Warn("auto memory: list messages failed", "session", key, "error", err)
			continue
		}
		for _, m := range msgs {
			if count >= a.MaxMessages {
				break
			}
			if m.CreatedAt.Before(since) {
				continue
			}
			if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
				continue
			}
			content := m.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			lines = append(lines, fmt.Sprintf("%s: %s", m.Role, content))
			count++
		}
		if count >= a.MaxMessages {
			break
		}
	}
	return strings.Join(lines, "\n"), count, nil
}

func parseFacts(text string) []string {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if content != "" && content != "无" {
			facts = append(facts, content)
		}
	}
	return facts
}

// writeWithDedup appends facts not already substring-contained in an
// existing global memory entry (spec §4.10 "dedup by exact substring
// containment").
func (a *AutoMemoryIntegrator) writeWithDedup(ctx context.Context, facts []string) (int, error) {
	existing, err := a.Memory.GetMemories(ctx, models.ScopeGlobal, "", 0, 0)
	if err != nil {
		return 0, err
	}

	var fresh []models.MemoryEntry
	now := time.Now()
	for _, fact := range facts {
		duplicate := false
		for _, e := range existing {
			if strings.Contains(e.Content, fact) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		fresh = append(fresh, models.MemoryEntry{
			Scope:      models.ScopeGlobal,
			Content:    fact,
			SourceType: "auto_integrate",
			CreatedAt:  now,
		})
	}

	if len(fresh) == 0 {
		return 0, nil
	}
	if err := a.Memory.AppendMemories(ctx, "", models.ScopeGlobal, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
