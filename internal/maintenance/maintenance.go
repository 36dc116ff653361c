package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nanobot-run/nanobot/internal/memory"
	"github.com/nanobot-run/nanobot/internal/providers"
	"github.com/nanobot-run/nanobot/pkg/models"
)

const memorySummarizePrompt = `You are a memory-curation assistant. Summarize, dedup and merge the following long-term memory entries.

Requirements:
1. Keep every important fact; merge entries that say similar or duplicate things.
2. Output one entry per line as "- <content>".
3. Be concise; avoid redundant phrasing.
4. Output only the merged entries, no extra commentary.`

const dailyExtractPrompt = `You are a memory-extraction assistant. From the following day's notes, extract information worth remembering long-term: user preferences, important decisions, project information, recurring habits.

Ignore: one-off to-dos, same-day meeting schedules, throwaway tasks.

Output one entry per line as "- <content>". If nothing is worth keeping, output nothing.`

// Service runs the two periodic upkeep jobs named in spec §4.10:
// summarization when a partition exceeds its read thresholds, and a daily
// fold of the previous day's daily note into long-term memory around
// 00:05 local time.
type Service struct {
	Memory     memory.Store
	Providers  *providers.Registry
	Model      string
	Logger     *slog.Logger
	Thresholds memory.Thresholds

	mu                sync.Mutex
	lastDailyRunDate  string
	lastSummarizeRun  time.Time
	summarizeInterval time.Duration
}

// NewService builds the maintenance service.
func NewService(mem memory.Store, provReg *providers.Registry, model string, logger *slog.Logger, summarizeInterval time.Duration) *Service {
	if summarizeInterval <= 0 {
		summarizeInterval = time.Hour
	}
	return &Service{
		Memory: mem, Providers: provReg, Model: model, Logger: logger,
		Thresholds:        memory.DefaultThresholds(),
		summarizeInterval: summarizeInterval,
	}
}

// Tick runs the daily-fold check (if it's 00:05-00:0N local and not yet run
// today) and the summarize-if-needed check (if the interval has elapsed),
// per spec §9 open question ii ("track lastDailyRunDate and
// lastSummarizeRun").
func (s *Service) Tick(ctx context.Context, tickPeriod time.Duration) (string, error) {
	now := time.Now()
	var results []string

	if now.Hour() == 0 && now.Minute() >= 5 && now.Minute() < 5+int(tickPeriod/time.Minute)+1 {
		today := now.Format("2006-01-02")
		s.mu.Lock()
		already := s.lastDailyRunDate == today
		s.mu.Unlock()
		if !already {
			msg, err := s.runDailyMerge(ctx)
			if err != nil {
				return "", fmt.Errorf("daily merge: %w", err)
			}
			s.mu.Lock()
			s.lastDailyRunDate = today
			s.mu.Unlock()
			results = append(results, msg)
		}
	}

	s.mu.Lock()
	due := s.lastSummarizeRun.IsZero() || now.Sub(s.lastSummarizeRun) >= s.summarizeInterval
	s.mu.Unlock()
	if due {
		msg, err := s.runSummarizeIfNeeded(ctx)
		if err != nil {
			return "", fmt.Errorf("summarize: %w", err)
		}
		s.mu.Lock()
		s.lastSummarizeRun = now
		s.mu.Unlock()
		results = append(results, msg)
	}

	return strings.Join(results, "; "), nil
}

func (s *Service) runSummarizeIfNeeded(ctx context.Context) (string, error) {
	entries, err := s.Memory.GetMemories(ctx, models.ScopeGlobal, "", 0, 0)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "no global memory to summarize", nil
	}

	totalChars := 0
	for _, e := range entries {
		totalChars += len(e.EntryDate) + len(e.Content) + 20
	}
	if len(entries) <= s.Thresholds.ReadEntries && totalChars <= s.Thresholds.ReadBytes {
		return "memory within limits", nil
	}

	provider, ok := s.Providers.Get(s.Model)
	if !ok {
		return "", fmt.Errorf("no LLM provider configured for memory summarization")
	}

	raw := formatForSummary(entries)
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: memorySummarizePrompt},
			{Role: models.RoleUser, Content: raw},
		},
		Model:     providers.ModelName(s.Model),
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("llm summarize: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "llm returned empty summary, skipped", nil
	}

	merged := parseFacts(summary)
	if len(merged) == 0 {
		return "could not parse summary, skipped", nil
	}

	replacement := make([]models.MemoryEntry, 0, len(merged))
	now := time.Now()
	for _, content := range merged {
		replacement = append(replacement, models.MemoryEntry{Scope: models.ScopeGlobal, Content: content, CreatedAt: now, SourceType: "summarize"})
	}
	if err := s.Memory.ReplaceMemories(ctx, "", models.ScopeGlobal, replacement); err != nil {
		return "", fmt.Errorf("replace memories: %w", err)
	}
	return fmt.Sprintf("summarized %d -> %d entries", len(entries), len(replacement)), nil
}

func (s *Service) runDailyMerge(ctx context.Context) (string, error) {
	yesterday := time.Now().Add(-24 * time.Hour).Format("2006-01-02")
	note, err := s.Memory.GetDailyNote(ctx, "", models.ScopeGlobal, yesterday)
	if err != nil {
		return "", err
	}
	if note == nil || strings.TrimSpace(note.Content) == "" {
		return "no daily note to fold", nil
	}
	if note.Processed {
		return "daily note already folded", nil
	}

	provider, ok := s.Providers.Get(s.Model)
	if !ok {
		return "", fmt.Errorf("no LLM provider configured for daily merge")
	}
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: dailyExtractPrompt},
			{Role: models.RoleUser, Content: note.Content},
		},
		Model:     providers.ModelName(s.Model),
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("llm daily extract: %w", err)
	}
	extracted := strings.TrimSpace(resp.Content)
	facts := parseFacts(extracted)
	if len(facts) == 0 {
		return "no facts extracted from daily note", nil
	}

	entries := make([]models.MemoryEntry, 0, len(facts))
	now := time.Now()
	for _, f := range facts {
		entries = append(entries, models.MemoryEntry{Scope: models.ScopeGlobal, Content: f, EntryDate: yesterday, CreatedAt: now, SourceType: "daily_fold"})
	}
	if err := s.Memory.AppendMemories(ctx, "", models.ScopeGlobal, entries); err != nil {
		return "", fmt.Errorf("append folded daily entries: %w", err)
	}
	if note.ID != 0 {
		if err := s.Memory.MarkDailyNoteProcessed(ctx, note.ID); err != nil {
			s.Logger.Warn("mark daily note processed failed", "date", yesterday, "error", err)
		}
	}
	return fmt.Sprintf("folded %d entries from %s", len(entries), yesterday), nil
}

func formatForSummary(entries []models.MemoryEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s %s] %s\n", e.EntryDate, e.EntryTime, e.Content)
	}
	return b.String()
}
