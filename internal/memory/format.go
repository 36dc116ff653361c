package memory

import (
	"strings"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// formatEntries renders entries to the newline-delimited wire format that
// parseMemoryEntries reads back (spec §8 round-trip invariant). The
// summarization job does not use it; it builds its own prompt text.
// One entry per line: "<date> <time>|<sourceType>|<sourceId>|<content>",
// with literal '|' and newlines in content escaped.
func formatEntries(entries []models.MemoryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, strings.Join([]string{
			e.EntryDate + " " + e.EntryTime,
			escape(e.SourceType),
			escape(e.SourceID),
			escape(e.Content),
		}, "|"))
	}
	return strings.Join(lines, "\n")
}

// parseMemoryEntries is the inverse of formatEntries, reattaching the
// supplied scope/agentId (which are not part of the wire format — they are
// the partition the caller is already operating on).
func parseMemoryEntries(body, agentID, scope string) []models.MemoryEntry {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	lines := strings.Split(body, "\n")
	out := make([]models.MemoryEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		dateTime := strings.SplitN(parts[0], " ", 2)
		entry := models.MemoryEntry{
			AgentID:    agentID,
			Scope:      scope,
			SourceType: unescape(parts[1]),
			SourceID:   unescape(parts[2]),
			Content:    unescape(parts[3]),
		}
		if len(dateTime) == 2 {
			entry.EntryDate, entry.EntryTime = dateTime[0], dateTime[1]
		} else if len(dateTime) == 1 {
			entry.EntryDate = dateTime[0]
		}
		out = append(out, entry)
	}
	return out
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\p")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func unescape(s string) string {
	// One left-to-right pass, so an escaped backslash is never re-read as
	// the start of "\n" or "\p".
	return strings.NewReplacer("\\\\", "\\", "\\p", "|", "\\n", "\n").Replace(s)
}
