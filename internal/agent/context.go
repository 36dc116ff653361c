package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/nanobot-run/nanobot/internal/memory"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// TokenBudgets mirrors config.TokenBudgets without importing config
// (spec §4.6 defaults identity 500, bootstrap 1500, memory 2000, skills
// 500, total 5000).
type TokenBudgets struct {
	Identity, Bootstrap, Memory, Skills, Total int
}

// DefaultTokenBudgets returns the spec-mandated defaults.
func DefaultTokenBudgets() TokenBudgets {
	return TokenBudgets{Identity: 500, Bootstrap: 1500, Memory: 2000, Skills: 500, Total: 5000}
}

// sectionSeparator joins prompt sections (spec §4.6).
const sectionSeparator = "\n\n---\n\n"

// Skill is a catalogued capability the context builder may surface in the
// skills section (spec §4.6 "Skills catalogue").
type Skill struct {
	Name        string
	Summary     string
	Always      bool
	Keywords    []string
	Satisfied   bool // declared CLI/env requirements are satisfied
}

// IdentityStore resolves the workspace-scoped identity row, priority (a) in
// spec §4.6.
type IdentityStore interface {
	GetIdentity(ctx context.Context, workspace string) (string, bool, error)
}

const defaultIdentity = "You are nanobot, a personal AI assistant."

// ContextBuilder assembles the system prompt under a token budget
// (spec §4.6).
type ContextBuilder struct {
	Workspace     string
	Budgets       TokenBudgets
	Identities    IdentityStore
	Memory        memory.Store
	Skills        []Skill
	MirrorDefault int
}

// BuildSystemPrompt concatenates identity, bootstrap files, memory and
// skills sections, each truncated to its own cap, then truncated overall to
// Budgets.Total.
func (b *ContextBuilder) BuildSystemPrompt(ctx context.Context, scope, agentID, channel, chatID, currentMessage string, mirrorAttackLevel int) (string, error) {
	sections := make([]string, 0, 5)

	identity, err := b.identitySection(ctx)
	if err != nil {
		return "", err
	}
	sections = append(sections, truncateToBudget(identity, b.Budgets.Identity))

	if bootstrap := b.bootstrapSection(); bootstrap != "" {
		sections = append(sections, truncateToBudget(bootstrap, b.Budgets.Bootstrap))
	}

	if b.Memory != nil {
		body, err := b.Memory.ComposeForPrompt(ctx, scope, agentID, memory.DefaultThresholds())
		if err != nil {
			return "", fmt.Errorf("compose memory section: %w", err)
		}
		if strings.TrimSpace(body) != "" {
			sections = append(sections, truncateToBudget("# Memory\n\n"+body, b.Budgets.Memory))
		}
	}

	if always := b.alwaysSkillsSection(); always != "" {
		sections = append(sections, truncateToBudget(always, b.Budgets.Skills))
	}

	if catalogue := b.skillsCatalogueSection(currentMessage); catalogue != "" {
		sections = append(sections, truncateToBudget(catalogue, b.Budgets.Skills))
	}

	if mirrorAttackLevel > 0 {
		sections = append(sections, mirrorInjection(mirrorAttackLevel))
	}

	prompt := strings.Join(sections, sectionSeparator)
	prompt = truncateToBudget(prompt, b.Budgets.Total)
	prompt += fmt.Sprintf("\n\n[session %s:%s]", channel, chatID)
	return prompt, nil
}

func (b *ContextBuilder) identitySection(ctx context.Context) (string, error) {
	var identity string
	if b.Identities != nil {
		if dbIdentity, ok, err := b.Identities.GetIdentity(ctx, b.Workspace); err != nil {
			return "", fmt.Errorf("load identity row: %w", err)
		} else if ok {
			identity = dbIdentity
		}
	}
	if identity == "" {
		if data, err := os.ReadFile(filepath.Join(b.Workspace, "IDENTITY.md")); err == nil {
			identity = string(data)
		}
	}
	if identity == "" {
		identity = defaultIdentity
	}
	suffix := fmt.Sprintf("\n\nCurrent time: %s. Workspace: %s.", time.Now().Format(time.RFC3339), b.Workspace)
	return identity + suffix, nil
}

var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md"}

func (b *ContextBuilder) bootstrapSection() string {
	var parts []string
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.Workspace, name))
		if err != nil {
			continue
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n")
}

func (b *ContextBuilder) alwaysSkillsSection() string {
	var lines []string
	for _, s := range b.Skills {
		if s.Always && s.Satisfied {
			lines = append(lines, "- "+s.Name+": "+s.Summary)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "# Always-on skills\n\n" + strings.Join(lines, "\n")
}

// skillsCatalogueSection renders skills matched by keyword against the
// current message (dynamic mode) when a message is supplied, otherwise a
// static level-0 summary listing every skill (spec §4.6). A message that
// matches no skill's keywords also gets the full static listing.
func (b *ContextBuilder) skillsCatalogueSection(currentMessage string) string {
	var candidates []Skill
	if currentMessage != "" {
		lower := strings.ToLower(currentMessage)
		for _, s := range b.Skills {
			for _, kw := range s.Keywords {
				if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
					candidates = append(candidates, s)
					break
				}
			}
		}
	}
	if len(candidates) == 0 {
		candidates = b.Skills
	}
	if len(candidates) == 0 {
		return ""
	}
	lines := make([]string, 0, len(candidates))
	for _, s := range candidates {
		mark := "✗"
		if s.Satisfied {
			mark = "✓"
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", mark, s.Name, s.Summary))
	}
	return "# Skills\n\n" + strings.Join(lines, "\n")
}

// mirrorInjection renders the mirror-channel attack-level prompt injection
// (SPEC_FULL "Mirror auxiliary tables", grounded on context.py's
// mirror_attack_level handling).
func mirrorInjection(level int) string {
	return fmt.Sprintf("# Mirror mode\n\nDebate attack level: %d. Argue your assigned position forcefully but stay in character.", level)
}

// estimateTokens approximates token count: Chinese characters count as
// 1/1.5 token each, non-Chinese as 1/4 each (spec §4.6).
func estimateTokens(s string) float64 {
	total := 0.0
	for _, r := range s {
		if isChinese(r) {
			total += 1.0 / 1.5
		} else {
			total += 1.0 / 4.0
		}
	}
	return total
}

func isChinese(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// truncateToBudget shrinks s until its estimated token count fits within
// cap. cap <= 0 means unlimited.
func truncateToBudget(s string, cap int) string {
	if cap <= 0 || estimateTokens(s) <= float64(cap) {
		return s
	}
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if estimateTokens(string(runes[:mid])) <= float64(cap) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// BuildMessages constructs the final provider-facing message list as
// [system] + history + [user], encoding any image media as data URLs
// alongside the text in the user content (spec §4.6).
func BuildMessages(systemPrompt string, history []models.Message, currentMessage string, media []string) []models.Message {
	out := make([]models.Message, 0, len(history)+2)
	out = append(out, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	out = append(out, history...)

	content := currentMessage
	if len(media) > 0 {
		var encoded []string
		for _, path := range media {
			if url, err := encodeImageDataURL(path); err == nil {
				encoded = append(encoded, url)
			}
		}
		if len(encoded) > 0 {
			content = content + "\n\n" + strings.Join(encoded, "\n")
		}
	}
	out = append(out, models.Message{Role: models.RoleUser, Content: content})
	return out
}

func encodeImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := mimeForExt(filepath.Ext(path))
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
