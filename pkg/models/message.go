package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a persisted session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// SystemChannel is the synthetic channel used for self-injected messages
// produced by subagents and the scheduler to re-enter the agent loop.
const SystemChannel = "system"

// InboundMessage arrives from a channel adapter (or is self-injected by C8/C9).
type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
	Media    []string
	Metadata map[string]any
}

// SessionKey returns the key this message's reply belongs to. For the
// synthetic "system" channel, ChatID already carries the encoded
// "<channel>:<chatId>" origin and is returned unchanged.
func (m InboundMessage) SessionKey() string {
	if m.Channel == SystemChannel {
		return m.ChatID
	}
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is delivered to a channel adapter for sending to the user.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]any
}

// ToolDefinition is the OpenAI-compatible function schema the LLM provider
// contract expects for each registered tool (spec §6).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a structured request from the LLM naming a tool and its
// JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolStep is a persisted record of one tool invocation within a turn.
type ToolStep struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
}

// Usage carries per-turn token accounting reported by the LLM provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is one entry of a session's append-only message log.
type Message struct {
	Sequence   int        `json:"sequence"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolSteps  []ToolStep `json:"tool_steps,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SessionMetadata carries free-form per-session state: title, status,
// mirror/debate attack level, role-specific flags.
type SessionMetadata struct {
	Title             string         `json:"title,omitempty"`
	Status            string         `json:"status,omitempty"`
	MirrorAttackLevel int            `json:"mirror_attack_level,omitempty"`
	Flags             map[string]any `json:"flags,omitempty"`
}

// Session is a durable conversation thread identified by SessionKey
// ("<channel>:<chatId>").
type Session struct {
	Key       string          `json:"key"`
	Metadata  SessionMetadata `json:"metadata"`
	Messages  []Message       `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NextSequence returns the dense 1-based sequence the next appended
// message should carry.
func (s *Session) NextSequence() int {
	return len(s.Messages) + 1
}
