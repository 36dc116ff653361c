// Package providers implements the LLM provider contract (spec §6):
// chat(messages, tools?, model?, maxTokens, temperature) -> {content,
// toolCalls, finishReason, usage}. Concrete providers wrap the Anthropic
// and OpenAI-compatible SDKs; the agent loop never parses content for tool
// calls, only toolCalls count.
package providers

import (
	"context"
	"strings"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// ChatRequest is the provider-facing request shape.
type ChatRequest struct {
	Messages    []models.Message
	Tools       []models.ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the provider-facing response shape. Arguments inside
// ToolCalls always arrive normalized to a JSON object by the provider layer,
// even if the underlying SDK handed back a JSON string (spec §6).
type ChatResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        models.Usage
}

// Provider is the contract every LLM backend implements.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Registry selects a Provider by name (e.g. the prefix of a model id like
// "anthropic/claude-sonnet-4" or "openai/gpt-4o").
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry creates a provider registry with no members.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the named provider.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
	if r.fallback == "" {
		r.fallback = name
	}
}

// Get resolves a provider name, falling back to the first-registered
// provider if name is empty. name is usually a full model id like
// "anthropic/claude-sonnet-4"; if there's no exact match under that whole
// string, Get retries with just the part before the first "/" (the
// provider prefix), since providers are registered by that bare name.
func (r *Registry) Get(name string) (Provider, bool) {
	if name == "" {
		name = r.fallback
	}
	if p, ok := r.providers[name]; ok {
		return p, true
	}
	if prefix, _, found := strings.Cut(name, "/"); found {
		p, ok := r.providers[prefix]
		return p, ok
	}
	return nil, false
}

// ModelName strips a model id's provider prefix ("anthropic/claude-sonnet-4"
// -> "claude-sonnet-4"), since providers expect the bare model name, not the
// registry-routing id.
func ModelName(id string) string {
	if _, model, found := strings.Cut(id, "/"); found {
		return model
	}
	return id
}
