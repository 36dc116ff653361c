package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// ShieldedTool wraps a tool whose execution should outlive the per-message
// cancellation — the Claude-Code delegation pattern named in spec §5/§9:
// shield the inner work from the outer message timeout, and if the outer
// context ends before the inner work finishes, keep running and publish the
// late result as a synthetic "system" inbound message instead of losing it.
type ShieldedTool struct {
	Inner   Tool
	Bus     *bus.Bus
	Logger  *slog.Logger
	// Concurrency bounds in-flight shielded calls (spec §5 "Claude-Code
	// concurrency cap (default 3)").
	Concurrency chan struct{}
}

// NewShieldedTool wraps inner with a concurrency cap.
func NewShieldedTool(inner Tool, b *bus.Bus, logger *slog.Logger, maxConcurrent int) *ShieldedTool {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &ShieldedTool{Inner: inner, Bus: b, Logger: logger, Concurrency: make(chan struct{}, maxConcurrent)}
}

func (s *ShieldedTool) Name() string        { return s.Inner.Name() }
func (s *ShieldedTool) Description() string { return s.Inner.Description() }
func (s *ShieldedTool) Schema() map[string]any { return s.Inner.Schema() }
func (s *ShieldedTool) Kind() Kind          { return KindClaudeCodeDelegate }

// Run shields the inner call: it runs on a detached context so an outer
// message-timeout cancellation does not abort it. If the outer ctx ends
// first, Run returns a "still running" placeholder immediately and the
// inner work, once it completes, is delivered via a system announce
// instead of the original return path.
func (s *ShieldedTool) Run(ctx context.Context, callCtx CallContext, args json.RawMessage) (string, error) {
	select {
	case s.Concurrency <- struct{}{}:
	case <-ctx.Done():
		return "Error: delegation concurrency limit reached", nil
	}

	shielded := context.WithoutCancel(ctx)
	resultCh := make(chan string, 1)
	go func() {
		defer func() { <-s.Concurrency }()
		out, err := s.Inner.Run(shielded, callCtx, args)
		if err != nil {
			out = fmt.Sprintf("Error executing %s: %s", s.Inner.Name(), err.Error())
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		return out, nil
	case <-ctx.Done():
		go s.deliverLate(callCtx, resultCh)
		return fmt.Sprintf("%s is still running in the background; I'll let you know when it's done.", s.Inner.Name()), nil
	}
}

// deliverLate waits for the shielded call to finish after the outer
// message already returned, then re-enters the agent loop with a system
// inbound message carrying the late result (spec §5 "Shielded work").
func (s *ShieldedTool) deliverLate(callCtx CallContext, resultCh <-chan string) {
	result := <-resultCh
	s.Bus.PublishInbound(models.InboundMessage{
		Channel: models.SystemChannel,
		ChatID:  callCtx.Channel + ":" + callCtx.ChatID,
		Content: fmt.Sprintf("[%s completed] %s", s.Inner.Name(), result),
	})
}
