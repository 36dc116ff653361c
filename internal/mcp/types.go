// Package mcp implements the MCP (Model-Context-Protocol) tool loader
// (C5, spec §4.5): connects to MCP servers over stdio/HTTP/SSE, exposes
// their tools through the Tool Registry (C4), lazily and with hot-reload.
package mcp

import (
	"context"
	"sync"
	"time"
)

// Transport selects how a server's session is established.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportHTTP            Transport = "http"
	TransportSSE             Transport = "sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

// ServerConfig declares one configured MCP server (spec §4.5).
type ServerConfig struct {
	ID        string
	Name      string
	Enabled   bool
	Transport Transport
	Command   string
	Args      []string
	URL       string
}

// State is the per-server connection state machine (spec §4.5).
type State string

const (
	StateDisabled   State = "disabled"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// RemoteTool is one tool description returned by a server's list_tools call.
type RemoteTool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Session is a live connection to one MCP server.
type Session interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Dialer establishes a Session for a server config.
type Dialer func(ctx context.Context, cfg ServerConfig) (Session, error)

// serverState tracks the runtime state of one configured server, including
// its cooldown window after a failed connect (spec §4.5 "300-second
// cooldown").
type serverState struct {
	mu          sync.Mutex
	cfg         ServerConfig
	state       State
	session     Session
	failedAt    time.Time
	cooldown    time.Duration
	connectOnce sync.Once
}

func (s *serverState) inCooldown(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFailed && now.Sub(s.failedAt) < s.cooldown
}
