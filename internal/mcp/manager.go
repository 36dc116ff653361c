package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nanobot-run/nanobot/internal/agent"
)

// Manager is the MCP Loader (C5). It owns one serverState per configured
// server, lazily dials sessions, registers one agent.Tool adapter per
// remote tool, and tracks run-context affinity so the agent loop can
// trigger a hot-reload when it detects MCP sessions bound to a stale
// context (spec §4.5, §9 "Coroutine/run-context affinity").
type Manager struct {
	mu       sync.Mutex
	servers  map[string]*serverState
	order    []string // server IDs in the order their sessions were created
	registry *agent.Registry
	dial     Dialer
	logger   *slog.Logger
	cooldown time.Duration

	runContextID string // identity of the run-context sessions were created under
	currentID    string // identity of the run-context the loop currently observes
}

// NewManager builds a loader for the given server configs.
func NewManager(configs []ServerConfig, registry *agent.Registry, dial Dialer, logger *slog.Logger, cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	m := &Manager{servers: make(map[string]*serverState), registry: registry, dial: dial, logger: logger, cooldown: cooldown}
	for _, cfg := range configs {
		state := StateDisabled
		if cfg.Enabled {
			state = StateDisabled // remains Disabled until first connect attempt (lazy)
		}
		m.servers[cfg.ID] = &serverState{cfg: cfg, state: state, cooldown: cooldown}
	}
	return m
}

// SetRunContext records the identity of the run-context that establishes
// sessions. Call this once per agent-loop iteration cycle.
func (m *Manager) SetRunContext(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentID = id
	if m.runContextID == "" {
		m.runContextID = id
	}
}

// NeedsReload reports whether the loop is running under a different
// run-context than the one that created the current sessions
// (spec §4.5 loop affinity, §4.7 step 3).
func (m *Manager) NeedsReload() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runContextID != "" && m.currentID != "" && m.runContextID != m.currentID
}

// RegisterToolsAsync connects every enabled, non-cooldown server and
// registers one McpToolAdapter per remote tool (spec §4.5).
func (m *Manager) RegisterToolsAsync(ctx context.Context) error {
	m.mu.Lock()
	states := make([]*serverState, 0, len(m.servers))
	for _, st := range m.servers {
		states = append(states, st)
	}
	m.mu.Unlock()

	now := time.Now()
	var firstErr error
	for _, st := range states {
		if !st.cfg.Enabled || st.inCooldown(now) {
			continue
		}
		if err := m.connect(ctx, st); err != nil {
			m.logger.Warn("mcp connect failed", "server", st.cfg.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

func (m *Manager) connect(ctx context.Context, st *serverState) error {
	st.mu.Lock()
	st.state = StateConnecting
	st.mu.Unlock()

	session, err := m.dial(ctx, st.cfg)
	if err != nil {
		st.mu.Lock()
		st.state = StateFailed
		st.failedAt = time.Now()
		st.mu.Unlock()
		return fmt.Errorf("connect mcp server %s: %w", st.cfg.ID, err)
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		st.mu.Lock()
		st.state = StateFailed
		st.failedAt = time.Now()
		st.mu.Unlock()
		return fmt.Errorf("list_tools %s: %w", st.cfg.ID, err)
	}

	st.mu.Lock()
	st.session = session
	st.state = StateReady
	st.mu.Unlock()
	m.recordOrder(st.cfg.ID)

	for _, t := range tools {
		name := sanitizeToolName(st.cfg.ID, t.Name)
		adapter := &ToolAdapter{
			name: name, description: t.Description, schema: t.Schema,
			serverID: st.cfg.ID, remoteName: t.Name, session: session,
		}
		if err := m.registry.Register(adapter); err != nil {
			m.logger.Warn("mcp tool registration rejected", "server", st.cfg.ID, "tool", t.Name, "error", err)
		}
	}
	return nil
}

// ConnectLazy is used by lazy adapters that defer connecting until the
// first tool invocation, serialized behind the per-server state lock
// (spec §4.5, §5 "lazy adapters serialize their initial connect").
func (m *Manager) ConnectLazy(ctx context.Context, serverID string, timeout time.Duration) error {
	m.mu.Lock()
	st, ok := m.servers[serverID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown mcp server %q", serverID)
	}
	if st.inCooldown(time.Now()) {
		return fmt.Errorf("mcp server %q is in cooldown", serverID)
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.connect(connectCtx, st)
}

// RegisterLazy attempts lazy registration for any server not yet loaded and
// whose cooldown has elapsed (spec §4.7 step 3).
func (m *Manager) RegisterLazy(ctx context.Context) error {
	m.mu.Lock()
	states := make([]*serverState, 0, len(m.servers))
	for _, st := range m.servers {
		states = append(states, st)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, st := range states {
		st.mu.Lock()
		state := st.state
		st.mu.Unlock()
		if state == StateReady || state == StateClosed {
			continue
		}
		if !st.cfg.Enabled || st.inCooldown(now) {
			continue
		}
		if err := m.connect(ctx, st); err != nil {
			m.logger.Debug("mcp lazy connect skipped", "server", st.cfg.ID, "error", err)
		}
	}
	return nil
}

// ReloadMcpConfig unregisters every mcp_ tool and reconnects all servers,
// guaranteeing no tool from a previous generation survives
// (spec §8 invariant 7).
func (m *Manager) ReloadMcpConfig(ctx context.Context) error {
	m.registry.UnregisterByPrefix("mcp_")

	m.mu.Lock()
	for _, st := range m.servers {
		st.mu.Lock()
		session := st.session
		st.session = nil
		st.state = StateDisabled
		st.mu.Unlock()
		if session != nil {
			m.closeSession(session)
		}
	}
	m.runContextID = m.currentID
	m.mu.Unlock()

	return m.RegisterToolsAsync(ctx)
}

// recordOrder appends id to the creation-order list the first time a
// session is established for it.
func (m *Manager) recordOrder(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.order {
		if existing == id {
			return
		}
	}
	m.order = append(m.order, id)
}

// Close closes all sessions in reverse order of creation
// (spec §4.5 "close()").
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		st, ok := m.servers[m.order[i]]
		if !ok {
			continue
		}
		st.mu.Lock()
		session := st.session
		st.session = nil
		st.state = StateClosed
		st.mu.Unlock()
		if session != nil {
			m.closeSession(session)
		}
	}
	return nil
}

// closeSession downgrades "different task" cancel-scope errors to debug
// logging, per the Python original's anyio TaskGroup caveat
// (modelcontextprotocol/python-sdk#521) referenced in spec §9/§4.5.
func (m *Manager) closeSession(session Session) {
	if err := session.Close(); err != nil {
		if isDifferentTaskCancelError(err) {
			m.logger.Debug("mcp session close raced with cancel scope", "error", err)
			return
		}
		m.logger.Warn("mcp session close failed", "error", err)
	}
}

func isDifferentTaskCancelError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancel scope") && strings.Contains(msg, "different task")
}

// HealthCheck probes every ready server's session in parallel
// (spec §4.5 "healthCheck(timeout)").
func (m *Manager) HealthCheck(ctx context.Context, timeout time.Duration) map[string]error {
	m.mu.Lock()
	states := make([]*serverState, 0, len(m.servers))
	for _, st := range m.servers {
		states = append(states, st)
	}
	m.mu.Unlock()

	results := make(map[string]error, len(states))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, st := range states {
		st.mu.Lock()
		session := st.session
		id := st.cfg.ID
		st.mu.Unlock()
		if session == nil {
			continue
		}
		wg.Add(1)
		go func(id string, session Session) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			_, err := session.ListTools(probeCtx)
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}(id, session)
	}
	wg.Wait()
	return results
}

func sanitizeToolName(serverID, toolName string) string {
	replacer := strings.NewReplacer(" ", "_", "-", "_", ".", "_", "/", "_")
	sanitized := replacer.Replace(toolName)
	return fmt.Sprintf("mcp_%s_%s", serverID, sanitized)
}

// ToolAdapter forwards tool calls to a live MCP session, implementing
// agent.Tool (spec §4.5 "McpToolAdapter").
type ToolAdapter struct {
	name        string
	description string
	schema      map[string]any
	serverID    string
	remoteName  string
	session     Session
}

func (a *ToolAdapter) Name() string           { return a.name }
func (a *ToolAdapter) Description() string    { return a.description }
func (a *ToolAdapter) Schema() map[string]any { return a.schema }
func (a *ToolAdapter) Kind() agent.Kind       { return agent.KindMCPAdapter }

func (a *ToolAdapter) Run(ctx context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var params map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid MCP tool arguments: %w", err)
		}
	}
	result, err := a.session.CallTool(ctx, a.remoteName, params)
	if err != nil {
		return fmt.Sprintf("MCP tool error: %s", err.Error()), nil
	}
	return result, nil
}
