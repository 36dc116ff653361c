// Package config loads nanobot's single YAML configuration file and applies
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one LLM provider's credentials and default model.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url,omitempty"`
	DefaultModel string `yaml:"default_model"`
}

// ChannelConfig is one chat-channel adapter's enablement and credentials.
type ChannelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token,omitempty"`
	AppToken    string `yaml:"app_token,omitempty"`
	SigningKey  string `yaml:"signing_key,omitempty"`
	WebhookPath string `yaml:"webhook_path,omitempty"`

	// SessionDBPath is the whatsmeow device-store path (whatsapp channel
	// only). Pairing itself happens out-of-band via operator tooling.
	SessionDBPath string `yaml:"session_db_path,omitempty"`

	// ListenAddr and Password configure the local webui channel; SigningKey
	// above doubles as its JWT secret.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	Password   string `yaml:"password,omitempty"`
}

// MCPServerConfig declares one configured MCP server (spec §4.5).
type MCPServerConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Enabled   bool     `yaml:"enabled"`
	Transport string   `yaml:"transport"` // stdio | http | sse | streamable_http
	Command   string   `yaml:"command,omitempty"`
	Args      []string `yaml:"args,omitempty"`
	URL       string   `yaml:"url,omitempty"`
}

// TokenBudgets mirrors the Context Builder's per-section caps (spec §4.6).
type TokenBudgets struct {
	Identity  int `yaml:"identity"`
	Bootstrap int `yaml:"bootstrap"`
	Memory    int `yaml:"memory"`
	Skills    int `yaml:"skills"`
	Total     int `yaml:"total"`
}

// DefaultTokenBudgets returns the spec-mandated default caps.
func DefaultTokenBudgets() TokenBudgets {
	return TokenBudgets{Identity: 500, Bootstrap: 1500, Memory: 2000, Skills: 500, Total: 5000}
}

// MemoryThresholds mirrors the Memory Store's write/read caps (spec §3).
type MemoryThresholds struct {
	MaxEntries    int `yaml:"max_entries"`
	MaxBytes      int `yaml:"max_bytes"`
	ReadEntries   int `yaml:"read_entries"`
	ReadBytes     int `yaml:"read_bytes"`
	ReadHeadCount int `yaml:"read_head_count"`
	ReadTailCount int `yaml:"read_tail_count"`
}

// MirrorDefaults configures the mirror/debate feature's default attack level
// and whether attachments are embedded as data URLs by default.
type MirrorDefaults struct {
	AttackLevel  int  `yaml:"attack_level"`
	EmbedImages  bool `yaml:"embed_images"`
}

// Config is the single configuration record consumed read-only at start-up
// and on hot-reload (spec §6 "Environment/config").
type Config struct {
	DefaultModel     string                     `yaml:"default_model"`
	Workspace        string                     `yaml:"workspace"`
	DatabasePath     string                     `yaml:"database_path"`
	Providers        map[string]ProviderConfig  `yaml:"providers"`
	Channels         map[string]ChannelConfig   `yaml:"channels"`
	MCPServers       []MCPServerConfig          `yaml:"mcp_servers"`
	TokenBudgets     TokenBudgets               `yaml:"token_budgets"`
	MemoryThresholds MemoryThresholds           `yaml:"memory_thresholds"`
	Mirror           MirrorDefaults             `yaml:"mirror"`

	// MaxIterations bounds the agent loop's tool-dispatch iterations
	// (spec §4.7 default 40).
	MaxIterations int `yaml:"max_iterations"`
	// MaxExecutionTimeSec bounds total loop wall-clock time in seconds
	// (spec §4.7 default 600). Zero means no limit (spec §9 open question iii).
	MaxExecutionTimeSec int `yaml:"max_execution_time_sec"`
	// MessageTimeoutSec bounds one processMessage call end-to-end
	// (spec §4.7 default 300).
	MessageTimeoutSec int `yaml:"message_timeout_sec"`

	// MaxConcurrentSubagents caps C8 (spec §5 back-pressure).
	MaxConcurrentSubagents int `yaml:"max_concurrent_subagents"`
	// ClaudeCodeConcurrency caps shielded Claude-Code delegations (default 3).
	ClaudeCodeConcurrency int `yaml:"claude_code_concurrency"`

	// MCPCooldown is the per-server wait after a connect failure (spec §4.5,
	// default 300s).
	MCPCooldown time.Duration `yaml:"mcp_cooldown"`

	// LoopDetectionWindow exposes the spec §9 open-question (i) knob: how
	// many previous steps the loop detector compares against. Default 1
	// (only the immediately previous step) is intentional.
	LoopDetectionWindow int `yaml:"loop_detection_window"`

	AutoMemoryIntervalMin int `yaml:"auto_memory_interval_min"`
	AutoMemoryLookbackMin int `yaml:"auto_memory_lookback_min"`
	MaintenanceTickMin    int `yaml:"maintenance_tick_min"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		DefaultModel:           "anthropic/claude-sonnet-4",
		Workspace:              ".",
		DatabasePath:           "chat.db",
		Providers:              map[string]ProviderConfig{},
		Channels:               map[string]ChannelConfig{},
		TokenBudgets:           DefaultTokenBudgets(),
		MemoryThresholds: MemoryThresholds{
			MaxEntries: 100, MaxBytes: 30 * 1024,
			ReadEntries: 80, ReadBytes: 25 * 1024,
			ReadHeadCount: 30, ReadTailCount: 50,
		},
		Mirror:                 MirrorDefaults{AttackLevel: 0, EmbedImages: true},
		MaxIterations:          40,
		MaxExecutionTimeSec:    600,
		MessageTimeoutSec:      300,
		MaxConcurrentSubagents: 5,
		ClaudeCodeConcurrency:  3,
		MCPCooldown:            300 * time.Second,
		LoopDetectionWindow:    1,
		AutoMemoryIntervalMin:  30,
		AutoMemoryLookbackMin:  60,
		MaintenanceTickMin:     5,
	}
}

// Load reads a YAML config file, falling back to Default() values for
// anything left unset, then applies environment overrides for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		loaded := Default()
		if err := yaml.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets (API keys) come from the
// environment rather than the checked-in config file: NANOBOT_<PROVIDER>_API_KEY.
func applyEnvOverrides(cfg *Config) {
	for name, pc := range cfg.Providers {
		envKey := "NANOBOT_" + strings.ToUpper(name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			pc.APIKey = v
			cfg.Providers[name] = pc
		}
	}
	if v := os.Getenv("NANOBOT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
}
