package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultReturnsDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.DefaultModel != "anthropic/claude-sonnet-4" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.MaxIterations != 40 {
		t.Errorf("MaxIterations = %d, want 40", cfg.MaxIterations)
	}
	if cfg.MaxConcurrentSubagents != 5 {
		t.Errorf("MaxConcurrentSubagents = %d, want 5", cfg.MaxConcurrentSubagents)
	}
	if cfg.MCPCooldown.Seconds() != 300 {
		t.Errorf("MCPCooldown = %v, want 300s", cfg.MCPCooldown)
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DefaultModel != Default().DefaultModel {
		t.Errorf("expected default model when config file is absent")
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MaxIterations != 40 {
		t.Errorf("MaxIterations = %d, want 40", cfg.MaxIterations)
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nanobot.yaml")
	content := "default_model: openai/gpt-4o\nmax_iterations: 10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DefaultModel != "openai/gpt-4o" {
		t.Errorf("DefaultModel = %q, want override", cfg.DefaultModel)
	}
	if cfg.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.MaxIterations)
	}
	// Untouched fields keep their defaults.
	if cfg.MaxConcurrentSubagents != 5 {
		t.Errorf("MaxConcurrentSubagents = %d, want default 5", cfg.MaxConcurrentSubagents)
	}
}

func TestApplyEnvOverridesProviderAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Providers["anthropic"] = ProviderConfig{DefaultModel: "claude-sonnet-4"}

	t.Setenv("NANOBOT_ANTHROPIC_API_KEY", "sk-test-key")
	applyEnvOverrides(cfg)

	if cfg.Providers["anthropic"].APIKey != "sk-test-key" {
		t.Errorf("APIKey = %q, want override from environment", cfg.Providers["anthropic"].APIKey)
	}
}

func TestApplyEnvOverridesMaxIterations(t *testing.T) {
	cfg := Default()
	t.Setenv("NANOBOT_MAX_ITERATIONS", "99")
	applyEnvOverrides(cfg)

	if cfg.MaxIterations != 99 {
		t.Errorf("MaxIterations = %d, want 99", cfg.MaxIterations)
	}
}
