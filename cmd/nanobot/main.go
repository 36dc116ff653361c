// Package main provides the CLI entry point for nanobot, a personal AI
// assistant runtime.
//
// nanobot wires a message bus, a per-message tool-calling agent loop,
// subagent spawning, an MCP tool plane, a durable session/memory store and
// a cron-style scheduler behind a small set of chat-channel adapters
// (Discord, Telegram, Slack, WhatsApp, a local web UI, and the terminal
// itself).
//
// # Basic usage
//
//	nanobot serve --config nanobot.yaml
//	nanobot chat
//	nanobot cron list
//	nanobot memory show
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nanobot",
		Short: "nanobot - a personal AI assistant runtime",
		Long: `nanobot connects chat channels to LLM providers through an agent loop with
tool calling, subagent spawning, MCP tool integration, durable memory and
a cron-style scheduler.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildCronCmd(),
		buildMemoryCmd(),
	)
	return root
}
