package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "chat", "cron", "memory"}
	for _, name := range required {
		if !names[name] {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestBuildCronCmdIncludesSubcommands(t *testing.T) {
	cmd := buildCronCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"list", "run"} {
		if !names[name] {
			t.Errorf("expected cron subcommand %q to be registered", name)
		}
	}
}

func TestBuildMemoryCmdIncludesSubcommands(t *testing.T) {
	cmd := buildMemoryCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["show"] {
		t.Error("expected memory subcommand \"show\" to be registered")
	}
}
