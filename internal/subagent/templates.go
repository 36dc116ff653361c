// Package subagent implements the Subagent Manager (C8, spec §4.8):
// spawning bounded, tool-restricted background agent runs that announce
// their result back to the main agent loop via a synthetic system message.
package subagent

import (
	"path/filepath"
	"strings"
)

// Template names a subagent persona with its own system-prompt fragment
// and restricted tool set (spec §4.8 "templates").
type Template struct {
	Name          string
	Prompt        string
	Tools         []string
	MaxIterations int
	ClaudeCode    bool // route through the Claude-Code delegation shield instead of the native loop
}

// promptFor fills the {task}/{all_rules}/{workspace} placeholders the
// original templates use (spec §4.8).
func promptFor(body, task, workspace string) string {
	r := strings.NewReplacer(
		"{task}", task,
		"{workspace}", workspace,
		"{all_rules}", "Work autonomously. Do not ask the user questions. Report your final result as plain text.",
	)
	return r.Replace(body)
}

// templates is the fixed catalogue named in spec §4.8: minimal, coder,
// researcher, analyst, claude-coder, vision, voice.
var templates = map[string]Template{
	"minimal": {
		Name:          "minimal",
		Prompt:        "You are a focused background assistant working in {workspace}.\n\nTask:\n{task}\n\n{all_rules}",
		MaxIterations: 15,
	},
	"coder": {
		Name:          "coder",
		Prompt:        "You are a background coding agent working in {workspace}.\n\nTask:\n{task}\n\n{all_rules}",
		Tools:         []string{"read_file", "write_file", "edit_file", "list_dir", "exec"},
		MaxIterations: 15,
	},
	"researcher": {
		Name:          "researcher",
		Prompt:        "You are a background research agent.\n\nTask:\n{task}\n\n{all_rules}",
		Tools:         []string{"web_search", "web_fetch"},
		MaxIterations: 15,
	},
	"analyst": {
		Name:          "analyst",
		Prompt:        "You are a background data-analysis agent working in {workspace}.\n\nTask:\n{task}\n\n{all_rules}",
		Tools:         []string{"read_file", "list_dir", "exec"},
		MaxIterations: 15,
	},
	"claude-coder": {
		Name:          "claude-coder",
		Prompt:        "You are delegating a coding task to Claude Code in {workspace}.\n\nTask:\n{task}\n\n{all_rules}",
		Tools:         []string{"claude_code"},
		MaxIterations: 15,
		ClaudeCode:    true,
	},
	"vision": {
		Name:          "vision",
		Prompt:        "You are a background vision-analysis agent.\n\nTask:\n{task}\n\n{all_rules}",
		MaxIterations: 15,
	},
	"voice": {
		Name:          "voice",
		Prompt:        "You are a background audio-transcription agent.\n\nTask:\n{task}\n\n{all_rules}",
		Tools:         []string{"voice_transcribe"},
		MaxIterations: 15,
	},
}

// GetTemplate looks up a template by name, defaulting to "minimal" for an
// unknown name (spec §4.8 "unknown template falls back to minimal").
func GetTemplate(name string) Template {
	if t, ok := templates[name]; ok {
		return t
	}
	return templates["minimal"]
}

var audioExts = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".opus": true, ".webm": true, ".aac": true}

// mediaIsImagesOnly mirrors the original's image/audio routing guard: a
// voice template receiving only image media is forced to vision
// (spec §4.8 "template override").
func mediaIsImagesOnly(media []string) bool {
	if len(media) == 0 {
		return false
	}
	for _, path := range media {
		if audioExts[strings.ToLower(filepath.Ext(path))] {
			return false
		}
	}
	return true
}
