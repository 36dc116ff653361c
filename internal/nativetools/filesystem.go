// Package nativetools implements the workspace-scoped tools every
// subagent template can draw from: file read/write/edit/list and shell
// exec, confined to the configured workspace root (spec §4.8 "tools field
// restricts the registry").
package nativetools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanobot-run/nanobot/internal/agent"
)

// resolveInWorkspace joins path under workspace and rejects escapes via
// "..", keeping every filesystem tool confined to the workspace root.
func resolveInWorkspace(workspace, path string) (string, error) {
	full := filepath.Join(workspace, path)
	rel, err := filepath.Rel(workspace, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}

// ReadFileTool reads a workspace-relative file.
type ReadFileTool struct{ Workspace string }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace." }
func (t *ReadFileTool) Kind() agent.Kind    { return agent.KindNative }
func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string", "description": "Workspace-relative file path"}},
		"required":   []string{"path"},
	}
}

func (t *ReadFileTool) Run(_ context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid read_file arguments: %w", err)
	}
	full, err := resolveInWorkspace(t.Workspace, a.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %s", a.Path, err.Error()), nil
	}
	return string(data), nil
}

// WriteFileTool writes (overwriting) a workspace-relative file.
type WriteFileTool struct{ Workspace string }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the workspace, creating or overwriting it." }
func (t *WriteFileTool) Kind() agent.Kind    { return agent.KindNative }
func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Workspace-relative file path"},
			"content": map[string]any{"type": "string", "description": "File content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Run(_ context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var a struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid write_file arguments: %w", err)
	}
	full, err := resolveInWorkspace(t.Workspace, a.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, []byte(a.Content), 0o644); err != nil {
		return fmt.Sprintf("Error writing %s: %s", a.Path, err.Error()), nil
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(a.Content), a.Path), nil
}

// EditFileTool performs a single literal find/replace within a file.
type EditFileTool struct{ Workspace string }

func (t *EditFileTool) Name() string        { return "edit_file" }
func (t *EditFileTool) Description() string { return "Replace a literal substring in a workspace file." }
func (t *EditFileTool) Kind() agent.Kind    { return agent.KindNative }
func (t *EditFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"old_str": map[string]any{"type": "string"},
			"new_str": map[string]any{"type": "string"},
		},
		"required": []string{"path", "old_str", "new_str"},
	}
}

func (t *EditFileTool) Run(_ context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var a struct {
		Path   string `json:"path"`
		OldStr string `json:"old_str"`
		NewStr string `json:"new_str"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid edit_file arguments: %w", err)
	}
	full, err := resolveInWorkspace(t.Workspace, a.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %s", a.Path, err.Error()), nil
	}
	original := string(data)
	if !strings.Contains(original, a.OldStr) {
		return fmt.Sprintf("old_str not found in %s", a.Path), nil
	}
	if strings.Count(original, a.OldStr) > 1 {
		return fmt.Sprintf("old_str is not unique in %s", a.Path), nil
	}
	updated := strings.Replace(original, a.OldStr, a.NewStr, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return fmt.Sprintf("Error writing %s: %s", a.Path, err.Error()), nil
	}
	return fmt.Sprintf("Edited %s", a.Path), nil
}

// ListDirTool lists a workspace-relative directory's entries.
type ListDirTool struct{ Workspace string }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List files and subdirectories of a workspace directory." }
func (t *ListDirTool) Kind() agent.Kind    { return agent.KindNative }
func (t *ListDirTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string", "description": "Workspace-relative directory path", "default": "."}},
	}
}

func (t *ListDirTool) Run(_ context.Context, _ agent.CallContext, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid list_dir arguments: %w", err)
		}
	}
	if a.Path == "" {
		a.Path = "."
	}
	full, err := resolveInWorkspace(t.Workspace, a.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Sprintf("Error listing %s: %s", a.Path, err.Error()), nil
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", e.Name())
		}
	}
	return b.String(), nil
}
