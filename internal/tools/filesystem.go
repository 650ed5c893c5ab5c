package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 * 1024

// resolveWorkspacePath confines a tool-supplied path to the workspace.
func resolveWorkspacePath(workspace, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, abs)
	}
	abs = filepath.Clean(abs)
	root := filepath.Clean(workspace)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", path)
	}
	return abs, nil
}

// FileTools returns workspace-confined read/write/list tools.
func FileTools(workspace string) []*Tool {
	return []*Tool{
		{
			Name:        "read_file",
			Description: "Read the contents of a file in the workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []any{"path"},
			},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				resolved, err := resolveWorkspacePath(workspace, strArg(tc, "path"))
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				data, err := os.ReadFile(resolved)
				if err != nil {
					return ErrorResult(fmt.Sprintf("read failed: %v", err)), nil
				}
				if len(data) > maxReadBytes {
					data = data[:maxReadBytes]
					return NewResult(string(data) + "\n... (truncated)"), nil
				}
				return NewResult(string(data)), nil
			},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the workspace, creating parent directories.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"path", "content"},
			},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				resolved, err := resolveWorkspacePath(workspace, strArg(tc, "path"))
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
					return ErrorResult(fmt.Sprintf("write failed: %v", err)), nil
				}
				content := strArg(tc, "content")
				if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
					return ErrorResult(fmt.Sprintf("write failed: %v", err)), nil
				}
				return NewResult(fmt.Sprintf("Wrote %d bytes to %s.", len(content), strArg(tc, "path"))), nil
			},
		},
		{
			Name:        "list_dir",
			Description: "List a workspace directory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
			},
			Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
				path := strArg(tc, "path")
				if path == "" {
					path = "."
				}
				resolved, err := resolveWorkspacePath(workspace, path)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				entries, err := os.ReadDir(resolved)
				if err != nil {
					return ErrorResult(fmt.Sprintf("list failed: %v", err)), nil
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				sort.Strings(names)
				if len(names) == 0 {
					return NewResult("(empty directory)"), nil
				}
				return NewResult(strings.Join(names, "\n")), nil
			},
		},
	}
}
