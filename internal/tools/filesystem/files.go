// Package filesystem provides the file tools: read, write, edit, delete,
// list and view_image.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

const (
	maxReadLines = 2000
	defaultLimit = 1000
)

func jsonOutput(v any) (engine.ToolOutput, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return engine.ToolOutput{}, err
	}
	return engine.TextOutput(string(b)), nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// NewReadFileTool reads a text file, optionally a line range of it.
func NewReadFileTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name:        "read_file",
		Description: "Reads a file from the project workspace. Paths are relative to the project root. For large files pass start_line/end_line to read a range.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"File path relative to the project root"},
			"start_line":{"type":"integer","minimum":1,"description":"First line to return (1-based)"},
			"end_line":{"type":"integer","minimum":1,"description":"Last line to return (inclusive)"}
		},"required":["path"]}`,
		ReadOnly: true,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path := stringArg(args, "path")
			data, err := sb.ReadFile(ctx, path)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			lines := strings.Split(string(data), "\n")
			start := intArg(args, "start_line", 1)
			end := intArg(args, "end_line", len(lines))
			if start < 1 {
				start = 1
			}
			if end > len(lines) {
				end = len(lines)
			}
			if start > end {
				return engine.ToolOutput{}, engine.NewToolError("ValueError", "start_line %d is past the end of %s (%d lines)", start, path, len(lines))
			}
			truncated := false
			if end-start+1 > maxReadLines {
				end = start + maxReadLines - 1
				truncated = true
			}
			return jsonOutput(map[string]any{
				"path":        path,
				"content":     strings.Join(lines[start-1:end], "\n"),
				"start_line":  start,
				"end_line":    end,
				"total_lines": len(lines),
				"truncated":   truncated,
			})
		},
	}
}

// NewWriteFileTool creates or overwrites a file.
func NewWriteFileTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name:        "write_file",
		Description: "Creates or overwrites a file with the given content. Parent directories are created as needed. Prefer edit_file for small changes to existing files.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"File path relative to the project root"},
			"content":{"type":"string","description":"Full file content"}
		},"required":["path","content"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path := stringArg(args, "path")
			content := stringArg(args, "content")
			if err := sb.WriteFile(ctx, path, []byte(content)); err != nil {
				return engine.ToolOutput{}, err
			}
			return jsonOutput(map[string]any{
				"path":   path,
				"status": "written",
				"bytes":  len(content),
				"lines":  strings.Count(content, "\n") + 1,
			})
		},
	}
}

// NewDeleteFileTool removes a file or directory.
func NewDeleteFileTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name:        "delete_file",
		Description: "Deletes a file or directory (recursively) from the project workspace.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"Path relative to the project root"}
		},"required":["path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path := stringArg(args, "path")
			if err := sb.Remove(ctx, path); err != nil {
				return engine.ToolOutput{}, err
			}
			return jsonOutput(map[string]any{"path": path, "status": "deleted"})
		},
	}
}

// NewListFilesTool lists workspace files, honouring .gitignore.
func NewListFilesTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name:        "list_files",
		Description: "Lists files in the project workspace. Use this to discover which files exist before reading them. Directories end with '/'.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"Directory relative to the project root (empty for root)"},
			"recursive":{"type":"boolean","description":"List recursively. Default: false"},
			"limit":{"type":"integer","minimum":1,"description":"Maximum entries to return. Default: 1000"}
		},"required":[]}`,
		ReadOnly: true,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path := stringArg(args, "path")
			recursive, _ := args["recursive"].(bool)
			files, truncated, err := sb.ListFiles(ctx, path, recursive, intArg(args, "limit", defaultLimit))
			if err != nil {
				return engine.ToolOutput{}, err
			}
			if files == nil {
				files = []string{}
			}
			return jsonOutput(map[string]any{
				"path":      path,
				"files":     files,
				"recursive": recursive,
				"truncated": truncated,
			})
		},
	}
}

var textExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".mjs": true, ".cjs": true, ".vue": true, ".svelte": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".rs": true, ".rb": true, ".php": true,
	".html": true, ".css": true, ".scss": true, ".md": true, ".txt": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".env": true,
	".sh": true, ".sql": true, ".xml": true, ".svg": true, ".prisma": true, ".graphql": true,
}

// IsTextFile reports whether edits and indexing should treat p as text.
func IsTextFile(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == "" {
		base := filepath.Base(p)
		return base == "Dockerfile" || base == "Makefile" || strings.HasPrefix(base, ".")
	}
	return textExts[ext]
}

func describeCount(n int, what string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", what)
	}
	return fmt.Sprintf("%d %ss", n, what)
}
