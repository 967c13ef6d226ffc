package filesystem

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

const maxEditLines = 500

// editFile replaces old with new in content. Unless replaceAll is set, old
// must occur exactly once.
func editFile(path, content, old, new string, replaceAll bool) (string, int, error) {
	if old == new {
		return "", 0, engine.NewToolError("ValueError", "old_string and new_string are identical; nothing to change in %s", path)
	}
	if lines := strings.Count(old, "\n"); lines > maxEditLines {
		return "", 0, engine.NewToolError("ValueError", "old_string is %d lines (max %d); split the change into smaller edits", lines, maxEditLines)
	}
	if isGen, marker := isGeneratedFile(content); isGen {
		return "", 0, engine.NewToolError(engine.ErrTypePermission, "%s appears to be generated (found %q); edit the generator instead", path, marker)
	}

	count := strings.Count(content, old)
	switch {
	case count == 0:
		hint := ""
		if strings.Contains(strings.Join(strings.Fields(content), " "), strings.Join(strings.Fields(old), " ")) {
			hint = " The text exists with different whitespace or indentation."
		}
		return "", 0, engine.NewToolError(engine.ErrTypeEditMismatch,
			"old_string not found in %s (file uses %s).%s Read the file again and copy the exact text.",
			path, detectIndentation(content), hint)
	case count > 1 && !replaceAll:
		return "", 0, engine.NewToolError(engine.ErrTypeEditMismatch,
			"old_string appears %d times in %s (lines %v). Include more surrounding context or set replace_all=true.",
			count, path, occurrenceLines(content, old, 5))
	}

	if replaceAll {
		return strings.ReplaceAll(content, old, new), count, nil
	}
	return strings.Replace(content, old, new, 1), 1, nil
}

func occurrenceLines(content, old string, max int) []int {
	var lines []int
	offset := 0
	for len(lines) < max {
		i := strings.Index(content[offset:], old)
		if i < 0 {
			break
		}
		lines = append(lines, strings.Count(content[:offset+i], "\n")+1)
		offset += i + len(old)
	}
	return lines
}

func isGeneratedFile(content string) (bool, string) {
	preview := content
	if len(preview) > 500 {
		preview = preview[:500]
	}
	for _, marker := range []string{"Code generated", "DO NOT EDIT", "Auto-generated", "automatically generated"} {
		if strings.Contains(preview, marker) {
			return true, marker
		}
	}
	return false, ""
}

func detectIndentation(content string) string {
	switch {
	case strings.Contains(content, "\n\t"):
		return "tabs"
	case strings.Contains(content, "\n    "):
		return "4 spaces"
	case strings.Contains(content, "\n  "):
		return "2 spaces"
	default:
		return "no indentation"
	}
}

// NewEditFileTool performs exact search/replace edits.
func NewEditFileTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name:        "edit_file",
		Description: "Replaces an exact string in a file. This is the primary editing tool. Read the file first and copy old_string exactly, including indentation.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"File path relative to the project root"},
			"old_string":{"type":"string","minLength":1,"description":"Exact text to replace"},
			"new_string":{"type":"string","description":"Replacement text"},
			"replace_all":{"type":"boolean","description":"Replace every occurrence instead of requiring a unique match"}
		},"required":["path","old_string","new_string"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path := stringArg(args, "path")
			if !IsTextFile(path) {
				return engine.ToolOutput{}, engine.NewToolError("ValueError", "edit_file only works on text files, not %s", path)
			}
			data, err := sb.ReadFile(ctx, path)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			replaceAll, _ := args["replace_all"].(bool)
			updated, n, err := editFile(path, string(data), stringArg(args, "old_string"), stringArg(args, "new_string"), replaceAll)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			if err := sb.WriteFile(ctx, path, []byte(updated)); err != nil {
				return engine.ToolOutput{}, fmt.Errorf("write %s: %w", path, err)
			}
			return jsonOutput(map[string]any{
				"path":         path,
				"status":       "edited",
				"replacements": n,
				"summary":      "replaced " + describeCount(n, "occurrence"),
			})
		},
	}
}
