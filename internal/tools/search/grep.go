// Package search provides grep and indexed code search over the workspace.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
	"github.com/ChamsBouzaiene/cofounder/internal/tools/filesystem"
)

const (
	maxGrepResults = 100
	maxScanFiles   = 5000
	maxLineLength  = 300
	maxFileBytes   = 1 << 20
)

// Match is one matching line.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepResult is the JSON returned by the grep tool.
type GrepResult struct {
	Pattern   string  `json:"pattern"`
	Matches   []Match `json:"matches"`
	Files     int     `json:"files_searched"`
	Truncated bool    `json:"truncated,omitempty"`
}

// GrepOptions narrows a grep.
type GrepOptions struct {
	Dir             string
	Globs           []string
	CaseInsensitive bool
	MaxResults      int
}

// Grep searches text files in the workspace for a regular expression.
func Grep(ctx context.Context, sb sandbox.Sandbox, pattern string, opts GrepOptions) (GrepResult, error) {
	expr := pattern
	if opts.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return GrepResult{}, engine.NewToolError("ValueError", "invalid regular expression %q: %v", pattern, err)
	}
	limit := opts.MaxResults
	if limit <= 0 || limit > maxGrepResults {
		limit = maxGrepResults
	}

	files, _, err := sb.ListFiles(ctx, opts.Dir, true, maxScanFiles)
	if err != nil {
		return GrepResult{}, err
	}

	res := GrepResult{Pattern: pattern, Matches: []Match{}}
	for _, f := range files {
		if ctx.Err() != nil {
			return GrepResult{}, ctx.Err()
		}
		if strings.HasSuffix(f, "/") || !filesystem.IsTextFile(f) || !MatchGlobs(f, opts.Globs) {
			continue
		}
		data, err := sb.ReadFile(ctx, f)
		if err != nil || len(data) > maxFileBytes {
			continue
		}
		res.Files++

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), maxFileBytes)
		for n := 1; scanner.Scan(); n++ {
			line := scanner.Text()
			if !re.MatchString(line) {
				continue
			}
			if len(res.Matches) == limit {
				res.Truncated = true
				return res, nil
			}
			if len(line) > maxLineLength {
				line = line[:maxLineLength] + "..."
			}
			res.Matches = append(res.Matches, Match{Path: f, Line: n, Text: strings.TrimSpace(line)})
		}
	}
	return res, nil
}

// MatchGlobs reports whether p matches any glob, or whether globs is empty.
// A glob without a slash matches the base name; "**/" matches any depth.
func MatchGlobs(p string, globs []string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		g = strings.TrimPrefix(g, "./")
		if !strings.Contains(g, "/") {
			if ok, _ := path.Match(g, path.Base(p)); ok {
				return true
			}
			continue
		}
		if ok, _ := path.Match(g, p); ok {
			return true
		}
		if prefix, rest, found := strings.Cut(g, "**/"); found {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			sub := strings.TrimPrefix(p, prefix)
			for {
				if ok, _ := path.Match(rest, sub); ok {
					return true
				}
				i := strings.Index(sub, "/")
				if i < 0 {
					break
				}
				sub = sub[i+1:]
			}
		}
		if strings.HasSuffix(g, "/**") && strings.HasPrefix(p, strings.TrimSuffix(g, "**")) {
			return true
		}
	}
	return false
}

// NewGrepTool creates the grep tool.
func NewGrepTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name: "grep",
		Description: "Searches project files for a regular expression (Go RE2 syntax) and returns matching lines " +
			"with their paths and line numbers. Ignored directories such as node_modules are skipped.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"pattern": {"type":"string","minLength":1,"description":"Regular expression to search for"},
				"path": {"type":"string","description":"Directory to search (default: project root)"},
				"globs": {"type":"array","items":{"type":"string"},"description":"Only search files matching these globs, e.g. [\"*.ts\", \"src/**/*.tsx\"]"},
				"case_insensitive": {"type":"boolean","description":"Ignore case (default: false)"},
				"max_results": {"type":"integer","minimum":1,"maximum":100,"description":"Maximum matches (default: 100)"}
			},
			"required": ["pattern"]
		}`,
		ReadOnly: true,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			pattern, _ := args["pattern"].(string)
			opts := GrepOptions{Globs: stringsArg(args, "globs")}
			opts.Dir, _ = args["path"].(string)
			opts.CaseInsensitive, _ = args["case_insensitive"].(bool)
			if n, ok := args["max_results"].(float64); ok {
				opts.MaxResults = int(n)
			}

			res, err := Grep(ctx, sb, pattern, opts)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			return jsonOutput(res)
		},
	}
}

func stringsArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func jsonOutput(v any) (engine.ToolOutput, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return engine.ToolOutput{}, fmt.Errorf("encode result: %w", err)
	}
	return engine.TextOutput(string(b)), nil
}
