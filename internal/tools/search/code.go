package search

import (
	"context"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// CodeResult is the JSON returned by search_code.
type CodeResult struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
	Files int    `json:"indexed_files"`
}

// NewSearchCodeTool creates the search_code tool over idx. An empty index
// is built on first use.
func NewSearchCodeTool(idx *Index) engine.Tool {
	return engine.Tool{
		Name: "search_code",
		Description: "Ranked keyword search over the project's code (BM25). Use natural keywords such as " +
			"\"stripe checkout session\" to find where something is implemented. Returns file paths, line ranges and snippets.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"query": {"type":"string","minLength":1,"description":"Keywords to search for"},
				"globs": {"type":"array","items":{"type":"string"},"description":"Only search files matching these globs"},
				"k": {"type":"integer","minimum":1,"maximum":50,"description":"Number of results (default: 10)"}
			},
			"required": ["query"]
		}`,
		ReadOnly: true,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			q, _ := args["query"].(string)
			k := defaultK
			if n, ok := args["k"].(float64); ok {
				k = int(n)
			}
			if idx.Len() == 0 {
				if _, err := idx.Rebuild(ctx); err != nil {
					return engine.ToolOutput{}, engine.NewToolError(engine.ErrTypeSandbox, "failed to build search index: %v", err)
				}
			}
			hits, err := idx.Search(q, stringsArg(args, "globs"), k)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			return jsonOutput(CodeResult{Query: q, Hits: hits, Files: idx.Len()})
		},
	}
}
