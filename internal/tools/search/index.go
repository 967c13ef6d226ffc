package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
	"github.com/ChamsBouzaiene/cofounder/internal/tools/filesystem"
)

const (
	chunkLines      = 80
	maxIndexedFiles = 5000
	defaultK        = 10
)

// Hit is one ranked chunk.
type Hit struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
}

// Index is a BM25 keyword index over the workspace, chunked by line
// windows. An empty path keeps it in memory.
type Index struct {
	mu     sync.Mutex
	index  bleve.Index
	path   string
	sb     sandbox.Sandbox
	logger *log.Logger
	// files maps a workspace path to the chunk IDs indexed for it.
	files map[string][]string
}

// OpenIndex creates or opens the index at indexPath. A corrupted on-disk
// index is deleted and recreated.
func OpenIndex(indexPath string, sb sandbox.Sandbox, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.Default()
	}
	idx := &Index{path: indexPath, sb: sb, logger: logger, files: make(map[string][]string)}

	if indexPath == "" {
		bi, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create search index: %w", err)
		}
		idx.index = bi
		return idx, nil
	}

	bi, err := bleve.Open(indexPath)
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		bi, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create search index: %w", err)
		}
	case err != nil:
		logger.Printf("⚠️  search index appears corrupted (error: %v), recreating...", err)
		if bi != nil {
			bi.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted search index: %w", err)
		}
		bi, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate search index: %w", err)
		}
	}
	idx.index = bi
	return idx, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	keywordField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		f.Index = true
		return f
	}
	chunkMapping.AddFieldMappingsAt("file_path", keywordField())

	startField := bleve.NewNumericFieldMapping()
	startField.Store = true
	startField.Index = false
	chunkMapping.AddFieldMappingsAt("start_line", startField)

	endField := bleve.NewNumericFieldMapping()
	endField.Store = true
	endField.Index = false
	chunkMapping.AddFieldMappingsAt("end_line", endField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	textField.Index = true
	chunkMapping.AddFieldMappingsAt("text", textField)

	// path segments are searchable too, so "auth" finds src/auth/login.ts
	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = standard.Name
	pathField.Store = false
	pathField.Index = true
	chunkMapping.AddFieldMappingsAt("path_terms", pathField)

	indexMapping.DefaultMapping = chunkMapping
	return indexMapping
}

type chunk struct {
	id    string
	start int
	end   int
	text  string
}

func chunkFile(p string, content string) []chunk {
	lines := strings.Split(content, "\n")
	var chunks []chunk
	for start := 0; start < len(lines); start += chunkLines {
		end := min(start+chunkLines, len(lines))
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, chunk{
			id:    fmt.Sprintf("%s#%d", p, start+1),
			start: start + 1,
			end:   end,
			text:  text,
		})
	}
	return chunks
}

// Rebuild drops every document and reindexes the whole workspace.
func (i *Index) Rebuild(ctx context.Context) (int, error) {
	files, _, err := i.sb.ListFiles(ctx, "", true, maxIndexedFiles)
	if err != nil {
		return 0, err
	}

	i.mu.Lock()
	known := make([]string, 0, len(i.files))
	for p := range i.files {
		known = append(known, p)
	}
	i.mu.Unlock()
	if err := i.Remove(known); err != nil {
		return 0, err
	}
	return i.Update(ctx, files)
}

// Update reindexes the given workspace paths. Paths that no longer exist
// are removed. It returns the number of files indexed.
func (i *Index) Update(ctx context.Context, paths []string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.index.NewBatch()
	indexed := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			return indexed, ctx.Err()
		}
		p = strings.TrimPrefix(path.Clean("/"+p), "/")
		for _, id := range i.files[p] {
			batch.Delete(id)
		}
		delete(i.files, p)

		if strings.HasSuffix(p, "/") || !filesystem.IsTextFile(p) {
			continue
		}
		data, err := i.sb.ReadFile(ctx, p)
		if err != nil || len(data) > maxFileBytes {
			continue
		}
		var ids []string
		for _, c := range chunkFile(p, string(data)) {
			doc := map[string]any{
				"file_path":  p,
				"start_line": c.start,
				"end_line":   c.end,
				"text":       c.text,
				"path_terms": strings.NewReplacer("/", " ", ".", " ", "_", " ", "-", " ").Replace(p),
			}
			if err := batch.Index(c.id, doc); err != nil {
				return indexed, fmt.Errorf("failed to add chunk %s to batch: %w", c.id, err)
			}
			ids = append(ids, c.id)
		}
		i.files[p] = ids
		indexed++
	}
	if err := i.index.Batch(batch); err != nil {
		return indexed, fmt.Errorf("failed to index batch: %w", err)
	}
	return indexed, nil
}

// Remove deletes every chunk indexed for the given paths.
func (i *Index) Remove(paths []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.index.NewBatch()
	for _, p := range paths {
		for _, id := range i.files[p] {
			batch.Delete(id)
		}
		delete(i.files, p)
	}
	return i.index.Batch(batch)
}

// Len returns the number of indexed files.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.files)
}

// Search returns the top k chunks for q, optionally restricted to globs.
func (i *Index) Search(q string, globs []string, k int) ([]Hit, error) {
	if k <= 0 {
		k = defaultK
	}
	textQuery := bleve.NewMatchQuery(q)
	textQuery.SetField("text")
	pathQuery := bleve.NewMatchQuery(q)
	pathQuery.SetField("path_terms")
	pathQuery.SetBoost(0.5)
	var combined query.Query = bleve.NewDisjunctionQuery(textQuery, pathQuery)

	if len(globs) > 0 {
		disjunction := bleve.NewDisjunctionQuery()
		for _, glob := range globs {
			wildcard := bleve.NewWildcardQuery(convertGlobToPattern(glob))
			wildcard.SetField("file_path")
			disjunction.AddQuery(wildcard)
		}
		combined = bleve.NewConjunctionQuery(combined, disjunction)
	}

	req := bleve.NewSearchRequest(combined)
	req.Size = k
	req.Fields = []string{"file_path", "start_line", "end_line", "text"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		if v, ok := h.Fields["file_path"].(string); ok {
			hit.Path = v
		}
		if v, ok := h.Fields["start_line"].(float64); ok {
			hit.StartLine = int(v)
		}
		if v, ok := h.Fields["end_line"].(float64); ok {
			hit.EndLine = int(v)
		}
		if v, ok := h.Fields["text"].(string); ok {
			hit.Snippet = snippet(v, q)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}

// convertGlobToPattern converts a glob to a bleve wildcard over the whole
// path. "**" collapses to "*", which already spans slashes.
func convertGlobToPattern(glob string) string {
	pattern := strings.ReplaceAll(strings.TrimPrefix(glob, "./"), "**", "*")
	pattern = strings.ReplaceAll(pattern, "*/*", "*")
	if !strings.HasPrefix(pattern, "*") && !strings.Contains(pattern, "/") {
		pattern = "*" + pattern
	}
	return pattern
}

// snippet returns up to eight lines around the first line mentioning a
// query term.
func snippet(text, q string) string {
	lines := strings.Split(text, "\n")
	terms := strings.Fields(strings.ToLower(q))
	at := 0
find:
	for n, line := range lines {
		lower := strings.ToLower(line)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				at = n
				break find
			}
		}
	}
	start := max(at-2, 0)
	end := min(start+8, len(lines))
	return strings.Join(lines[start:end], "\n")
}
