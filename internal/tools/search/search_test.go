package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

func newWorkspace(t *testing.T, files map[string]string) sandbox.Sandbox {
	t.Helper()
	sb, err := sandbox.NewHostSandbox(t.TempDir(), sandbox.DefaultConfig())
	require.NoError(t, err)
	for p, content := range files {
		require.NoError(t, sb.WriteFile(context.Background(), p, []byte(content)))
	}
	return sb
}

var project = map[string]string{
	"src/auth/login.ts":   "export async function login(email: string) {\n  return stripe.customers.create({ email })\n}\n",
	"src/pages/Home.tsx":  "export default function Home() {\n  return <h1>Welcome</h1>\n}\n",
	"README.md":           "# Demo\nRun npm install then npm run dev.\n",
	"node_modules/x/a.js": "function login() {}\n",
	"public/logo.png":     "\x89PNG",
	"src/payments/sub.ts": "// TODO: webhook\nexport const PLAN = 'pro'\n",
}

func TestGrep(t *testing.T) {
	sb := newWorkspace(t, project)
	ctx := context.Background()

	res, err := Grep(ctx, sb, `function \w+\(`, GrepOptions{})
	require.NoError(t, err)
	paths := make([]string, 0, len(res.Matches))
	for _, m := range res.Matches {
		paths = append(paths, m.Path)
	}
	assert.ElementsMatch(t, []string{"src/auth/login.ts", "src/pages/Home.tsx"}, paths, "node_modules is skipped")

	res, err = Grep(ctx, sb, "welcome", GrepOptions{CaseInsensitive: true, Globs: []string{"*.tsx"}})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, Match{Path: "src/pages/Home.tsx", Line: 2, Text: "return <h1>Welcome</h1>"}, res.Matches[0])

	res, err = Grep(ctx, sb, "export", GrepOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)
	assert.True(t, res.Truncated)

	_, err = Grep(ctx, sb, "(", GrepOptions{})
	require.Error(t, err)
	assert.Equal(t, "ValueError", engine.ErrorTypeName(err))
}

func TestMatchGlobs(t *testing.T) {
	tests := []struct {
		path  string
		globs []string
		want  bool
	}{
		{"src/a.ts", nil, true},
		{"src/a.ts", []string{"*.ts"}, true},
		{"src/a.ts", []string{"*.tsx"}, false},
		{"src/pages/Home.tsx", []string{"src/**/*.tsx"}, true},
		{"src/Home.tsx", []string{"src/**/*.tsx"}, true},
		{"lib/Home.tsx", []string{"src/**/*.tsx"}, false},
		{"src/pages/Home.tsx", []string{"src/**"}, true},
		{"src/a.ts", []string{"./src/*.ts"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlobs(tt.path, tt.globs), "%s %v", tt.path, tt.globs)
	}
}

func TestGrepTool(t *testing.T) {
	sb := newWorkspace(t, project)
	tool := NewGrepTool(sb)
	args := map[string]any{"pattern": "TODO", "globs": []any{"*.ts"}}
	require.NoError(t, tool.ValidateArgs(args))

	out, err := tool.Fn(context.Background(), args)
	require.NoError(t, err)
	var res GrepResult
	require.NoError(t, json.Unmarshal([]byte(out.Text), &res))
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "src/payments/sub.ts", res.Matches[0].Path)
}

func TestChunkFile(t *testing.T) {
	lines := make([]string, 170)
	for i := range lines {
		lines[i] = "x"
	}
	chunks := chunkFile("a.go", strings.Join(lines, "\n"))
	require.Len(t, chunks, 3)
	assert.Equal(t, "a.go#1", chunks[0].id)
	assert.Equal(t, 80, chunks[0].end)
	assert.Equal(t, "a.go#161", chunks[2].id)
	assert.Equal(t, 170, chunks[2].end)
}

func TestIndex_SearchUpdateRemove(t *testing.T) {
	sb := newWorkspace(t, project)
	ctx := context.Background()
	idx, err := OpenIndex("", sb, nil)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "png and node_modules are not indexed")

	hits, err := idx.Search("login email", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "src/auth/login.ts", hits[0].Path)
	assert.Equal(t, 1, hits[0].StartLine)
	assert.Contains(t, hits[0].Snippet, "stripe.customers.create")

	hits, err = idx.Search("export", []string{"*.tsx"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "src/pages/Home.tsx", hits[0].Path)

	require.NoError(t, sb.WriteFile(ctx, "src/auth/login.ts", []byte("export function logout() {}\n")))
	_, err = idx.Update(ctx, []string{"src/auth/login.ts"})
	require.NoError(t, err)
	hits, err = idx.Search("email", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, sb.Remove(ctx, "README.md"))
	_, err = idx.Update(ctx, []string{"README.md"})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	require.NoError(t, idx.Remove([]string{"src/pages/Home.tsx"}))
	assert.Equal(t, 2, idx.Len())
}

func TestOpenIndex_RecreatesCorrupted(t *testing.T) {
	sb := newWorkspace(t, project)
	indexPath := filepath.Join(t.TempDir(), "code.bleve")
	require.NoError(t, os.MkdirAll(indexPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(indexPath, "index_meta.json"), []byte("{not json"), 0o644))

	idx, err := OpenIndex(indexPath, sb, nil)
	require.NoError(t, err)
	defer idx.Close()
	_, err = idx.Rebuild(context.Background())
	assert.NoError(t, err)
}

func TestSearchCodeTool_BuildsIndexOnFirstUse(t *testing.T) {
	sb := newWorkspace(t, project)
	idx, err := OpenIndex("", sb, nil)
	require.NoError(t, err)
	defer idx.Close()

	out, err := NewSearchCodeTool(idx).Fn(context.Background(), map[string]any{"query": "webhook"})
	require.NoError(t, err)
	var res CodeResult
	require.NoError(t, json.Unmarshal([]byte(out.Text), &res))
	assert.Equal(t, 4, res.Files)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "src/payments/sub.ts", res.Hits[0].Path)
}

func TestWatcher_ReindexesChangedFiles(t *testing.T) {
	sb := newWorkspace(t, project)
	ctx := context.Background()
	idx, err := OpenIndex("", sb, nil)
	require.NoError(t, err)
	defer idx.Close()
	_, err = idx.Rebuild(ctx)
	require.NoError(t, err)

	w, err := NewWatcher(sb.HostDir(), idx, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(sb.HostDir(), "src", "billing.ts"), []byte("export const invoiceTotal = 42\n"), 0o644))
	assert.Eventually(t, func() bool {
		hits, err := idx.Search("invoiceTotal", nil, 5)
		return err == nil && len(hits) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Stop())
}
