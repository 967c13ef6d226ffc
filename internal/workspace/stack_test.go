package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  ProjectType
	}{
		{"empty", nil, ProjectTypeUnknown},
		{"package.json", []string{"package.json"}, ProjectTypeNode},
		{"requirements", []string{"requirements.txt", "app.py"}, ProjectTypePython},
		{"go manifest wins over extensions", []string{"go.mod", "a.py", "b.py", "c.py"}, ProjectTypeGo},
		{"extension majority", []string{"a.py", "b.py", "c.py", "x.go"}, ProjectTypePython},
		{"too few files", []string{"a.rs", "b.rs"}, ProjectTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
			}
			assert.Equal(t, tt.want, Detect(dir).Type)
		})
	}
}

func TestLookup(t *testing.T) {
	assert.Equal(t, "node:20-alpine", Lookup(ProjectTypeNode).Image)
	assert.Equal(t, "go test ./...", Lookup(ProjectTypeGo).Test)
	assert.Equal(t, ProjectTypeUnknown, Lookup("cobol").Type)
}
