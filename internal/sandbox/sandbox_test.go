package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

func newHost(t *testing.T) *HostSandbox {
	t.Helper()
	sb, err := NewHostSandbox(t.TempDir(), DefaultConfig())
	require.NoError(t, err)
	return sb
}

func TestResolve(t *testing.T) {
	sb := newHost(t)
	root := sb.HostDir()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"src/app.ts", filepath.Join(root, "src", "app.ts"), false},
		{"/workspace/src/app.ts", filepath.Join(root, "src", "app.ts"), false},
		{"/workspace", root, false},
		{"", root, false},
		{"../../etc/passwd", filepath.Join(root, "etc", "passwd"), false},
		{"/etc/passwd", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := sb.Resolve(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, engine.ErrTypePermission, engine.ErrorTypeName(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHostFS_ReadWriteRemove(t *testing.T) {
	sb := newHost(t)
	ctx := context.Background()

	_, err := sb.ReadFile(ctx, "missing.txt")
	require.Error(t, err)
	assert.Equal(t, engine.ErrTypeFileNotFound, engine.ErrorTypeName(err))

	require.NoError(t, sb.WriteFile(ctx, "src/deep/a.txt", []byte("hello")))
	data, err := sb.ReadFile(ctx, "/workspace/src/deep/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, sb.Remove(ctx, "src"))
	_, err = os.Stat(filepath.Join(sb.HostDir(), "src"))
	assert.True(t, os.IsNotExist(err))

	err = sb.Remove(ctx, "src")
	assert.Equal(t, engine.ErrTypeFileNotFound, engine.ErrorTypeName(err))
	assert.Error(t, sb.Remove(ctx, "/workspace"))
}

func TestHostFS_ListFiles(t *testing.T) {
	sb := newHost(t)
	ctx := context.Background()
	for _, f := range []string{"package.json", "src/index.ts", "src/lib/util.ts", "node_modules/x/index.js", "build/out.js"} {
		require.NoError(t, sb.WriteFile(ctx, f, []byte("x")))
	}
	require.NoError(t, sb.WriteFile(ctx, ".gitignore", []byte("build/\n")))

	files, truncated, err := sb.ListFiles(ctx, "", true, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, []string{".gitignore", "package.json", "src/", "src/index.ts", "src/lib/", "src/lib/util.ts"}, files)

	files, _, err = sb.ListFiles(ctx, "src", false, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/index.ts", "src/lib/"}, files)

	files, truncated, err = sb.ListFiles(ctx, "", true, 2)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, files, 2)

	_, _, err = sb.ListFiles(ctx, "nope", true, 0)
	assert.Equal(t, engine.ErrTypeFileNotFound, engine.ErrorTypeName(err))
}

func TestHostSandbox_Exec(t *testing.T) {
	sb := newHost(t)
	ctx := context.Background()

	res, err := sb.Exec(ctx, "echo out; echo err >&2; exit 3", 0)
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)

	res, err = sb.Exec(ctx, "sleep 5", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.NotZero(t, res.ExitCode)

	require.NoError(t, sb.WriteFile(ctx, "hello.txt", []byte("hi")))
	res, err = sb.Exec(ctx, "cat hello.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Stdout)
}

func TestParseLimits(t *testing.T) {
	assert.EqualValues(t, 512*1024*1024, parseMemory("512m"))
	assert.EqualValues(t, 2*1024*1024*1024, parseMemory(""))
	assert.EqualValues(t, 1_500_000_000, parseCPU("1.5"))
	assert.EqualValues(t, 2_000_000_000, parseCPU("bogus"))
}
