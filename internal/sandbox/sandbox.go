// Package sandbox runs the build's commands and file operations in an
// isolated workspace that survives across agent sessions.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// WorkDir is where the workspace appears inside the sandbox.
const WorkDir = "/workspace"

const defaultCmdTimeout = 2 * time.Minute

// ExecResult captures output of a command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Sandbox is a persistent execution environment for one project.
type Sandbox interface {
	// ID identifies the sandbox so a resumed session can reattach.
	ID() string
	// Exec runs a shell command in the workspace. A non-zero exit code is
	// reported in the result, not as an error.
	Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error)
	ReadFile(ctx context.Context, p string) ([]byte, error)
	WriteFile(ctx context.Context, p string, data []byte) error
	Remove(ctx context.Context, p string) error
	// ListFiles returns workspace-relative paths under dir, honouring
	// .gitignore. It reports whether the listing hit limit.
	ListFiles(ctx context.Context, dir string, recursive bool, limit int) ([]string, bool, error)
	// HostDir is the workspace directory on the host.
	HostDir() string
	Close(ctx context.Context) error
}

var defaultIgnores = []string{".git", ".cofounder", "node_modules", "__pycache__", ".venv", "dist", ".next"}

// hostFS implements the file half of Sandbox over the bind-mounted
// workspace directory.
type hostFS struct {
	root string
}

func newHostFS(root string) (hostFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return hostFS{}, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return hostFS{}, fmt.Errorf("create workspace: %w", err)
	}
	return hostFS{root: abs}, nil
}

func (h hostFS) HostDir() string { return h.root }

// Resolve maps a workspace path (relative, or absolute under WorkDir) to a
// host path, refusing anything that escapes the workspace.
func (h hostFS) Resolve(p string) (string, error) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	switch {
	case p == WorkDir:
		p = "."
	case strings.HasPrefix(p, WorkDir+"/"):
		p = strings.TrimPrefix(p, WorkDir+"/")
	case strings.HasPrefix(p, "/"):
		return "", engine.NewToolError(engine.ErrTypePermission, "path %s is outside the workspace", p)
	}
	full := filepath.Join(h.root, filepath.FromSlash(path.Clean("/" + p)))
	if full != h.root && !strings.HasPrefix(full, h.root+string(filepath.Separator)) {
		return "", engine.NewToolError(engine.ErrTypePermission, "path %s is outside the workspace", p)
	}
	return full, nil
}

func (h hostFS) ReadFile(_ context.Context, p string) ([]byte, error) {
	full, err := h.Resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fsError(p, err)
	}
	return data, nil
}

func (h hostFS) WriteFile(_ context.Context, p string, data []byte) error {
	full, err := h.Resolve(p)
	if err != nil {
		return err
	}
	if full == h.root {
		return engine.NewToolError(engine.ErrTypePermission, "cannot write to the workspace root")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fsError(p, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fsError(p, err)
	}
	return nil
}

func (h hostFS) Remove(_ context.Context, p string) error {
	full, err := h.Resolve(p)
	if err != nil {
		return err
	}
	if full == h.root {
		return engine.NewToolError(engine.ErrTypePermission, "cannot delete the workspace root")
	}
	info, err := os.Stat(full)
	if err != nil {
		return fsError(p, err)
	}
	if info.IsDir() {
		err = os.RemoveAll(full)
	} else {
		err = os.Remove(full)
	}
	return fsError(p, err)
}

func (h hostFS) ListFiles(_ context.Context, dir string, recursive bool, limit int) ([]string, bool, error) {
	start, err := h.Resolve(dir)
	if err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = 1000
	}

	patterns := append([]string(nil), defaultIgnores...)
	if data, err := os.ReadFile(filepath.Join(h.root, ".gitignore")); err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}
	matcher := gitignore.CompileIgnoreLines(patterns...)

	var files []string
	truncated := false
	walkErr := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start {
				return err
			}
			return nil
		}
		if p == start {
			return nil
		}
		rel, _ := filepath.Rel(h.root, p)
		rel = filepath.ToSlash(rel)
		if matcher.MatchesPath(rel) || (d.IsDir() && matcher.MatchesPath(rel+"/")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		if d.IsDir() {
			files = append(files, rel+"/")
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if walkErr != nil {
		return nil, false, fsError(dir, walkErr)
	}
	sort.Strings(files)
	return files, truncated, nil
}

// fsError turns os errors into typed tool errors.
func fsError(p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return &engine.ToolError{Type: engine.ErrTypeFileNotFound, Message: fmt.Sprintf("file not found: %s", p), Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &engine.ToolError{Type: engine.ErrTypePermission, Message: fmt.Sprintf("permission denied: %s", p), Err: err}
	default:
		return &engine.ToolError{Type: "OSError", Message: err.Error(), Err: err}
	}
}

func cmdTimeout(timeout, fallback time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if fallback > 0 {
		return fallback
	}
	return defaultCmdTimeout
}
