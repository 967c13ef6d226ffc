//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// HostSandbox runs commands directly on the host machine without isolation.
type HostSandbox struct {
	hostFS
	cfg Config
}

// NewHostSandbox creates a host sandbox rooted at dir.
func NewHostSandbox(dir string, cfg Config) (*HostSandbox, error) {
	fsys, err := newHostFS(dir)
	if err != nil {
		return nil, err
	}
	return &HostSandbox{hostFS: fsys, cfg: cfg}, nil
}

func (s *HostSandbox) ID() string { return "host:" + s.root }

func (s *HostSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	cctx, cancel := context.WithTimeout(ctx, cmdTimeout(timeout, s.cfg.CmdTimeout))
	defer cancel()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.root
	// Own process group so a timeout kills child processes too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return ExecResult{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(started),
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, waitErr
		}
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			res.ExitCode = 137
		}
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

func (s *HostSandbox) Close(context.Context) error { return nil }
