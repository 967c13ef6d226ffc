package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"

	"github.com/ChamsBouzaiene/cofounder/internal/workspace"
)

const sandboxLabel = "dev.cofounder.sandbox"

// DockerSandbox keeps one container per project alive across commands.
// The workspace is bind-mounted, so file operations go straight to disk.
type DockerSandbox struct {
	hostFS
	client      *client.Client
	cfg         Config
	containerID string
	logger      *log.Logger
}

// OpenDocker reattaches to container id when it still exists, otherwise
// starts a new container for the workspace.
func OpenDocker(ctx context.Context, cfg Config, hostDir, id string, logger *log.Logger) (*DockerSandbox, error) {
	fsys, err := newHostFS(hostDir)
	if err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}

	s := &DockerSandbox{hostFS: fsys, client: cli, cfg: cfg, logger: logger}
	if id != "" {
		if err := s.reattach(ctx, id); err == nil {
			return s, nil
		} else if !errdefs.IsNotFound(err) {
			return nil, err
		}
		logger.Printf("sandbox %s is gone, starting a new one", shortID(id))
	}
	if err := s.create(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DockerSandbox) ID() string { return s.containerID }

func (s *DockerSandbox) reattach(ctx context.Context, id string) error {
	info, err := s.client.ContainerInspect(ctx, id)
	if err != nil {
		return err
	}
	if info.State == nil || !info.State.Running {
		if err := s.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to restart sandbox %s: %w", shortID(id), err)
		}
	}
	s.containerID = info.ID
	s.logger.Printf("reattached to sandbox %s", shortID(id))
	return nil
}

func (s *DockerSandbox) create(ctx context.Context) error {
	img := s.cfg.Image
	if img == "" {
		img = workspace.Detect(s.root).Image
	}
	if err := s.ensureImage(ctx, img); err != nil {
		return fmt.Errorf("failed to ensure image %s: %w", img, err)
	}

	containerConfig := &container.Config{
		Image:           img,
		Cmd:             []string{"sleep", "infinity"},
		WorkingDir:      WorkDir,
		Env:             []string{"HOME=/tmp", "CI=true"},
		Labels:          map[string]string{sandboxLabel: s.cfg.WorkspaceID},
		NetworkDisabled: s.cfg.NoNetwork,
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: s.root,
			Target: WorkDir,
		}},
		Resources: container.Resources{
			Memory:   parseMemory(s.cfg.Memory),
			NanoCPUs: parseCPU(s.cfg.CPU),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 4096, Hard: 4096},
			},
		},
		SecurityOpt: []string{"no-new-privileges"},
		Tmpfs:       map[string]string{"/tmp": "rw,nosuid,size=512m"},
	}

	resp, err := s.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = s.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}
	s.containerID = resp.ID
	s.logger.Printf("started sandbox %s (%s)", shortID(resp.ID), img)
	return nil
}

// Exec runs command through sh inside the container. The coreutils/busybox
// timeout wrapper kills the process tree when the deadline passes.
func (s *DockerSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	timeout = cmdTimeout(timeout, s.cfg.CmdTimeout)
	secs := strconv.Itoa(int(timeout.Round(time.Second) / time.Second))
	cmd := []string{"timeout", "-s", "KILL", secs, "sh", "-c", command}

	// Grace period beyond the in-container timeout for attach and teardown
	execCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	created, err := s.client.ContainerExecCreate(execCtx, s.containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	started := time.Now()
	attach, err := s.client.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil && err != io.EOF {
			return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-execCtx.Done():
		res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 137, TimedOut: true, Duration: time.Since(started)}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, nil
	}

	inspect, err := s.client.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}
	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
		Duration: time.Since(started),
	}
	// timeout -s KILL exits 137 when it fires
	if inspect.ExitCode == 137 && res.Duration >= timeout {
		res.TimedOut = true
	}
	return res, nil
}

// Stop halts the container but keeps it for a later reattach.
func (s *DockerSandbox) Stop(ctx context.Context) error {
	timeout := 5
	return s.client.ContainerStop(ctx, s.containerID, container.StopOptions{Timeout: &timeout})
}

// Close removes the container. The workspace directory stays on disk.
func (s *DockerSandbox) Close(ctx context.Context) error {
	defer s.client.Close()
	err := s.client.ContainerRemove(ctx, s.containerID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove sandbox %s: %w", shortID(s.containerID), err)
	}
	return nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (s *DockerSandbox) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := s.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}
	reader, err := s.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Drain the pull output (required for pull to complete)
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// parseMemory parses a memory string such as "1g" or "512m" to bytes.
func parseMemory(memStr string) int64 {
	memStr = strings.TrimSpace(memStr)
	if memStr == "" {
		return 2 * 1024 * 1024 * 1024
	}
	n, err := units.RAMInBytes(memStr)
	if err != nil || n <= 0 {
		return 2 * 1024 * 1024 * 1024
	}
	return n
}

// parseCPU parses a CPU count such as "2" or "1.5" to NanoCPUs.
func parseCPU(cpuStr string) int64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(cpuStr), 64)
	if err != nil || value <= 0 {
		value = 2
	}
	return int64(value * 1e9)
}
