package sandbox

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker uses a long-lived Docker container per project.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto selects Docker if available, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

// Config holds configuration for sandbox execution.
type Config struct {
	Mode        Mode          `yaml:"mode"`
	Image       string        `yaml:"image"`  // overrides the detected stack image
	CPU         string        `yaml:"cpu"`    // e.g. "2"
	Memory      string        `yaml:"memory"` // e.g. "2g"
	CmdTimeout  time.Duration `yaml:"cmd_timeout"`
	NoNetwork   bool          `yaml:"no_network"`
	WorkspaceID string        `yaml:"-"`
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeAuto,
		CPU:        "2",
		Memory:     "2g",
		CmdTimeout: defaultCmdTimeout,
	}
}

// IsDockerAvailable checks if Docker is available and accessible.
func IsDockerAvailable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "docker", "ps").Run() == nil
}

// Open returns the sandbox for a workspace directory. A non-empty id
// reattaches to an existing Docker sandbox when one is still around.
func Open(ctx context.Context, cfg Config, hostDir, id string, logger *log.Logger) (Sandbox, error) {
	if logger == nil {
		logger = log.Default()
	}

	switch cfg.Mode {
	case ModeHost:
		logger.Printf("WARNING: Using host sandbox (no isolation). This is insecure and should only be used for development.")
		return NewHostSandbox(hostDir, cfg)
	case ModeDocker:
		return OpenDocker(ctx, cfg, hostDir, id, logger)
	case ModeAuto, "":
		if IsDockerAvailable(ctx) {
			sb, err := OpenDocker(ctx, cfg, hostDir, id, logger)
			if err == nil {
				return sb, nil
			}
			logger.Printf("WARNING: Docker available but sandbox failed: %v. Falling back to host sandbox.", err)
		} else {
			logger.Printf("WARNING: Docker not available. Using host sandbox (no isolation).")
		}
		return NewHostSandbox(hostDir, cfg)
	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", cfg.Mode)
	}
}
