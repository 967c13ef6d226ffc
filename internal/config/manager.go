// Package config loads the cofounder configuration: defaults, then the YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/providers"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

// RunnerSettings tunes the agent loop.
type RunnerSettings struct {
	MaxToolCalls    int     `yaml:"max_tool_calls"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float32 `yaml:"temperature"`
	SummaryLimit    int     `yaml:"summary_limit"`
	LLMRetries      int     `yaml:"llm_retries"`
}

// StoreSettings locates the SQLite database.
type StoreSettings struct {
	Path            string `yaml:"path"`
	KeepCheckpoints int    `yaml:"keep_checkpoints"`
}

// Config holds the service configuration.
type Config struct {
	LLM         providers.Config `yaml:"llm"`
	Sandbox     sandbox.Config   `yaml:"sandbox"`
	Runner      RunnerSettings   `yaml:"runner"`
	Store       StoreSettings    `yaml:"store"`
	RedisURL    string           `yaml:"redis_url"`
	Workspaces  string           `yaml:"workspaces_dir"` // one subdirectory per project
	IndexDir    string           `yaml:"index_dir"`      // empty keeps search indexes in memory
	MetricsAddr string           `yaml:"metrics_addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	rc := engine.DefaultRunnerConfig()
	return &Config{
		LLM:     providers.Config{Provider: "anthropic", Model: rc.Model},
		Sandbox: sandbox.DefaultConfig(),
		Runner: RunnerSettings{
			MaxToolCalls:    rc.MaxToolCalls,
			MaxOutputTokens: rc.MaxOutputTokens,
			Temperature:     rc.Temperature,
			SummaryLimit:    rc.SummaryLimit,
			LLMRetries:      rc.LLMRetry.MaxRetries,
		},
		Store:      StoreSettings{Path: "cofounder.db", KeepCheckpoints: 20},
		RedisURL:   "redis://localhost:6379/0",
		Workspaces: "workspaces",
	}
}

// RunnerConfig converts the settings into the engine's config.
func (c *Config) RunnerConfig() engine.RunnerConfig {
	rc := engine.DefaultRunnerConfig()
	if c.LLM.Model != "" {
		rc.Model = c.LLM.Model
	}
	if c.Runner.MaxToolCalls > 0 {
		rc.MaxToolCalls = c.Runner.MaxToolCalls
	}
	if c.Runner.MaxOutputTokens > 0 {
		rc.MaxOutputTokens = c.Runner.MaxOutputTokens
	}
	if c.Runner.Temperature > 0 {
		rc.Temperature = c.Runner.Temperature
	}
	if c.Runner.SummaryLimit > 0 {
		rc.SummaryLimit = c.Runner.SummaryLimit
	}
	if c.Runner.LLMRetries > 0 {
		rc.LLMRetry.MaxRetries = c.Runner.LLMRetries
	}
	return rc
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Runner.MaxToolCalls < 0 {
		errs = append(errs, fmt.Errorf("runner.max_tool_calls must not be negative"))
	}
	switch c.Sandbox.Mode {
	case sandbox.ModeAuto, sandbox.ModeDocker, sandbox.ModeHost, "":
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode %q must be one of auto, docker, host", c.Sandbox.Mode))
	}
	if c.Workspaces == "" {
		errs = append(errs, fmt.Errorf("workspaces_dir is required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	return errors.Join(errs...)
}

// Manager handles loading and saving the configuration.
type Manager struct {
	path   string
	getenv func(string) string
}

// NewManager creates a manager for the user's config file.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "cofounder", "config.yaml")), nil
}

// NewManagerAt creates a manager for an explicit config file path.
func NewManagerAt(path string) *Manager {
	return &Manager{path: path, getenv: os.Getenv}
}

// GetConfigPath returns the path of the config file.
func (m *Manager) GetConfigPath() string {
	return m.path
}

// Load reads the configuration. A missing file yields the defaults;
// environment variables override both.
func (m *Manager) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config yaml: %w", err)
		}
	}

	if err := m.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", m.path, err)
	}
	return cfg, nil
}

func (m *Manager) applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := m.getenv(name); v != "" {
			*dst = v
		}
	}
	str("COFOUNDER_PROVIDER", &cfg.LLM.Provider)
	str("COFOUNDER_MODEL", &cfg.LLM.Model)
	str("COFOUNDER_API_KEY", &cfg.LLM.APIKey)
	str("COFOUNDER_BASE_URL", &cfg.LLM.BaseURL)
	str("COFOUNDER_DB", &cfg.Store.Path)
	str("COFOUNDER_WORKSPACES", &cfg.Workspaces)
	str("COFOUNDER_INDEX_DIR", &cfg.IndexDir)
	str("COFOUNDER_METRICS_ADDR", &cfg.MetricsAddr)
	str("COFOUNDER_SANDBOX_IMAGE", &cfg.Sandbox.Image)
	str("REDIS_URL", &cfg.RedisURL)

	// provider keys apply only to their own provider
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic", "":
			str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
		case "openai":
			str("OPENAI_API_KEY", &cfg.LLM.APIKey)
		}
	}

	if v := m.getenv("COFOUNDER_SANDBOX"); v != "" {
		cfg.Sandbox.Mode = sandbox.Mode(v)
	}
	if v := m.getenv("COFOUNDER_MAX_TOOL_CALLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COFOUNDER_MAX_TOOL_CALLS: %w", err)
		}
		cfg.Runner.MaxToolCalls = n
	}
	if v := m.getenv("COFOUNDER_CMD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COFOUNDER_CMD_TIMEOUT: %w", err)
		}
		cfg.Sandbox.CmdTimeout = d
	}
	return nil
}

// Save writes the configuration with owner-only permissions, since it may
// hold an API key.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}
