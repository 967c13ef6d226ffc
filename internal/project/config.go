// Package project stores a project's business context and founder rules
// next to its code, so a resumed build can rebuild its prompt.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/cofounder/internal/prompts"
)

const (
	// Dir is the per-project metadata directory inside the workspace.
	Dir = ".cofounder"
	// ContextFile holds the project's BusinessContext.
	ContextFile = "context.yaml"
	// RulesFile holds extra instructions from the founder.
	RulesFile = "rules"
)

func contextPath(root string) string {
	return filepath.Join(root, Dir, ContextFile)
}

func rulesPath(root string) string {
	return filepath.Join(root, Dir, RulesFile)
}

// ContextExists checks if a project context file exists.
func ContextExists(root string) bool {
	_, err := os.Stat(contextPath(root))
	return err == nil
}

// LoadContext reads the project's business context.
// Returns nil and no error if the file does not exist.
func LoadContext(root string) (*prompts.BusinessContext, error) {
	data, err := os.ReadFile(contextPath(root))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project context: %w", err)
	}

	var bc prompts.BusinessContext
	if err := yaml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("failed to parse project context: %w", err)
	}
	return &bc, nil
}

// SaveContext writes the project's business context, creating the
// metadata directory if needed.
func SaveContext(root string, bc prompts.BusinessContext) error {
	if err := os.MkdirAll(filepath.Join(root, Dir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}
	data, err := yaml.Marshal(bc)
	if err != nil {
		return fmt.Errorf("failed to marshal project context: %w", err)
	}
	if err := os.WriteFile(contextPath(root), data, 0o644); err != nil {
		return fmt.Errorf("failed to write project context: %w", err)
	}
	return nil
}

// LoadRules reads the founder's rules file.
// Returns empty string and no error if the file does not exist.
func LoadRules(root string) (string, error) {
	data, err := os.ReadFile(rulesPath(root))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
