package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Tool error type names. They feed error classification and signatures.
const (
	ErrTypeFileNotFound      = "FileNotFoundError"
	ErrTypePermission        = "PermissionError"
	ErrTypeTimeout           = "TimeoutError"
	ErrTypeSandbox           = "SandboxError"
	ErrTypeCommandNotAllowed = "CommandNotAllowed"
	ErrTypeEditMismatch      = "EditMismatchError"
)

type ToolFunc func(ctx context.Context, args map[string]any) (ToolOutput, error)

// Tool is one callable capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	ReadOnly    bool
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolValidationError{
			ToolName: t.Name,
			Errors:   errorMsgs,
		}
	}
	return nil
}

// Schema returns the provider-facing description of the tool.
func (t Tool) Schema() ToolSchema {
	return ToolSchema{Name: t.Name, Description: t.Description, JSONSchema: t.SchemaJSON}
}

type ToolRegistry map[string]Tool

// Schemas returns every tool schema sorted by name, so prompts stay stable
// across runs.
func (r ToolRegistry) Schemas() []ToolSchema {
	s := make([]ToolSchema, 0, len(r))
	for _, t := range r {
		s = append(s, t.Schema())
	}
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
	return s
}
