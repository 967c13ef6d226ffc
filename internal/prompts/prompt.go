// Package prompts holds the versioned system prompts and builds the build
// agent's prompt from a project's business context.
package prompts

// PromptVersion represents a version identifier for prompts.
type PromptVersion string

const (
	PromptV1 PromptVersion = "1.0.0"
)

// Prompt represents a versioned prompt with metadata.
type Prompt struct {
	ID          string        // Unique identifier (e.g., "cofounder")
	Version     PromptVersion // Version of this prompt
	Content     string        // The prompt text, with {{variable}} placeholders
	Description string
	Deprecated  bool
}
