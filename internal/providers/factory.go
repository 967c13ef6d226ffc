package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// Config selects and authenticates a provider.
type Config struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type providerInfo struct {
	keyEnv       string
	defaultModel string
	baseURL      string
	// local servers accept any key
	placeholderKey string
	anthropic      bool
}

var known = map[string]providerInfo{
	"anthropic": {keyEnv: "ANTHROPIC_API_KEY", defaultModel: "claude-sonnet-4-20250514", anthropic: true},
	"openai":    {keyEnv: "OPENAI_API_KEY", defaultModel: "gpt-4o"},
	"kimi":      {keyEnv: "KIMI_API_KEY", defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	"gemini":    {keyEnv: "GEMINI_API_KEY", defaultModel: "gemini-1.5-flash", baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"deepseek":  {keyEnv: "DEEPSEEK_API_KEY", defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	"groq":      {keyEnv: "GROQ_API_KEY", defaultModel: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
	"lmstudio":  {defaultModel: "local-model", baseURL: "http://localhost:1234/v1", placeholderKey: "lm-studio"},
	"ollama":    {defaultModel: "llama3.1", baseURL: "http://localhost:11434/v1", placeholderKey: "ollama"},
}

// Supported lists the provider names NewLLMClient accepts.
func Supported() []string {
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLLMClient builds the client for cfg and returns it with the resolved
// model name. A missing API key falls back to the provider's env variable.
func NewLLMClient(cfg Config) (engine.LLMClient, string, error) {
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "anthropic"
	}
	info, ok := known[name]
	if !ok {
		return nil, "", fmt.Errorf("unknown LLM provider: %s (supported: %s)", cfg.Provider, strings.Join(Supported(), ", "))
	}

	model := cfg.Model
	if model == "" {
		model = info.defaultModel
	}
	apiKey := cfg.APIKey
	if apiKey == "" && info.keyEnv != "" {
		apiKey = os.Getenv(info.keyEnv)
	}
	if apiKey == "" {
		apiKey = info.placeholderKey
	}
	if apiKey == "" {
		return nil, "", fmt.Errorf("%s not set", info.keyEnv)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = info.baseURL
	}

	if info.anthropic {
		client, err := NewAnthropicClient(apiKey, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, model, nil
	}
	client, err := NewOpenAIClient(apiKey, baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", name, err)
	}
	return client, model, nil
}
