// Package external provides the text-generation capability used for replies
// and history summaries.
//
// DESIGN: The core treats generation as an opaque, possibly-slow,
// possibly-failing function: given a prompt and an output budget, return
// text or fail with ErrProvider. Concrete clients:
//   - LLMClient:   HTTP providers (anthropic, openai, gemini, bedrock)
//   - GenAIClient: Gemini through the google genai SDK
package external

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProvider marks quota, timeout, network and protocol failures of the
// generation provider.
var ErrProvider = errors.New("external: provider error")

// Provider names accepted in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderBedrock   = "bedrock"
	ProviderGenAI     = "genai"
)

// Prompt is a rendered request to the model.
type Prompt struct {
	System string
	User   string
}

// Generator is the text-generation capability.
type Generator interface {
	// Complete returns generated text for prompt. maxOutputChars is the
	// caller's output budget; implementations translate it to provider
	// limits. Failures wrap ErrProvider.
	Complete(ctx context.Context, prompt Prompt, maxOutputChars int) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt Prompt, maxOutputChars int) (string, error)

// Complete calls f.
func (f GeneratorFunc) Complete(ctx context.Context, prompt Prompt, maxOutputChars int) (string, error) {
	return f(ctx, prompt, maxOutputChars)
}

// Config configures the generation provider.
type Config struct {
	Provider  string        `yaml:"provider"`   // anthropic, openai, gemini, bedrock, genai
	Model     string        `yaml:"model"`      // Model name or bedrock model id
	APIKey    string        `yaml:"api_key"`    // Not used for bedrock
	Endpoint  string        `yaml:"endpoint"`   // Optional; provider default when empty
	MaxTokens int           `yaml:"max_tokens"` // Upper bound on output tokens (0 = derive from chars)
	Timeout   time.Duration `yaml:"timeout"`    // Per-call timeout
	Region    string        `yaml:"region"`     // AWS region for bedrock
}

// Validate checks the generator configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "":
		return fmt.Errorf("generator.provider is required")
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderGenAI:
		if c.APIKey == "" {
			return fmt.Errorf("generator.api_key is required for %s", c.Provider)
		}
	case ProviderBedrock:
	default:
		return fmt.Errorf("invalid generator.provider: %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("generator.model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("generator.max_tokens must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("generator.timeout must not be negative")
	}
	return nil
}

// NewGenerator builds the configured client.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == ProviderGenAI {
		return NewGenAIClient(ctx, cfg)
	}
	return NewLLMClient(cfg)
}

// tokensForChars converts a character budget into an output-token limit.
// CJK text and emoji can cost several tokens per character, and models need
// headroom to finish a sentence, so the estimate is generous.
func tokensForChars(maxChars, configured int) int {
	tokens := maxChars * 3
	if tokens < 32 {
		tokens = 32
	}
	if configured > 0 && tokens > configured {
		tokens = configured
	}
	return tokens
}

func providerError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrProvider, err)
}
