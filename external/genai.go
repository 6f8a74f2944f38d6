package external

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient implements Generator with the Google GenAI SDK.
type GenAIClient struct {
	client *genai.Client
	config Config
}

// NewGenAIClient creates a Gemini API client. cfg.Endpoint, when set,
// overrides the SDK base URL.
func NewGenAIClient(ctx context.Context, cfg Config) (*GenAIClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIClient{client: client, config: cfg}, nil
}

// Complete generates text for prompt.
func (c *GenAIClient) Complete(ctx context.Context, prompt Prompt, maxOutputChars int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(tokensForChars(maxOutputChars, c.config.MaxTokens)),
		Temperature:     genai.Ptr[float32](replyTemperature),
	}
	if prompt.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(prompt.User), gc)
	if err != nil {
		return "", providerError(ProviderGenAI, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", providerError(ProviderGenAI, fmt.Errorf("no candidates in response"))
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", providerError(ProviderGenAI, fmt.Errorf("empty completion"))
	}
	return b.String(), nil
}

var _ Generator = (*GenAIClient)(nil)
