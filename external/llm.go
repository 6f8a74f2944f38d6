// LLM API client for reply and summary generation.
//
// LLMClient speaks the HTTP APIs of Anthropic, OpenAI, Gemini and Bedrock
// (Anthropic models). Request bodies are assembled with sjson and responses
// read with gjson, so only the fields we use are touched.
//
// ADDING A NEW PROVIDER:
//  1. Add a case to defaultEndpoint(), setAuthHeaders(), buildRequestBody(), parseResponse()
//  2. Add a provider constant in types.go and accept it in Config.Validate()
//  3. Add a fake-server test in llm_test.go
package external

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultTimeout for LLM API calls.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize prevents OOM on unexpectedly large API responses (1MB).
	maxResponseSize = 1 << 20

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500

	// anthropicVersion is the Anthropic API version header value.
	anthropicVersion = "2023-06-01"

	// bedrockAnthropicVersion is sent in the body for Anthropic models on Bedrock.
	bedrockAnthropicVersion = "bedrock-2023-05-31"
)

// replyTemperature keeps repeated replies to one post varied.
const replyTemperature = 0.8

// LLMClient implements Generator over provider HTTP APIs.
type LLMClient struct {
	config     Config
	endpoint   string
	httpClient *http.Client
}

// NewLLMClient creates a client for cfg.Provider. For bedrock the HTTP client
// signs requests with SigV4.
func NewLLMClient(cfg Config) (*LLMClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint(cfg)
	}

	client := &http.Client{} // timeout via context, not client
	if cfg.Provider == ProviderBedrock {
		transport, err := NewBedrockSigningTransport(cfg.Region, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bedrock transport: %w", err)
		}
		client.Transport = transport
	}

	return &LLMClient{config: cfg, endpoint: endpoint, httpClient: client}, nil
}

// WithHTTPClient overrides the HTTP client (tests, connection pooling).
func (c *LLMClient) WithHTTPClient(client *http.Client) *LLMClient {
	c.httpClient = client
	return c
}

// Endpoint returns the resolved API endpoint.
func (c *LLMClient) Endpoint() string {
	return c.endpoint
}

// Complete sends prompt to the provider and returns the generated text.
func (c *LLMClient) Complete(ctx context.Context, prompt Prompt, maxOutputChars int) (string, error) {
	provider := c.config.Provider
	maxTokens := tokensForChars(maxOutputChars, c.config.MaxTokens)

	body, err := buildRequestBody(provider, c.config.Model, prompt, maxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to build %s request: %w", provider, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeaders(req, provider, c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", providerError(provider, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", providerError(provider, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", providerError(provider, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateErrorBody(respBody)))
	}

	result, err := parseResponse(provider, respBody)
	if err != nil {
		return "", providerError(provider, err)
	}

	log.Debug().
		Str("provider", provider).
		Str("model", c.config.Model).
		Int64("input_tokens", result.inputTokens).
		Int64("output_tokens", result.outputTokens).
		Dur("latency", time.Since(start)).
		Msg("llm completion")

	return result.content, nil
}

func defaultEndpoint(cfg Config) string {
	switch cfg.Provider {
	case ProviderAnthropic:
		return "https://api.anthropic.com/v1/messages"
	case ProviderGemini:
		return fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	case ProviderBedrock:
		region := cfg.Region
		if region == "" {
			region = defaultAWSRegion
		}
		return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", region, cfg.Model)
	default:
		return "https://api.openai.com/v1/chat/completions"
	}
}

func setAuthHeaders(req *http.Request, provider, apiKey string) {
	switch provider {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	case ProviderBedrock:
		// Signed by the transport.
	case ProviderGemini:
		req.Header.Set("x-goog-api-key", apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func buildRequestBody(provider, model string, prompt Prompt, maxTokens int) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	switch provider {
	case ProviderAnthropic, ProviderBedrock:
		if provider == ProviderBedrock {
			set("anthropic_version", bedrockAnthropicVersion)
		} else {
			set("model", model)
		}
		set("max_tokens", maxTokens)
		set("temperature", replyTemperature)
		if prompt.System != "" {
			set("system", prompt.System)
		}
		set("messages", []map[string]string{{"role": "user", "content": prompt.User}})
	case ProviderGemini:
		if prompt.System != "" {
			set("systemInstruction.parts", []map[string]string{{"text": prompt.System}})
		}
		set("contents", []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": prompt.User}}},
		})
		set("generationConfig.maxOutputTokens", maxTokens)
		set("generationConfig.temperature", replyTemperature)
	default: // openai
		messages := make([]map[string]string, 0, 2)
		if prompt.System != "" {
			messages = append(messages, map[string]string{"role": "system", "content": prompt.System})
		}
		messages = append(messages, map[string]string{"role": "user", "content": prompt.User})
		set("model", model)
		set("messages", messages)
		set("max_completion_tokens", maxTokens)
	}
	return body, err
}

type completion struct {
	content      string
	inputTokens  int64
	outputTokens int64
}

func parseResponse(provider string, body []byte) (*completion, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response")
	}
	doc := gjson.ParseBytes(body)
	result := &completion{}

	switch provider {
	case ProviderAnthropic, ProviderBedrock:
		var b strings.Builder
		doc.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				b.WriteString(block.Get("text").String())
			}
			return true
		})
		result.content = b.String()
		result.inputTokens = doc.Get("usage.input_tokens").Int()
		result.outputTokens = doc.Get("usage.output_tokens").Int()
	case ProviderGemini:
		var b strings.Builder
		doc.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			b.WriteString(part.Get("text").String())
			return true
		})
		result.content = b.String()
		result.inputTokens = doc.Get("usageMetadata.promptTokenCount").Int()
		result.outputTokens = doc.Get("usageMetadata.candidatesTokenCount").Int()
	default:
		result.content = doc.Get("choices.0.message.content").String()
		result.inputTokens = doc.Get("usage.prompt_tokens").Int()
		result.outputTokens = doc.Get("usage.completion_tokens").Int()
	}

	if result.content == "" {
		return nil, fmt.Errorf("empty completion in %s response", provider)
	}
	return result, nil
}

var _ Generator = (*LLMClient)(nil)

// truncateErrorBody cuts body to maxErrorBodyLen bytes on a rune boundary.
func truncateErrorBody(body []byte) string {
	if len(body) <= maxErrorBodyLen {
		return string(body)
	}
	cut := maxErrorBodyLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "... (truncated)"
}
