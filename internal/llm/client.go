package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrMalformedResponse means the model answered but the body held no usable
// content.
var ErrMalformedResponse = errors.New("malformed model response")

// Completer sends one prompt to one model.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	SiteURL     string
	SiteName    string
	Temperature float32
	MaxTokens   int
}

// Client talks to an OpenAI-compatible chat completions API. Deadlines come
// from the caller's context.
type Client struct {
	client      *openai.Client
	temperature float32
	maxTokens   int
}

func NewClient(cfg ClientConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	headers := http.Header{}
	if cfg.SiteURL != "" {
		headers.Set("HTTP-Referer", cfg.SiteURL)
	}
	if cfg.SiteName != "" {
		headers.Set("X-Title", cfg.SiteName)
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}

	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	logger.Info("LLM client initialized",
		zap.String("base_url", clientCfg.BaseURL),
		zap.Float32("temperature", cfg.Temperature),
		zap.Int("max_tokens", cfg.MaxTokens),
	)

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *Client) MaxTokens() int { return c.maxTokens }

func (c *Client) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	logger.Debug("LLM completion generated",
		zap.String("model", modelID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return content, nil
}

// headerTransport adds fixed attribution headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header[k] = v
	}
	return t.base.RoundTrip(req)
}
