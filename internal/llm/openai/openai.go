// Package openai talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, LM Studio, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	gopenai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
)

// Config configures the chat client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client implements domain.LanguageModel with a single user message per call.
// Deadlines come from the caller's context.
type Client struct {
	client      *gopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

var _ domain.LanguageModel = (*Client)(nil)

// NewClient reads the API key from the configured environment variable.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfig, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: llm model is required", domain.ErrConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	oc := gopenai.DefaultConfig(key)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{}
	return &Client{
		client:      gopenai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends prompt as a user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := gopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []gopenai.ChatCompletionMessage{
			{Role: gopenai.ChatMessageRoleUser, Content: prompt},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if IsTimeout(err) {
			return "", fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrModel, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", domain.ErrModel)
	}
	return resp.Choices[0].Message.Content, nil
}

// IsTimeout reports deadline and network timeout errors.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
