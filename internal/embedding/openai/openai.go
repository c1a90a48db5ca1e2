// Package openai embeds text through any OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	client     *gopenai.Client
	model      string
	batchSize  int
	maxRetries int
	backoff    time.Duration

	mu        sync.Mutex
	dimension int
}

var _ domain.Embedder = (*Client)(nil)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	BatchSize  int
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfig, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	oc := gopenai.DefaultConfig(key)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		client:     gopenai.NewClientWithConfig(oc),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		backoff:    200 * time.Millisecond,
	}, nil
}

// ModelID returns the provider-qualified model name stored with indexes.
func (c *Client) ModelID() string { return "openai/" + c.model }

// Dimension is known after the first successful call.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns one L2-normalized vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: cannot embed empty text (input %d)", domain.ErrEmbedding, i)
		}
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	req := gopenai.EmbeddingRequest{Input: batch, Model: gopenai.EmbeddingModel(c.model)}
	for attempt := 0; ; attempt++ {
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err == nil {
			return c.collect(resp, len(batch))
		}
		if ctx.Err() != nil || !retryable(err) || attempt >= c.maxRetries {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, ctx.Err())
		case <-time.After(retryDelay(c.backoff, attempt)):
		}
	}
}

func (c *Client) collect(resp gopenai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrEmbedding, want, len(resp.Data))
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at %d", domain.ErrEmbedding, i)
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		embedding.Normalize(v)
		out[i] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = len(out[0])
	}
	for i, v := range out {
		if len(v) != c.dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", domain.ErrEmbedding, i, len(v), c.dimension)
		}
	}
	return out, nil
}

// retryable reports rate limiting, server errors and transport failures.
func retryable(err error) bool {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}
