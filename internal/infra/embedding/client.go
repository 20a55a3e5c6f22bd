// Package embedding requests text embeddings from an OpenAI-compatible
// provider.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hookq/internal/config"
	"hookq/internal/ports"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var _ ports.Embedder = (*Client)(nil)

// PlaceholderValue fills every component of the fallback vector.
const PlaceholderValue float32 = 0.1

type Client struct {
	cfg     config.Embedding
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg config.Embedding) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Placeholder returns the fixed vector substituted when the provider fails.
func (c *Client) Placeholder() []float32 {
	v := make([]float32, c.cfg.Dimension)
	for i := range v {
		v[i] = PlaceholderValue
	}
	return v
}

// Embed never fails: any provider error yields the placeholder vector so a
// single bad chunk does not fail the whole document.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	v, err := c.request(ctx, text)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("embedding failed, using placeholder")
		return c.Placeholder()
	}
	return v
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) request(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("embedding url not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("embedding provider returned %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response carried no vector")
	}
	return out.Data[0].Embedding, nil
}
