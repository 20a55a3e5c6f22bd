// Package n8n forwards domain events and sync requests to n8n webhook
// workflows.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.WorkflowClient = (*Client)(nil)

const maxResponseBody = 1000

// Workflows maps event types to n8n webhook paths. Event types missing
// here are not forwarded.
var Workflows = map[domain.EventType]string{
	domain.EventUserRegistered:      "user-registration",
	domain.EventPaymentConfirmed:    "payment-processed",
	domain.EventWhatsAppConnected:   "whatsapp-connected",
	domain.EventOpenAIConnected:     "openai-connected",
	domain.EventAgentCreated:        "agent-created",
	domain.EventTemplateApplied:     "template-applied",
	domain.EventOnboardingCompleted: "onboarding-complete",
}

type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Now       func() time.Time
}

func New(baseURL, userAgent string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: timeout},
		Now:       time.Now,
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/webhook/%s", c.BaseURL, strings.TrimLeft(path, "/"))
}

// Forward posts an event to its mapped workflow. It never returns an error;
// failures are reported in the result so the caller can carry on.
func (c *Client) Forward(ctx context.Context, t domain.EventType, data map[string]any) domain.SyncResult {
	path, ok := Workflows[t]
	if !ok {
		log.Ctx(ctx).Debug().Str("event_type", string(t)).Msg("no n8n workflow for event")
		return domain.SyncResult{Status: "skipped", Reason: "no_workflow_configured"}
	}

	body := map[string]any{
		"event":     string(t),
		"timestamp": c.Now().UTC().Format(time.RFC3339Nano),
		"data":      data,
	}
	res, err := c.post(ctx, c.url(path), body)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("url", res.URL).Msg("n8n forward failed")
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}
	if res.StatusCode >= 400 {
		res.Status = "failed"
		log.Ctx(ctx).Error().Int("status_code", res.StatusCode).Str("url", res.URL).Msg("n8n workflow rejected event")
	} else {
		res.Status = "success"
		log.Ctx(ctx).Info().Str("workflow", path).Msg("event forwarded to n8n")
	}
	return res
}

// Trigger posts payload as-is to an arbitrary workflow path. Transport
// errors are returned; HTTP status is reported in the result.
func (c *Client) Trigger(ctx context.Context, workflow string, payload map[string]any) (domain.SyncResult, error) {
	res, err := c.post(ctx, c.url(workflow), payload)
	if err != nil {
		return res, fmt.Errorf("n8n trigger %s: %w", workflow, err)
	}
	if res.StatusCode >= 400 {
		res.Status = "failed"
	} else {
		res.Status = "synced"
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, url string, body any) (domain.SyncResult, error) {
	res := domain.SyncResult{URL: url}
	if c.BaseURL == "" {
		return res, fmt.Errorf("n8n base url not configured")
	}

	b, err := json.Marshal(body)
	if err != nil {
		return res, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res.StatusCode = resp.StatusCode
	res.Response = string(text)
	return res, nil
}
