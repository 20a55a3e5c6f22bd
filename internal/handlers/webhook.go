package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"hookq/internal/signer"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 1000

// Webhook POSTs a payload to a single URL. Any status >= 400 is an error
// so the task manager retries it.
type Webhook struct {
	Secret string
	HTTP   *http.Client
	Now    func() time.Time
}

func (h *Webhook) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	url, err := requireStr(t.Payload, "webhook_url")
	if err != nil {
		return nil, err
	}
	data := obj(t.Payload, "data")
	headers := stringMap(t.Payload, "headers")

	progress(ctx, r, t.ID, 0.1, "preparing webhook")

	if boolOr(t.Payload, "sign_payload", false) {
		data, err = h.sign(data, headers)
		if err != nil {
			return nil, domain.Permanent(err)
		}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("marshal webhook data: %w", err))
	}

	progress(ctx, r, t.ID, 0.3, "sending webhook")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.HTTP.Do(req)
	if err != nil {
		logLine(ctx, r, t.ID, "error", "webhook error: "+err.Error(), nil)
		return nil, err
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	progress(ctx, r, t.ID, 0.8, fmt.Sprintf("webhook sent, status %d", resp.StatusCode))

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
		logLine(ctx, r, t.ID, "error", "webhook error: "+err.Error(), map[string]any{"status_code": resp.StatusCode})
		return nil, err
	}

	progress(ctx, r, t.ID, 1.0, "webhook delivered")
	return map[string]any{
		"status":      "delivered",
		"status_code": resp.StatusCode,
		"response":    string(text),
	}, nil
}

// sign embeds a _webhook_meta block and sets the signature headers. The
// signature covers the canonical JSON of data before the meta is added.
func (h *Webhook) sign(data map[string]any, headers map[string]string) (map[string]any, error) {
	canonical, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize webhook data: %w", err)
	}
	ts := signer.Timestamp(h.Now())
	sig := signer.New(h.Secret).Sign(string(canonical), ts)

	signed := make(map[string]any, len(data)+1)
	for k, v := range data {
		signed[k] = v
	}
	signed["_webhook_meta"] = map[string]any{"timestamp": ts, "signature": sig}
	headers[signer.SignatureHeader] = sig
	headers[signer.TimestampHeader] = ts
	return signed, nil
}
