package usecase

import (
	"context"
	"fmt"
	"hookq/internal/domain"
	"time"
)

func (m *TaskManager) SubmitDocumentProcessing(ctx context.Context, documentID, content, orgID, userID string, chunkSize int) (string, error) {
	t := domain.NewTask("Process document "+documentID, domain.TypeDocumentProcessing, map[string]any{
		"document_id": documentID,
		"content":     content,
		"chunk_size":  chunkSize,
	})
	t.OrganizationID, t.UserID = orgID, userID
	t.Tags = []string{"document", "embedding"}
	return m.Submit(ctx, t)
}

func (m *TaskManager) SubmitWebhookDelivery(ctx context.Context, url string, data map[string]any, orgID string, headers map[string]string, sign bool) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	t := domain.NewTask("Webhook to "+url, domain.TypeWebhookDelivery, map[string]any{
		"webhook_url":  url,
		"data":         data,
		"headers":      headers,
		"sign_payload": sign,
	})
	t.Priority = domain.PriorityHigh
	t.OrganizationID = orgID
	t.Tags = []string{"webhook", "integration"}
	return m.Submit(ctx, t)
}

func (m *TaskManager) SubmitAnalytics(ctx context.Context, orgID, userID string, from, to time.Time) (string, error) {
	t := domain.NewTask("Analytics for "+orgID, domain.TypeAnalyticsProcessing, map[string]any{
		"date_range": map[string]any{
			"start": from.UTC().Format(time.RFC3339),
			"end":   to.UTC().Format(time.RFC3339),
		},
	})
	t.Priority = domain.PriorityLow
	t.OrganizationID, t.UserID = orgID, userID
	t.Tags = []string{"analytics", "metrics"}
	return m.Submit(ctx, t)
}

func (m *TaskManager) SubmitN8NSync(ctx context.Context, syncType string, data map[string]any, orgID string) (string, error) {
	t := domain.NewTask(fmt.Sprintf("n8n sync: %s", syncType), domain.TypeExternalSync, map[string]any{
		"system":    "n8n",
		"sync_type": syncType,
		"data":      data,
	})
	t.Priority = domain.PriorityHigh
	t.OrganizationID = orgID
	t.Tags = []string{"n8n", "sync", "automation"}
	return m.Submit(ctx, t)
}

func (m *TaskManager) SubmitEmail(ctx context.Context, recipient, template string, data map[string]any, userID string) (string, error) {
	t := domain.NewTask("Email to "+recipient, domain.TypeEmailNotification, map[string]any{
		"recipient": recipient,
		"template":  template,
		"data":      data,
	})
	t.UserID = userID
	t.Tags = []string{"email", "notification"}
	return m.Submit(ctx, t)
}
