// Package handlers binds every task type to the code that executes it.
package handlers

import (
	"context"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry is a closed mapping from task type to handler. Register
// everything before workers start; Lookup is not synchronized with Register.
type Registry struct {
	handlers map[domain.TaskType]ports.TaskHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskType]ports.TaskHandler)}
}

func (r *Registry) Register(t domain.TaskType, h ports.TaskHandler) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateHandler, t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Lookup(t domain.TaskType) (ports.TaskHandler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Deps carries the collaborators the built-in handlers need.
type Deps struct {
	Embedder  ports.Embedder
	Chunks    ports.ChunkStore
	Analytics ports.AnalyticsStore
	Mailer    ports.Mailer
	Workflow  ports.WorkflowClient
	Secret    string
	HTTP      *http.Client
	Now       func() time.Time
}

// Default registers the built-in handlers. data_cleanup needs the task
// manager and is registered by the caller once the manager exists.
func Default(d Deps) (*Registry, error) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 30 * time.Second}
	}

	doc := &Document{Embedder: d.Embedder, Store: d.Chunks, Now: d.Now}
	analytics := &Analytics{Store: d.Analytics, Now: d.Now}

	r := NewRegistry()
	for t, h := range map[domain.TaskType]ports.TaskHandler{
		domain.TypeDocumentProcessing:  doc,
		domain.TypeKnowledgeEmbedding:  doc,
		domain.TypeWebhookDelivery:     &Webhook{Secret: d.Secret, HTTP: d.HTTP, Now: d.Now},
		domain.TypeAnalyticsProcessing: analytics,
		domain.TypeReportGeneration:    &Report{Analytics: analytics},
		domain.TypeEmailNotification:   &Email{Mailer: d.Mailer, SimulatedDelay: time.Second},
		domain.TypeExternalSync:        &Sync{Workflow: d.Workflow},
	} {
		if err := r.Register(t, h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// progress records a milestone. A failed progress write never fails the task.
func progress(ctx context.Context, r ports.Reporter, taskID string, p float64, msg string) {
	if err := r.UpdateProgress(ctx, taskID, p, msg); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", taskID).Msg("progress update failed")
	}
}

func logLine(ctx context.Context, r ports.Reporter, taskID, level, msg string, extra map[string]any) {
	if err := r.AddLog(ctx, taskID, level, msg, extra); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", taskID).Msg("task log append failed")
	}
}
