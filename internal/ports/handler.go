package ports

import (
	"context"
	"hookq/internal/domain"
)

// Reporter lets a running handler record progress and log lines. Status
// transitions stay with the task manager.
type Reporter interface {
	UpdateProgress(ctx context.Context, taskID string, progress float64, message string) error
	AddLog(ctx context.Context, taskID, level, message string, extra map[string]any) error
}

type TaskHandler interface {
	Execute(ctx context.Context, t domain.Task, r Reporter) (map[string]any, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

type Email struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Template string `json:"template"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// WorkflowClient forwards events to the external workflow-automation service.
type WorkflowClient interface {
	Forward(ctx context.Context, t domain.EventType, data map[string]any) domain.SyncResult
	Trigger(ctx context.Context, workflow string, payload map[string]any) (domain.SyncResult, error)
}

type HandlerRegistry interface {
	Lookup(t domain.TaskType) (TaskHandler, bool)
}
