package ports

import (
	"context"
	"hookq/internal/domain"
	"time"
)

// TaskStore is the queue store adapter for tasks: priority lists of ids,
// per-priority retry sorted sets, and one hash record per task.
type TaskStore interface {
	// CreateTask writes the definition and a fresh pending result record.
	CreateTask(ctx context.Context, t domain.Task, at time.Time) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetResult(ctx context.Context, id string) (*domain.TaskResult, error)
	SetFields(ctx context.Context, id string, fields map[string]any) error
	IncrAttempts(ctx context.Context, id string) (int, error)
	AppendLog(ctx context.Context, id string, entry domain.LogEntry, max int) error
	Expire(ctx context.Context, id string, ttl time.Duration) error

	Push(ctx context.Context, p domain.Priority, id string) error
	Pop(ctx context.Context, p domain.Priority) (string, error)
	Remove(ctx context.Context, id string) error
	ScheduleRetry(ctx context.Context, p domain.Priority, id string, at time.Time) error
	PromoteDue(ctx context.Context, p domain.Priority, now time.Time) (int, error)
	QueueLengths(ctx context.Context, p domain.Priority) (pending, retrying int64, err error)

	// ScanCompleted visits every task record that carries a completion timestamp.
	ScanCompleted(ctx context.Context, fn func(id string, completedAt time.Time) error) error
	DeleteTask(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// EventQueue is the queue store adapter for webhook events.
type EventQueue interface {
	PushEvent(ctx context.Context, p domain.WebhookPayload) error
	PopEvent(ctx context.Context, high bool) (*domain.WebhookPayload, error)
	ScheduleEventRetry(ctx context.Context, p domain.WebhookPayload, at time.Time) error
	PromoteDueEvents(ctx context.Context, now time.Time) (int, error)
	SaveEventResult(ctx context.Context, id string, r domain.EventResult, ttl time.Duration) error
	GetEventResult(ctx context.Context, id string) (*domain.EventResult, error)
}
