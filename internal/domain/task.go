package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusRetrying  TaskStatus = "retrying"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is expected for the status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every tier in the order a worker sweeps them by default.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

type TaskType string

const (
	TypeDocumentProcessing  TaskType = "document_processing"
	TypeWebhookDelivery     TaskType = "webhook_delivery"
	TypeAnalyticsProcessing TaskType = "analytics_processing"
	TypeEmailNotification   TaskType = "email_notification"
	TypeExternalSync        TaskType = "external_sync"
	TypeKnowledgeEmbedding  TaskType = "knowledge_embedding"
	TypeDataCleanup         TaskType = "data_cleanup"
	TypeReportGeneration    TaskType = "report_generation"
)

func (t TaskType) Valid() bool {
	switch t {
	case TypeDocumentProcessing, TypeWebhookDelivery, TypeAnalyticsProcessing,
		TypeEmailNotification, TypeExternalSync, TypeKnowledgeEmbedding,
		TypeDataCleanup, TypeReportGeneration:
		return true
	}
	return false
}

// RetryPolicy delays are expressed in seconds.
type RetryPolicy struct {
	MaxRetries    int     `json:"max_retries"`
	BackoffFactor float64 `json:"backoff_factor"`
	BaseDelay     float64 `json:"base_delay"`
	MaxDelay      float64 `json:"max_delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BackoffFactor: 2, BaseDelay: 60, MaxDelay: 3600}
}

type TaskConfig struct {
	TimeoutSeconds    int         `json:"timeout"`
	RetryPolicy       RetryPolicy `json:"retry_policy"`
	StoreResult       bool        `json:"store_result"`
	ResultTTLSeconds  int         `json:"result_ttl"`
	SendNotifications bool        `json:"send_notifications"`
}

func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		TimeoutSeconds:   300,
		RetryPolicy:      DefaultRetryPolicy(),
		StoreResult:      true,
		ResultTTLSeconds: 86400,
	}
}

func (c TaskConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Task is the immutable definition of one unit of deferred work.
// Dependencies are stored as metadata; dispatch never reads them.
type Task struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           TaskType       `json:"task_type"`
	Priority       Priority       `json:"priority"`
	Payload        map[string]any `json:"payload"`
	Config         TaskConfig     `json:"config"`
	OrganizationID string         `json:"organization_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	Dependencies   []string       `json:"dependencies"`
	Tags           []string       `json:"tags"`
}

// NewTask fills the defaults a producer normally leaves out.
func NewTask(name string, typ TaskType, payload map[string]any) Task {
	return Task{
		Name:         name,
		Type:         typ,
		Priority:     PriorityNormal,
		Payload:      payload,
		Config:       DefaultTaskConfig(),
		Dependencies: []string{},
		Tags:         []string{},
	}
}

type TaskError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra"`
}

// MaxLogEntries bounds the per-task log ring.
const MaxLogEntries = 50

type TaskResult struct {
	TaskID        string         `json:"task_id"`
	Status        TaskStatus     `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	Error         *TaskError     `json:"error,omitempty"`
	Attempts      int            `json:"attempts"`
	RetryCount    int            `json:"retry_count"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ExecutionTime float64        `json:"execution_time,omitempty"`
	Progress      float64        `json:"progress"`
	LastMessage   string         `json:"last_message,omitempty"`
	Logs          []LogEntry     `json:"logs"`
}

// QueueStats is the per-tier snapshot returned by the task manager.
// Retrying counts every entry in the tier's retry set, which also holds
// tasks submitted with a future scheduled_for that have not run yet.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Running  int   `json:"running"`
}
