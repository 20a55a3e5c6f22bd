package ports

import (
	"context"
	"hookq/internal/domain"
	"time"
)

// EventAudit is the durable system of record for events and deliveries.
type EventAudit interface {
	InsertEvent(ctx context.Context, e domain.EventRecord) error
	UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, errMsg string, at time.Time) error
	GetEvent(ctx context.Context, id string) (*domain.EventRecord, error)
	InsertDelivery(ctx context.Context, d domain.Delivery) error
	ListDeliveries(ctx context.Context, eventID string) ([]domain.Delivery, error)
}

type EndpointRegistry interface {
	UpsertEndpoint(ctx context.Context, e domain.Endpoint) error
	ActiveEndpoints(ctx context.Context, t domain.EventType) ([]domain.Endpoint, error)
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
}

type AnalyticsStore interface {
	AggregateActivity(ctx context.Context, orgID string, from, to time.Time) (domain.Activity, error)
	SaveAnalytics(ctx context.Context, r domain.AnalyticsResult) error
}
