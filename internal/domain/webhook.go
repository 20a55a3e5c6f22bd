package domain

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventUserRegistered          EventType = "user.registered"
	EventUserUpdated             EventType = "user.updated"
	EventPaymentConfirmed        EventType = "payment.confirmed"
	EventPaymentFailed           EventType = "payment.failed"
	EventWhatsAppConnected       EventType = "integration.whatsapp.connected"
	EventOpenAIConnected         EventType = "integration.openai.connected"
	EventIntegrationDisconnected EventType = "integration.disconnected"
	EventAgentCreated            EventType = "agent.created"
	EventAgentUpdated            EventType = "agent.updated"
	EventAgentDeleted            EventType = "agent.deleted"
	EventTemplateApplied         EventType = "template.applied"
	EventConversationCreated     EventType = "conversation.created"
	EventConversationEnded       EventType = "conversation.ended"
	EventMessageAdded            EventType = "conversation.message.added"
	EventOnboardingStepCompleted EventType = "onboarding.step.completed"
	EventOnboardingCompleted     EventType = "onboarding.completed"
	EventSystemNotification      EventType = "system.notification"
	EventSystemError             EventType = "system.error"
)

var eventTypes = map[EventType]struct{}{
	EventUserRegistered: {}, EventUserUpdated: {},
	EventPaymentConfirmed: {}, EventPaymentFailed: {},
	EventWhatsAppConnected: {}, EventOpenAIConnected: {}, EventIntegrationDisconnected: {},
	EventAgentCreated: {}, EventAgentUpdated: {}, EventAgentDeleted: {},
	EventTemplateApplied: {},
	EventConversationCreated: {}, EventConversationEnded: {}, EventMessageAdded: {},
	EventOnboardingStepCompleted: {}, EventOnboardingCompleted: {},
	EventSystemNotification: {}, EventSystemError: {},
}

func (e EventType) Valid() bool {
	_, ok := eventTypes[e]
	return ok
}

func ParseEventType(s string) (EventType, error) {
	e := EventType(s)
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return e, nil
}

// HighPriority reports whether events of this type go to the high queue.
func (e EventType) HighPriority() bool {
	switch e {
	case EventPaymentConfirmed, EventUserRegistered, EventAgentCreated, EventOnboardingCompleted:
		return true
	}
	return false
}

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventRetrying   EventStatus = "retrying"
)

// WebhookPayload is what travels through the webhook queues.
type WebhookPayload struct {
	EventType      EventType      `json:"event_type"`
	EventID        string         `json:"event_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	Data           map[string]any `json:"data"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	RetryCount     int            `json:"retry_count"`
	Signature      string         `json:"signature,omitempty"`
}

// WebhookRetryPolicy governs event-level retries and per-request timeouts.
// Delays are in seconds.
type WebhookRetryPolicy struct {
	MaxRetries     int     `json:"max_retries" yaml:"max_retries"`
	BackoffFactor  float64 `json:"backoff_factor" yaml:"backoff_factor"`
	BaseDelay      float64 `json:"base_delay" yaml:"base_delay"`
	MaxDelay       float64 `json:"max_delay" yaml:"max_delay"`
	TimeoutSeconds int     `json:"timeout" yaml:"timeout"`
}

func DefaultWebhookRetryPolicy() WebhookRetryPolicy {
	return WebhookRetryPolicy{MaxRetries: 5, BackoffFactor: 2, BaseDelay: 30, MaxDelay: 3600, TimeoutSeconds: 30}
}

// MaxEventRetries is the retry_count ceiling after which a failed event is abandoned.
const MaxEventRetries = 3

type Endpoint struct {
	ID          string             `json:"id" yaml:"id"`
	URL         string             `json:"url" yaml:"url"`
	Events      []EventType        `json:"events" yaml:"events"`
	Secret      string             `json:"secret,omitempty" yaml:"secret"`
	Active      bool               `json:"is_active" yaml:"-"`
	Headers     map[string]string  `json:"headers" yaml:"headers"`
	RetryPolicy WebhookRetryPolicy `json:"retry_policy" yaml:"retry_policy"`
}

func (e Endpoint) Subscribed(t EventType) bool {
	for _, s := range e.Events {
		if s == t {
			return true
		}
	}
	return false
}

func (e Endpoint) Timeout() time.Duration {
	if e.RetryPolicy.TimeoutSeconds <= 0 {
		return time.Duration(DefaultWebhookRetryPolicy().TimeoutSeconds) * time.Second
	}
	return time.Duration(e.RetryPolicy.TimeoutSeconds) * time.Second
}

type DeliveryStatus string

const (
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryTimeout  DeliveryStatus = "timeout"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Delivery is the append-only audit record of one attempt.
type Delivery struct {
	ID              string            `json:"id"`
	EventID         string            `json:"webhook_event_id"`
	EndpointID      string            `json:"webhook_endpoint_id"`
	Status          DeliveryStatus    `json:"status"`
	StatusCode      int               `json:"status_code,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	DurationMS      int64             `json:"delivery_duration_ms"`
	AttemptNumber   int               `json:"attempt_number"`
	DeliveredAt     time.Time         `json:"delivered_at"`
}

// EventRecord is the durable audit row for one webhook event.
type EventRecord struct {
	ID             string         `json:"id"`
	EventType      EventType      `json:"event_type"`
	Source         string         `json:"event_source"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Data           map[string]any `json:"data"`
	Status         EventStatus    `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

// EventResult is the TTL'd processing summary cached in the queue store.
type EventResult struct {
	WorkflowResult       *SyncResult `json:"n8n_result"`
	Deliveries           int         `json:"deliveries"`
	SuccessfulDeliveries int         `json:"successful_deliveries"`
	ProcessedAt          time.Time   `json:"processed_at"`
}

type EventStatusView struct {
	EventRecord
	ProcessingResult *EventResult `json:"processing_result"`
}

// SyncResult is what the external workflow client reports for one post.
type SyncResult struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	Response   string `json:"response,omitempty"`
	URL        string `json:"url,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"action_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
