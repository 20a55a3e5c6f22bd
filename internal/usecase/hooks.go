package usecase

import (
	"context"
	"fmt"
	"hookq/internal/domain"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type reaction struct {
	kind    string
	title   string
	message func(data map[string]any) string
	meta    func(p domain.WebhookPayload) map[string]any
}

func fixed(s string) func(map[string]any) string {
	return func(map[string]any) string { return s }
}

func named(format, key, fallback string) func(map[string]any) string {
	return func(data map[string]any) string {
		v, _ := data[key].(string)
		if v == "" {
			v = fallback
		}
		return fmt.Sprintf(format, v)
	}
}

// reactions are the internal side effects of each event type. Event types
// without an entry have none.
var reactions = map[domain.EventType]reaction{
	domain.EventUserRegistered: {
		kind:    "success",
		title:   "Welcome!",
		message: fixed("Your account was created. Let's set up your first agent."),
	},
	domain.EventPaymentConfirmed: {
		kind:    "success",
		title:   "Payment confirmed",
		message: fixed("Your payment was confirmed. Onboarding moved on to the next step."),
		meta: func(p domain.WebhookPayload) map[string]any {
			return map[string]any{
				"onboarding_step":      2,
				"payment_confirmed_at": p.Timestamp.UTC().Format(time.RFC3339),
			}
		},
	},
	domain.EventWhatsAppConnected: {
		kind:    "success",
		title:   "WhatsApp connected",
		message: fixed("WhatsApp is connected. Your agent can now answer messages automatically."),
	},
	domain.EventOpenAIConnected: {
		kind:    "success",
		title:   "AI configured",
		message: fixed("OpenAI is configured. Your agent is ready for conversations."),
	},
	domain.EventAgentCreated: {
		kind:    "success",
		title:   "Agent created",
		message: named("Your agent '%s' was created.", "name", "Agent"),
	},
	domain.EventTemplateApplied: {
		kind:    "info",
		title:   "Template applied",
		message: named("Template '%s' was applied to your agent.", "template_name", "Template"),
	},
	domain.EventOnboardingCompleted: {
		kind:    "success",
		title:   "Congratulations!",
		message: fixed("Onboarding is complete. Your agent is ready to use."),
	},
}

// react runs the event's internal side effect. Failures are logged and
// never change the event outcome.
func (m *WebhookManager) react(ctx context.Context, p domain.WebhookPayload) {
	r, ok := reactions[p.EventType]
	if !ok || p.UserID == "" || m.Notifications == nil {
		return
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Type:      r.kind,
		Title:     r.title,
		Message:   r.message(p.Data),
		CreatedAt: m.Now().UTC(),
	}
	if r.meta != nil {
		n.Metadata = r.meta(p)
	}
	if err := m.Notifications.InsertNotification(ctx, n); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event_id", p.EventID).Msg("event reaction failed")
		return
	}
	log.Ctx(ctx).Debug().Str("event_id", p.EventID).Str("user_id", p.UserID).Msg("notification created")
}
