package handlers

import (
	"bytes"
	"context"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Email templates are markdown; the HTML part is rendered from them.
var emailTemplates = template.Must(template.New("email").Option("missingkey=zero").Parse(`
{{define "welcome"}}# Welcome{{with .name}}, {{.}}{{end}}!

Your account is ready. Finish onboarding to create your first agent.
{{end}}
{{define "payment_confirmed"}}# Payment confirmed

We received your payment{{with .amount}} of **{{.}}**{{end}}. Thank you!
{{end}}
{{define "task_failed"}}# A background job failed

Task **{{.task_name}}** did not complete: {{.error}}
{{end}}
{{define "generic"}}{{with .title}}# {{.}}

{{end}}{{with .message}}{{.}}{{end}}
{{end}}
`))

var emailSubjects = map[string]string{
	"welcome":           "Welcome aboard",
	"payment_confirmed": "Payment confirmed",
	"task_failed":       "Background job failed",
}

// Email renders a named template and hands it to the mailer. Without a
// mailer it only simulates the send.
type Email struct {
	Mailer         ports.Mailer
	SimulatedDelay time.Duration
}

func (h *Email) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	recipient, err := requireStr(t.Payload, "recipient")
	if err != nil {
		return nil, err
	}
	name := str(t.Payload, "template")
	if name == "" {
		name = "generic"
	}
	data := obj(t.Payload, "data")

	progress(ctx, r, t.ID, 0.2, "preparing email")

	email, err := RenderEmail(name, data)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	email.To = recipient
	if s := str(t.Payload, "subject"); s != "" {
		email.Subject = s
	}

	progress(ctx, r, t.ID, 0.6, "sending email")

	if h.Mailer != nil {
		if err := h.Mailer.Send(ctx, email); err != nil {
			return nil, fmt.Errorf("send email: %w", err)
		}
	} else {
		log.Ctx(ctx).Info().Str("to", recipient).Str("template", name).Msg("no mailer configured, simulating send")
		select {
		case <-time.After(h.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	progress(ctx, r, t.ID, 1.0, "email sent")
	return map[string]any{
		"recipient": recipient,
		"template":  name,
		"status":    "sent",
	}, nil
}

// RenderEmail executes the named template and converts the markdown to HTML.
func RenderEmail(name string, data map[string]any) (ports.Email, error) {
	tmpl := emailTemplates.Lookup(name)
	if tmpl == nil {
		return ports.Email{}, fmt.Errorf("unknown email template %q", name)
	}
	var text bytes.Buffer
	if err := tmpl.Execute(&text, data); err != nil {
		return ports.Email{}, fmt.Errorf("render %s: %w", name, err)
	}
	var html bytes.Buffer
	if err := markdown.Convert(text.Bytes(), &html); err != nil {
		return ports.Email{}, fmt.Errorf("render %s html: %w", name, err)
	}

	subject := emailSubjects[name]
	if subject == "" {
		subject = str(data, "title")
	}
	return ports.Email{
		Subject:  subject,
		Template: name,
		Text:     text.String(),
		HTML:     html.String(),
	}, nil
}
