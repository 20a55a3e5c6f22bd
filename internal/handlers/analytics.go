package handlers

import (
	"bytes"
	"context"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"sort"
	"time"

	"github.com/google/uuid"
)

const defaultAnalyticsWindow = 30 * 24 * time.Hour

// Analytics aggregates an organization's webhook activity over a date
// range and stores the derived metrics.
type Analytics struct {
	Store ports.AnalyticsStore
	Now   func() time.Time
}

func (h *Analytics) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	res, err := h.run(ctx, t, r)
	if err != nil {
		return nil, err
	}
	progress(ctx, r, t.ID, 1.0, "analytics processed")
	return analyticsOutput(res), nil
}

func (h *Analytics) run(ctx context.Context, t domain.Task, r ports.Reporter) (domain.AnalyticsResult, error) {
	org := t.OrganizationID
	if org == "" {
		org = str(t.Payload, "organization_id")
	}
	if org == "" {
		return domain.AnalyticsResult{}, domain.Permanent(fmt.Errorf("analytics task needs an organization"))
	}
	from, to, err := h.dateRange(obj(t.Payload, "date_range"))
	if err != nil {
		return domain.AnalyticsResult{}, domain.Permanent(err)
	}

	progress(ctx, r, t.ID, 0.1, "collecting analytics data")
	activity, err := h.Store.AggregateActivity(ctx, org, from, to)
	if err != nil {
		return domain.AnalyticsResult{}, fmt.Errorf("aggregate activity: %w", err)
	}

	progress(ctx, r, t.ID, 0.5, "processing metrics")
	res := domain.AnalyticsResult{
		ID:             uuid.NewString(),
		OrganizationID: org,
		From:           from,
		To:             to,
		Metrics:        Metrics(activity),
		CreatedAt:      h.Now().UTC(),
	}

	progress(ctx, r, t.ID, 0.8, "saving results")
	if err := h.Store.SaveAnalytics(ctx, res); err != nil {
		return domain.AnalyticsResult{}, fmt.Errorf("save analytics: %w", err)
	}
	return res, nil
}

func (h *Analytics) dateRange(p map[string]any) (time.Time, time.Time, error) {
	to := h.Now().UTC()
	if s := str(p, "end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("date_range.end: %w", err)
		}
		to = t.UTC()
	}
	from := to.Add(-defaultAnalyticsWindow)
	if s := str(p, "start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("date_range.start: %w", err)
		}
		from = t.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("date_range start must precede end")
	}
	return from, to, nil
}

// Metrics derives rates and averages from raw activity counts.
func Metrics(a domain.Activity) map[string]float64 {
	m := map[string]float64{
		"events":                float64(a.Events),
		"deliveries":            float64(a.Deliveries),
		"successful_deliveries": float64(a.SuccessfulDeliveries),
		"failed_deliveries":     float64(a.Deliveries - a.SuccessfulDeliveries),
		"notifications":         float64(a.Notifications),
	}
	if a.Deliveries > 0 {
		m["delivery_success_rate"] = float64(a.SuccessfulDeliveries) / float64(a.Deliveries)
		m["avg_delivery_duration_ms"] = float64(a.TotalDurationMS) / float64(a.Deliveries)
	}
	days := a.To.Sub(a.From).Hours() / 24
	if days < 1 {
		days = 1
	}
	m["events_per_day"] = float64(a.Events) / days
	return m
}

func analyticsOutput(res domain.AnalyticsResult) map[string]any {
	return map[string]any{
		"analytics_id":      res.ID,
		"organization_id":   res.OrganizationID,
		"metrics_processed": len(res.Metrics),
		"metrics":           res.Metrics,
		"date_range": map[string]any{
			"start": res.From.Format(time.RFC3339),
			"end":   res.To.Format(time.RFC3339),
		},
		"status": "completed",
	}
}

// Report runs the analytics aggregation and renders it as a document.
type Report struct {
	Analytics *Analytics
}

func (h *Report) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	res, err := h.Analytics.run(ctx, t, r)
	if err != nil {
		return nil, err
	}

	progress(ctx, r, t.ID, 0.9, "rendering report")
	md := reportMarkdown(res)
	var html bytes.Buffer
	if err := markdown.Convert([]byte(md), &html); err != nil {
		return nil, domain.Permanent(fmt.Errorf("render report: %w", err))
	}

	out := analyticsOutput(res)
	out["report_markdown"] = md
	out["report_html"] = html.String()
	progress(ctx, r, t.ID, 1.0, "report generated")
	return out, nil
}

func reportMarkdown(res domain.AnalyticsResult) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Activity report: %s\n\n", res.OrganizationID)
	fmt.Fprintf(&b, "Period: %s to %s\n\n", res.From.Format(time.DateOnly), res.To.Format(time.DateOnly))
	b.WriteString("| Metric | Value |\n|---|---|\n")

	keys := make([]string, 0, len(res.Metrics))
	for k := range res.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "| %s | %.2f |\n", k, res.Metrics[k])
	}
	return b.String()
}
