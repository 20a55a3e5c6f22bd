package handlers

import (
	"context"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
)

const defaultCleanupAgeDays = 7

// Cleanup deletes finished task records older than max_age_days.
type Cleanup struct {
	Clean func(ctx context.Context, maxAgeDays int) (int, error)
}

func (h *Cleanup) Execute(ctx context.Context, t domain.Task, r ports.Reporter) (map[string]any, error) {
	days := intOr(t.Payload, "max_age_days", defaultCleanupAgeDays)
	if days < 0 {
		return nil, domain.Permanent(fmt.Errorf("max_age_days must not be negative"))
	}
	progress(ctx, r, t.ID, 0.1, fmt.Sprintf("removing tasks older than %d days", days))

	n, err := h.Clean(ctx, days)
	if err != nil {
		return nil, err
	}

	progress(ctx, r, t.ID, 1.0, fmt.Sprintf("removed %d tasks", n))
	return map[string]any{"deleted": n, "max_age_days": days, "status": "completed"}, nil
}
