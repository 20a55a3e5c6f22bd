package usecase

import (
	"context"
	"hookq/internal/domain"
	"time"
)

// WatchProgress polls a task's status every interval and calls emit each
// time progress or status changes. It returns after emitting a terminal
// status, or with the first lookup, emit or context error.
func (m *TaskManager) WatchProgress(ctx context.Context, id string, interval time.Duration, emit func(domain.TaskResult) error) error {
	var (
		lastProgress = -1.0
		lastStatus   domain.TaskStatus
	)
	for {
		r, err := m.Status(ctx, id)
		if err != nil {
			return err
		}
		if r.Progress != lastProgress || r.Status != lastStatus {
			if err := emit(*r); err != nil {
				return err
			}
			lastProgress, lastStatus = r.Progress, r.Status
		}
		if r.Status.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
