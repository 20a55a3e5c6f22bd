package usecase

import (
	"context"
	"errors"
	"fmt"
	"hookq/internal/config"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"hookq/pkg/backoff"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var _ ports.Reporter = (*TaskManager)(nil)

// TaskManager submits, executes and retries background tasks. Running
// executions are tracked in this process only: Cancel and Stats do not
// see executions owned by other worker processes.
type TaskManager struct {
	Store         ports.TaskStore
	Handlers      ports.HandlerRegistry
	Notifications ports.NotificationStore
	Worker        config.Worker
	Now           func() time.Time

	mu      sync.Mutex
	running map[string]*execution
	wg      sync.WaitGroup
}

type execution struct {
	priority  domain.Priority
	cancel    context.CancelFunc
	cancelled bool
}

func NewTaskManager(store ports.TaskStore, handlers ports.HandlerRegistry, cfg config.Worker) *TaskManager {
	return &TaskManager{
		Store:    store,
		Handlers: handlers,
		Worker:   cfg,
		Now:      time.Now,
		running:  make(map[string]*execution),
	}
}

// Submit stores the task and queues it. It never waits for execution.
func (m *TaskManager) Submit(ctx context.Context, t domain.Task) (string, error) {
	if !t.Type.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, t.Type)
	}
	if _, ok := m.Handlers.Lookup(t.Type); !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrNoHandler, t.Type)
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityNormal
	}
	if !t.Priority.Valid() {
		return "", fmt.Errorf("unknown priority %q", t.Priority)
	}
	applyDefaults(&t)

	now := m.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	if err := m.Store.CreateTask(ctx, t, now); err != nil {
		return "", fmt.Errorf("store task: %w", err)
	}

	l := log.Ctx(ctx).With().Str("task_id", t.ID).Str("task_type", string(t.Type)).Str("queue", string(t.Priority)).Logger()
	if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
		if err := m.Store.ScheduleRetry(ctx, t.Priority, t.ID, *t.ScheduledFor); err != nil {
			return "", fmt.Errorf("schedule task: %w", err)
		}
		l.Info().Time("scheduled_for", *t.ScheduledFor).Msg("task scheduled")
		return t.ID, nil
	}
	if err := m.Store.Push(ctx, t.Priority, t.ID); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	l.Info().Msg("task submitted")
	return t.ID, nil
}

func applyDefaults(t *domain.Task) {
	def := domain.DefaultTaskConfig()
	if t.Config.TimeoutSeconds <= 0 {
		t.Config.TimeoutSeconds = def.TimeoutSeconds
	}
	rp := &t.Config.RetryPolicy
	if *rp == (domain.RetryPolicy{}) {
		*rp = def.RetryPolicy
	}
	if rp.BackoffFactor <= 0 {
		rp.BackoffFactor = def.RetryPolicy.BackoffFactor
	}
	if rp.BaseDelay <= 0 {
		rp.BaseDelay = def.RetryPolicy.BaseDelay
	}
	if rp.MaxDelay <= 0 {
		rp.MaxDelay = def.RetryPolicy.MaxDelay
	}
	if rp.MaxRetries < 0 {
		rp.MaxRetries = 0
	}
	if t.Payload == nil {
		t.Payload = map[string]any{}
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

func (m *TaskManager) Status(ctx context.Context, id string) (*domain.TaskResult, error) {
	return m.Store.GetResult(ctx, id)
}

func (m *TaskManager) UpdateProgress(ctx context.Context, id string, progress float64, message string) error {
	return m.Store.SetFields(ctx, id, map[string]any{
		"progress":     progress,
		"last_message": message,
		"updated_at":   m.Now().UTC(),
	})
}

func (m *TaskManager) AddLog(ctx context.Context, id, level, message string, extra map[string]any) error {
	if extra == nil {
		extra = map[string]any{}
	}
	entry := domain.LogEntry{Timestamp: m.Now().UTC(), Level: level, Message: message, Extra: extra}
	return m.Store.AppendLog(ctx, id, entry, domain.MaxLogEntries)
}

// Cancel stops a local execution if there is one, drops the id from every
// queue and marks the task cancelled. It reports false for tasks that have
// already finished.
func (m *TaskManager) Cancel(ctx context.Context, id string) (bool, error) {
	r, err := m.Store.GetResult(ctx, id)
	if err != nil {
		return false, err
	}
	if r.Status.Terminal() {
		return false, nil
	}

	m.mu.Lock()
	if e, ok := m.running[id]; ok {
		e.cancelled = true
		e.cancel()
	}
	m.mu.Unlock()

	if err := m.Store.Remove(ctx, id); err != nil {
		return false, fmt.Errorf("remove from queues: %w", err)
	}
	now := m.Now().UTC()
	err = m.Store.SetFields(ctx, id, map[string]any{
		"status":       domain.StatusCancelled,
		"completed_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return false, err
	}
	log.Ctx(ctx).Info().Str("task_id", id).Msg("task cancelled")
	return true, nil
}

// Stats reports queue depths per tier. Running counts only this process.
func (m *TaskManager) Stats(ctx context.Context) (map[domain.Priority]domain.QueueStats, error) {
	running := make(map[domain.Priority]int)
	m.mu.Lock()
	for _, e := range m.running {
		running[e.priority]++
	}
	m.mu.Unlock()

	stats := make(map[domain.Priority]domain.QueueStats, len(domain.Priorities))
	for _, p := range domain.Priorities {
		pending, retrying, err := m.Store.QueueLengths(ctx, p)
		if err != nil {
			return nil, err
		}
		stats[p] = domain.QueueStats{Pending: pending, Retrying: retrying, Running: running[p]}
	}
	return stats, nil
}

// CleanupOldTasks deletes records whose completion time is strictly older
// than maxAgeDays.
func (m *TaskManager) CleanupOldTasks(ctx context.Context, maxAgeDays int) (int, error) {
	cutoff := m.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	n := 0
	err := m.Store.ScanCompleted(ctx, func(id string, completedAt time.Time) error {
		if !completedAt.Before(cutoff) {
			return nil
		}
		if err := m.Store.DeleteTask(ctx, id); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("cleanup: %w", err)
	}
	log.Ctx(ctx).Info().Int("deleted", n).Int("max_age_days", maxAgeDays).Msg("old tasks cleaned up")
	return n, nil
}

// Execute runs one task to a stored outcome. Handler errors never escape;
// the returned error only reports store failures.
func (m *TaskManager) Execute(ctx context.Context, id string) error {
	l := log.Ctx(ctx).With().Str("task_id", id).Logger()
	// Outcomes are recorded even when ctx was cancelled by shutdown.
	rec := context.WithoutCancel(ctx)

	r, err := m.Store.GetResult(rec, id)
	if errors.Is(err, domain.ErrNotFound) {
		l.Warn().Msg("dropping queue entry without task record")
		return nil
	}
	if err != nil {
		return err
	}
	if r.Status == domain.StatusCancelled {
		l.Debug().Msg("skipping cancelled task")
		return nil
	}

	if m.wasCancelled(id) {
		l.Debug().Msg("skipping task cancelled before start")
		return nil
	}

	start := m.Now().UTC()
	err = m.Store.SetFields(rec, id, map[string]any{
		"status":     domain.StatusRunning,
		"started_at": start,
		"updated_at": start,
	})
	if err != nil {
		return err
	}
	// Cancel may have written its status just before ours.
	if m.wasCancelled(id) {
		return m.markCancelled(rec, id)
	}

	t, err := m.Store.GetTask(rec, id)
	if err != nil {
		l.Error().Err(err).Msg("task definition unreadable")
		return m.fail(rec, id, nil, domain.Permanent(err), start)
	}

	h, ok := m.Handlers.Lookup(t.Type)
	if !ok {
		return m.fail(rec, id, t, domain.Permanent(fmt.Errorf("%w: %s", domain.ErrNoHandler, t.Type)), start)
	}

	l.Info().Str("task_type", string(t.Type)).Msg("task started")
	result, err := m.run(ctx, h, *t)

	if m.wasCancelled(id) {
		l.Info().Msg("task cancelled during execution")
		return m.markCancelled(rec, id)
	}
	if err != nil {
		return m.handleFailure(rec, t, err, start)
	}

	end := m.Now().UTC()
	fields := map[string]any{
		"status":         domain.StatusCompleted,
		"progress":       1.0,
		"completed_at":   end,
		"updated_at":     end,
		"execution_time": end.Sub(start).Seconds(),
	}
	if t.Config.StoreResult {
		fields["result"] = result
	}
	if err := m.Store.SetFields(rec, id, fields); err != nil {
		return err
	}
	m.finish(rec, t, domain.StatusCompleted, "")
	l.Info().Dur("duration", end.Sub(start)).Msg("task completed")
	return nil
}

// run executes the handler under the task timeout. A handler that ignores
// its context is abandoned when the timeout fires.
func (m *TaskManager) run(ctx context.Context, h ports.TaskHandler, t domain.Task) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Config.Timeout())
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	rep := &boundReporter{inner: m}
	defer rep.closed.Store(true)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		res, err := h.Execute(ctx, t, rep)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task timed out after %s: %w", t.Config.Timeout(), o.err)
		}
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("task timed out after %s", t.Config.Timeout())
		}
		return nil, ctx.Err()
	}
}

// markCancelled restores the cancelled status in case the running
// transition overwrote the one written by Cancel.
func (m *TaskManager) markCancelled(ctx context.Context, id string) error {
	now := m.Now().UTC()
	return m.Store.SetFields(ctx, id, map[string]any{
		"status":       domain.StatusCancelled,
		"completed_at": now,
		"updated_at":   now,
	})
}

// boundReporter drops progress and log writes from a handler once its
// execution has been given up on.
type boundReporter struct {
	inner  ports.Reporter
	closed atomic.Bool
}

func (r *boundReporter) UpdateProgress(ctx context.Context, taskID string, progress float64, message string) error {
	if r.closed.Load() {
		return nil
	}
	return r.inner.UpdateProgress(ctx, taskID, progress, message)
}

func (r *boundReporter) AddLog(ctx context.Context, taskID, level, message string, extra map[string]any) error {
	if r.closed.Load() {
		return nil
	}
	return r.inner.AddLog(ctx, taskID, level, message, extra)
}

func (m *TaskManager) wasCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.running[id]
	return ok && e.cancelled
}

func (m *TaskManager) handleFailure(ctx context.Context, t *domain.Task, cause error, start time.Time) error {
	l := log.Ctx(ctx).With().Str("task_id", t.ID).Logger()

	attempts, err := m.Store.IncrAttempts(ctx, t.ID)
	if err != nil {
		return err
	}
	policy := t.Config.RetryPolicy
	if domain.IsPermanent(cause) || attempts > policy.MaxRetries {
		l.Error().Err(cause).Int("attempt", attempts).Msg("task failed")
		return m.fail(ctx, t.ID, t, cause, start)
	}

	delay := backoff.Exponential(backoff.Seconds(policy.BaseDelay), backoff.Seconds(policy.MaxDelay), policy.BackoffFactor, attempts)
	now := m.Now().UTC()
	at := now.Add(delay)
	err = m.Store.SetFields(ctx, t.ID, map[string]any{
		"status":        domain.StatusRetrying,
		"retry_count":   attempts,
		"next_retry_at": at,
		"error":         domain.TaskError{Message: cause.Error(), Retryable: true},
		"updated_at":    now,
	})
	if err != nil {
		return err
	}
	if err := m.Store.ScheduleRetry(ctx, t.Priority, t.ID, at); err != nil {
		return err
	}
	l.Warn().Err(cause).Int("attempt", attempts).Dur("delay", delay).Msg("task scheduled for retry")
	return nil
}

// fail marks the task permanently failed. t is nil when the definition
// could not be loaded.
func (m *TaskManager) fail(ctx context.Context, id string, t *domain.Task, cause error, start time.Time) error {
	now := m.Now().UTC()
	err := m.Store.SetFields(ctx, id, map[string]any{
		"status":         domain.StatusFailed,
		"error":          domain.TaskError{Message: cause.Error(), Retryable: false},
		"completed_at":   now,
		"updated_at":     now,
		"execution_time": now.Sub(start).Seconds(),
	})
	if err != nil {
		return err
	}
	if t != nil {
		m.finish(ctx, t, domain.StatusFailed, cause.Error())
	}
	return nil
}

// finish applies the terminal-state options: record TTL and notification.
func (m *TaskManager) finish(ctx context.Context, t *domain.Task, status domain.TaskStatus, errMsg string) {
	if ttl := t.Config.ResultTTLSeconds; ttl > 0 {
		if err := m.Store.Expire(ctx, t.ID, time.Duration(ttl)*time.Second); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("task_id", t.ID).Msg("setting result ttl failed")
		}
	}
	if !t.Config.SendNotifications || t.UserID == "" || m.Notifications == nil {
		return
	}

	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    t.UserID,
		Type:      "task_" + string(status),
		Title:     fmt.Sprintf("Task %s %s", t.Name, status),
		Message:   fmt.Sprintf("Background task %q finished with status %s.", t.Name, status),
		Metadata:  map[string]any{"task_id": t.ID, "task_type": string(t.Type)},
		CreatedAt: m.Now().UTC(),
	}
	if errMsg != "" {
		n.Metadata["error"] = errMsg
	}
	if err := m.Notifications.InsertNotification(ctx, n); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", t.ID).Msg("task notification failed")
	}
}

// Run is the worker loop. It returns once ctx is done and in-flight
// executions have drained or the shutdown grace period has passed.
func (m *TaskManager) Run(ctx context.Context, queues []domain.Priority) error {
	if len(queues) == 0 {
		queues = domain.Priorities
	}
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	log.Ctx(ctx).Info().Interface("queues", queues).Int("max_concurrent", m.Worker.MaxConcurrent).Msg("task worker started")
	for {
		wait := m.Worker.PollInterval
		if err := m.cycle(ctx, work, queues); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("task worker cycle failed")
			wait = m.Worker.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			m.drain(ctx, cancelWork)
			return nil
		case <-time.After(wait):
		}
	}
}

// cycle promotes due retries and starts at most one task per queue.
// Executions run under work so that shutdown does not cut them off.
func (m *TaskManager) cycle(ctx, work context.Context, queues []domain.Priority) error {
	now := m.Now()
	for _, p := range queues {
		n, err := m.Store.PromoteDue(ctx, p, now)
		if err != nil {
			return fmt.Errorf("promote %s retries: %w", p, err)
		}
		if n > 0 {
			log.Ctx(ctx).Debug().Str("queue", string(p)).Int("count", n).Msg("retries promoted")
		}
	}

	for _, p := range queues {
		if m.Worker.MaxConcurrent > 0 && m.inFlight() >= m.Worker.MaxConcurrent {
			return nil
		}
		id, err := m.Store.Pop(ctx, p)
		if err != nil {
			return fmt.Errorf("pop %s: %w", p, err)
		}
		if id != "" {
			m.dispatch(work, id, p)
		}
	}
	return nil
}

func (m *TaskManager) inFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *TaskManager) dispatch(ctx context.Context, id string, p domain.Priority) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.running[id] = &execution{priority: p, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
			cancel()
		}()
		if err := m.Execute(ctx, id); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("task_id", id).Msg("task execution could not be recorded")
		}
	}()
}

// Wait blocks until every dispatched execution has returned.
func (m *TaskManager) Wait() {
	m.wg.Wait()
}

func (m *TaskManager) drain(ctx context.Context, cancelWork context.CancelFunc) {
	l := log.Ctx(ctx)
	l.Info().Int("in_flight", m.inFlight()).Msg("task worker stopping")
	if !waitFor(&m.wg, m.Worker.ShutdownGrace) {
		l.Warn().Int("in_flight", m.inFlight()).Msg("grace period over, cancelling executions")
		cancelWork()
		m.wg.Wait()
	}
	l.Info().Msg("task worker stopped")
}
