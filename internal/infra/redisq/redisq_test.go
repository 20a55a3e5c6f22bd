package redisq

import (
	"context"
	"errors"
	"fmt"
	"hookq/internal/config"
	"hookq/internal/domain"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.Redis{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCreateTaskAndGetResult(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	task := domain.NewTask("doc", domain.TypeDocumentProcessing, map[string]any{"document_id": "d1"})
	task.ID = "t1"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := c.CreateTask(ctx, task, now); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	r, err := c.GetResult(ctx, "t1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if r.Status != domain.StatusPending || r.Progress != 0 || r.Attempts != 0 {
		t.Errorf("unexpected fresh result: %+v", r)
	}

	got, err := c.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Type != domain.TypeDocumentProcessing || got.Payload["document_id"] != "d1" {
		t.Errorf("definition did not round-trip: %+v", got)
	}
}

func TestGetResultNotFound(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.GetResult(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.GetTask(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetFieldsEncodesValues(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	done := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	err := c.SetFields(ctx, "t1", map[string]any{
		"status":         domain.StatusCompleted,
		"result":         map[string]any{"status_code": 200},
		"error":          domain.TaskError{Message: "boom", Retryable: true},
		"completed_at":   done,
		"progress":       1.0,
		"execution_time": 0.25,
	})
	if err != nil {
		t.Fatalf("SetFields: %v", err)
	}

	r, err := c.GetResult(ctx, "t1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if r.Status != domain.StatusCompleted {
		t.Errorf("status = %s", r.Status)
	}
	if r.Result["status_code"] != float64(200) {
		t.Errorf("result = %v", r.Result)
	}
	if r.Error == nil || r.Error.Message != "boom" || !r.Error.Retryable {
		t.Errorf("error = %+v", r.Error)
	}
	if r.CompletedAt == nil || !r.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v", r.CompletedAt)
	}
	if r.Progress != 1 || r.ExecutionTime != 0.25 {
		t.Errorf("progress/exec = %v/%v", r.Progress, r.ExecutionTime)
	}
}

func TestAppendLogCapsEntries(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	for i := 0; i < 120; i++ {
		entry := domain.LogEntry{Timestamp: time.Now(), Level: "info", Message: fmt.Sprintf("line %d", i)}
		if err := c.AppendLog(ctx, "t1", entry, domain.MaxLogEntries); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}
	r, err := c.GetResult(ctx, "t1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(r.Logs) != domain.MaxLogEntries {
		t.Fatalf("len(logs) = %d", len(r.Logs))
	}
	if r.Logs[0].Message != "line 70" || r.Logs[49].Message != "line 119" {
		t.Errorf("ring kept wrong window: first=%q last=%q", r.Logs[0].Message, r.Logs[49].Message)
	}
}

func TestPushPopIsFIFOWithinTier(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := c.Push(ctx, domain.PriorityHigh, id); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c", ""} {
		got, err := c.Pop(ctx, domain.PriorityHigh)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Pop = %q, want %q", got, want)
		}
	}
}

func TestPromoteDueOnlyMovesDueEntries(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	now := time.Unix(1_800_000_000, 0)

	_ = c.ScheduleRetry(ctx, domain.PriorityNormal, "due", now.Add(-time.Second))
	_ = c.ScheduleRetry(ctx, domain.PriorityNormal, "exact", now)
	_ = c.ScheduleRetry(ctx, domain.PriorityNormal, "later", now.Add(time.Minute))

	n, err := c.PromoteDue(ctx, domain.PriorityNormal, now)
	if err != nil {
		t.Fatalf("PromoteDue: %v", err)
	}
	if n != 2 {
		t.Fatalf("moved %d, want 2", n)
	}
	pending, retrying, err := c.QueueLengths(ctx, domain.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 2 || retrying != 1 {
		t.Errorf("pending=%d retrying=%d", pending, retrying)
	}
}

func TestRemoveClearsAllQueues(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	_ = c.Push(ctx, domain.PriorityLow, "x")
	_ = c.Push(ctx, domain.PriorityLow, "y")
	_ = c.ScheduleRetry(ctx, domain.PriorityCritical, "x", time.Now())

	if err := c.Remove(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	p, r, _ := c.QueueLengths(ctx, domain.PriorityLow)
	if p != 1 || r != 0 {
		t.Errorf("low: pending=%d retrying=%d", p, r)
	}
	_, r, _ = c.QueueLengths(ctx, domain.PriorityCritical)
	if r != 0 {
		t.Errorf("critical retrying=%d", r)
	}
}

func TestScanCompletedAndDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	old := time.Now().Add(-48 * time.Hour)

	_ = c.SetFields(ctx, "done", map[string]any{"status": domain.StatusCompleted, "completed_at": old})
	_ = c.SetFields(ctx, "open", map[string]any{"status": domain.StatusRunning})
	_ = c.Push(ctx, domain.PriorityNormal, "open")

	var seen []string
	err := c.ScanCompleted(ctx, func(id string, at time.Time) error {
		seen = append(seen, id)
		if !at.Equal(old.UTC()) {
			t.Errorf("completed_at = %v", at)
		}
		return c.DeleteTask(ctx, id)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != "done" {
		t.Fatalf("seen = %v", seen)
	}
	if _, err := c.GetResult(ctx, "done"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("record not deleted: %v", err)
	}
}

func TestEventQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	high := domain.WebhookPayload{EventType: domain.EventPaymentConfirmed, EventID: "e1", Data: map[string]any{}}
	low := domain.WebhookPayload{EventType: domain.EventAgentUpdated, EventID: "e2", Data: map[string]any{}}
	_ = c.PushEvent(ctx, high)
	_ = c.PushEvent(ctx, low)

	got, err := c.PopEvent(ctx, true)
	if err != nil || got == nil || got.EventID != "e1" {
		t.Fatalf("high pop = %+v, %v", got, err)
	}
	got, err = c.PopEvent(ctx, false)
	if err != nil || got == nil || got.EventID != "e2" {
		t.Fatalf("normal pop = %+v, %v", got, err)
	}
	got, err = c.PopEvent(ctx, true)
	if err != nil || got != nil {
		t.Fatalf("empty pop = %+v, %v", got, err)
	}
}

func TestPromoteDueEventsRoutesByPriority(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	now := time.Now()

	_ = c.ScheduleEventRetry(ctx, domain.WebhookPayload{EventType: domain.EventUserRegistered, EventID: "hi", RetryCount: 1}, now.Add(-time.Second))
	_ = c.ScheduleEventRetry(ctx, domain.WebhookPayload{EventType: domain.EventSystemError, EventID: "lo", RetryCount: 1}, now.Add(-time.Second))
	_ = c.ScheduleEventRetry(ctx, domain.WebhookPayload{EventType: domain.EventSystemError, EventID: "future"}, now.Add(time.Hour))

	n, err := c.PromoteDueEvents(ctx, now)
	if err != nil || n != 2 {
		t.Fatalf("PromoteDueEvents = %d, %v", n, err)
	}
	if p, _ := c.PopEvent(ctx, true); p == nil || p.EventID != "hi" || p.RetryCount != 1 {
		t.Errorf("high queue: %+v", p)
	}
	if p, _ := c.PopEvent(ctx, false); p == nil || p.EventID != "lo" {
		t.Errorf("normal queue: %+v", p)
	}
}

func TestEventResultTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	r := domain.EventResult{Deliveries: 2, SuccessfulDeliveries: 1, ProcessedAt: time.Now().UTC()}
	if err := c.SaveEventResult(ctx, "e1", r, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetEventResult(ctx, "e1")
	if err != nil || got == nil || got.Deliveries != 2 {
		t.Fatalf("GetEventResult = %+v, %v", got, err)
	}

	mr.FastForward(2 * time.Hour)
	got, err = c.GetEventResult(ctx, "e1")
	if err != nil || got != nil {
		t.Fatalf("expected expiry, got %+v, %v", got, err)
	}
}
