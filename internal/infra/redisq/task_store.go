package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.TaskStore = (*Client)(nil)

func (c *Client) CreateTask(ctx context.Context, t domain.Task, at time.Time) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", t.ID, err)
	}
	return c.Rdb.HSet(ctx, taskKey(t.ID), map[string]any{
		"definition":  string(b),
		"status":      string(domain.StatusPending),
		"created_at":  fmtTime(at),
		"progress":    0.0,
		"attempts":    0,
		"retry_count": 0,
	}).Err()
}

func (c *Client) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	raw, err := c.Rdb.HGet(ctx, taskKey(id), "definition").Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return &t, nil
}

func (c *Client) GetResult(ctx context.Context, id string) (*domain.TaskResult, error) {
	h, err := c.Rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, domain.ErrNotFound
	}

	r := &domain.TaskResult{
		TaskID:      id,
		Status:      domain.StatusPending,
		LastMessage: h["last_message"],
		Logs:        []domain.LogEntry{},
	}
	if s := h["status"]; s != "" {
		r.Status = domain.TaskStatus(s)
	}
	r.Attempts, _ = strconv.Atoi(h["attempts"])
	r.RetryCount, _ = strconv.Atoi(h["retry_count"])
	r.Progress, _ = strconv.ParseFloat(h["progress"], 64)
	r.ExecutionTime, _ = strconv.ParseFloat(h["execution_time"], 64)

	if v, ok := h["result"]; ok {
		_ = json.Unmarshal([]byte(v), &r.Result)
	}
	if v, ok := h["error"]; ok {
		var e domain.TaskError
		if json.Unmarshal([]byte(v), &e) == nil {
			r.Error = &e
		}
	}
	if v, ok := h["logs"]; ok {
		_ = json.Unmarshal([]byte(v), &r.Logs)
	}
	if t, ok := parseTime(h["started_at"]); ok {
		r.StartedAt = t
	}
	if t, ok := parseTime(h["completed_at"]); ok {
		r.CompletedAt = t
	}
	if t, ok := parseTime(h["next_retry_at"]); ok {
		r.NextRetryAt = t
	}
	return r, nil
}

func (c *Client) SetFields(ctx context.Context, id string, fields map[string]any) error {
	m := make(map[string]any, len(fields))
	for k, v := range fields {
		enc, err := encodeField(v)
		if err != nil {
			return fmt.Errorf("encoding field %s of task %s: %w", k, id, err)
		}
		m[k] = enc
	}
	return c.Rdb.HSet(ctx, taskKey(id), m).Err()
}

func (c *Client) IncrAttempts(ctx context.Context, id string) (int, error) {
	n, err := c.Rdb.HIncrBy(ctx, taskKey(id), "attempts", 1).Result()
	return int(n), err
}

// AppendLog is a read-modify-write on the logs field; concurrent writers
// to the same task can lose entries.
func (c *Client) AppendLog(ctx context.Context, id string, entry domain.LogEntry, max int) error {
	key := taskKey(id)
	var logs []domain.LogEntry
	raw, err := c.Rdb.HGet(ctx, key, "logs").Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return err
	default:
		_ = json.Unmarshal([]byte(raw), &logs)
	}

	logs = append(logs, entry)
	if len(logs) > max {
		logs = logs[len(logs)-max:]
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return err
	}
	return c.Rdb.HSet(ctx, key, "logs", string(b)).Err()
}

func (c *Client) Expire(ctx context.Context, id string, ttl time.Duration) error {
	return c.Rdb.Expire(ctx, taskKey(id), ttl).Err()
}

func (c *Client) Push(ctx context.Context, p domain.Priority, id string) error {
	return c.Rdb.LPush(ctx, queueKey(p), id).Err()
}

// Pop takes the oldest id from the tier, or "" when the tier is empty.
func (c *Client) Pop(ctx context.Context, p domain.Priority) (string, error) {
	id, err := c.Rdb.RPop(ctx, queueKey(p)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	_, err := c.Rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range domain.Priorities {
			pipe.LRem(ctx, queueKey(p), 0, id)
			pipe.ZRem(ctx, retryKey(p), id)
		}
		return nil
	})
	return err
}

func (c *Client) ScheduleRetry(ctx context.Context, p domain.Priority, id string, at time.Time) error {
	return c.Rdb.ZAdd(ctx, retryKey(p), redis.Z{Score: score(at), Member: id}).Err()
}

func (c *Client) QueueLengths(ctx context.Context, p domain.Priority) (int64, int64, error) {
	pending, err := c.Rdb.LLen(ctx, queueKey(p)).Result()
	if err != nil {
		return 0, 0, err
	}
	retrying, err := c.Rdb.ZCard(ctx, retryKey(p)).Result()
	if err != nil {
		return 0, 0, err
	}
	return pending, retrying, nil
}

func (c *Client) ScanCompleted(ctx context.Context, fn func(id string, completedAt time.Time) error) error {
	iter := c.Rdb.Scan(ctx, 0, taskPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := c.Rdb.HGet(ctx, key, "completed_at").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		t, ok := parseTime(v)
		if !ok {
			continue
		}
		if err := fn(strings.TrimPrefix(key, taskPrefix), *t); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.Rdb.Del(ctx, taskKey(id)).Err()
}
