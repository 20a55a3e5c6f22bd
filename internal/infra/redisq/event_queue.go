package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.EventQueue = (*Client)(nil)

func (c *Client) PushEvent(ctx context.Context, p domain.WebhookPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", p.EventID, err)
	}
	return c.Rdb.LPush(ctx, eventQueueKey(p.EventType.HighPriority()), b).Err()
}

func (c *Client) PopEvent(ctx context.Context, high bool) (*domain.WebhookPayload, error) {
	raw, err := c.Rdb.RPop(ctx, eventQueueKey(high)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p domain.WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding queued event: %w", err)
	}
	return &p, nil
}

func (c *Client) ScheduleEventRetry(ctx context.Context, p domain.WebhookPayload, at time.Time) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", p.EventID, err)
	}
	return c.Rdb.ZAdd(ctx, webhookRetryQueue, redis.Z{Score: score(at), Member: string(b)}).Err()
}

func (c *Client) SaveEventResult(ctx context.Context, id string, r domain.EventResult, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.Rdb.Set(ctx, webhookResultKey+id, b, ttl).Err()
}

func (c *Client) GetEventResult(ctx context.Context, id string) (*domain.EventResult, error) {
	raw, err := c.Rdb.Get(ctx, webhookResultKey+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r domain.EventResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
