package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"hookq/internal/config"
	"hookq/internal/domain"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	taskPrefix        = "task:"
	queuePrefix       = "queue:"
	retryPrefix       = "retry_queue:"
	webhookQueueHigh  = "webhook_queue:high"
	webhookQueueLow   = "webhook_queue:normal"
	webhookRetryQueue = "webhook_retry_queue"
	webhookResultKey  = "webhook_result:"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}

func taskKey(id string) string { return taskPrefix + id }
func queueKey(p domain.Priority) string { return queuePrefix + string(p) }
func retryKey(p domain.Priority) string { return retryPrefix + string(p) }
func eventQueueKey(high bool) string {
	if high {
		return webhookQueueHigh
	}
	return webhookQueueLow
}

// score converts a due time into the sorted-set score (unix seconds).
func score(t time.Time) float64 { return float64(t.UnixMilli()) / 1000 }

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (*time.Time, bool) {
	if s == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// encodeField turns a record value into something HSET accepts.
func encodeField(v any) (any, error) {
	switch x := v.(type) {
	case string, []byte, int, int64, float64, bool:
		return x, nil
	case domain.TaskStatus:
		return string(x), nil
	case time.Time:
		return fmtTime(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
