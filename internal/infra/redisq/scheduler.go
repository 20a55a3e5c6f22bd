package redisq

import (
	"context"
	"encoding/json"
	"hookq/internal/domain"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PromoteDue moves retry entries whose due time has passed back onto the
// live tier. An entry is pushed only by the caller whose ZREM removed it,
// so concurrent workers never promote the same id twice.
func (c *Client) PromoteDue(ctx context.Context, p domain.Priority, now time.Time) (int, error) {
	ids, err := c.Rdb.ZRangeByScore(ctx, retryKey(p), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmtFloat(score(now)),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		n, err := c.Rdb.ZRem(ctx, retryKey(p), id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		if err := c.Rdb.LPush(ctx, queueKey(p), id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (c *Client) PromoteDueEvents(ctx context.Context, now time.Time) (int, error) {
	members, err := c.Rdb.ZRangeByScore(ctx, webhookRetryQueue, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmtFloat(score(now)),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, m := range members {
		n, err := c.Rdb.ZRem(ctx, webhookRetryQueue, m).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		var p domain.WebhookPayload
		if err := json.Unmarshal([]byte(m), &p); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("dropping undecodable webhook retry entry")
			continue
		}
		if err := c.Rdb.LPush(ctx, eventQueueKey(p.EventType.HighPriority()), m).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
