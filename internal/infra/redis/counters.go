package redis

import (
	"context"
	"fmt"
	"strconv"

	"ad-engagement-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Counters is a Tracker that keeps per-ad engagement totals in a hash:
// HINCRBY adstats:{adID} {kind} 1, plus rewarded credits under "credits".
type Counters struct {
	client *redis.Client
}

func NewCounters(client *redis.Client) *Counters {
	return &Counters{client: client}
}

func (c *Counters) Track(ctx context.Context, event domain.Event) error {
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, c.key(event.AdID), string(event.Kind), 1)
	if event.Kind == domain.EventRewardClaimed && event.Amount > 0 {
		pipe.HIncrBy(ctx, c.key(event.AdID), "credits", int64(event.Amount))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("count %s for ad %s: %w", event.Kind, event.AdID, err)
	}
	return nil
}

// Stats returns the totals recorded for an ad, keyed by event kind.
func (c *Counters) Stats(ctx context.Context, adID string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, c.key(adID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

func (c *Counters) key(adID string) string {
	return "adstats:" + adID
}
