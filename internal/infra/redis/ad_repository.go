package redis

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// AdRepository caches preview ads in Redis and falls back to the wrapped catalog on miss.
// Ads are stored as JSON: SET ad:{adID} {json} EX ttl
type AdRepository struct {
	client  *redis.Client
	catalog app.AdCatalog
	ttl     time.Duration
	sf      singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewAdRepository(client *redis.Client, catalog app.AdCatalog, ttl time.Duration) *AdRepository {
	return &AdRepository{
		client:  client,
		catalog: catalog,
		ttl:     ttl,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *AdRepository) DisplayAds(ctx context.Context, filter domain.DisplayFilter) ([]domain.Ad, error) {
	return r.catalog.DisplayAds(ctx, filter)
}

func (r *AdRepository) PreviewAd(ctx context.Context, adID string) ([]domain.Ad, error) {
	if ad, ok := r.cached(ctx, adID); ok {
		return []domain.Ad{ad}, nil
	}

	result, err, _ := r.sf.Do(adID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if ad, ok := r.cached(ctx, adID); ok {
			return []domain.Ad{ad}, nil
		}

		ads, err := r.catalog.PreviewAd(ctx, adID)
		if err != nil {
			return nil, err
		}
		if len(ads) == 0 {
			return ads, nil
		}

		raw, err := json.Marshal(ads[0])
		if err != nil {
			return nil, err
		}
		if err := r.client.Set(ctx, r.key(adID), raw, r.ttlWithJitter()).Err(); err != nil {
			log.Printf("cache ad %s: %v", adID, err)
		}
		return ads[:1], nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Ad), nil
}

// Invalidate drops a cached ad.
func (r *AdRepository) Invalidate(ctx context.Context, adID string) error {
	return r.client.Del(ctx, r.key(adID)).Err()
}

func (r *AdRepository) cached(ctx context.Context, adID string) (domain.Ad, bool) {
	raw, err := r.client.Get(ctx, r.key(adID)).Bytes()
	if err != nil {
		return domain.Ad{}, false
	}
	var ad domain.Ad
	if err := json.Unmarshal(raw, &ad); err != nil {
		log.Printf("drop corrupt cached ad %s: %v", adID, err)
		return domain.Ad{}, false
	}
	return ad, true
}

func (r *AdRepository) key(adID string) string {
	return "ad:" + adID
}

func (r *AdRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
