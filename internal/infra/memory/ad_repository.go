package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// AdRepository caches preview lookups with TTL to avoid repeated catalog hits.
// Display lists are never cached; selection is the catalog's business.
type AdRepository struct {
	catalog app.AdCatalog
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group
	rnd     *rand.Rand
	rndMu   sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedAds
}

type cachedAds struct {
	ads       []domain.Ad
	expiresAt time.Time
}

func NewAdRepository(catalog app.AdCatalog, ttl time.Duration) *AdRepository {
	return &AdRepository{
		catalog: catalog,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedAds),
	}
}

func (r *AdRepository) DisplayAds(ctx context.Context, filter domain.DisplayFilter) ([]domain.Ad, error) {
	return r.catalog.DisplayAds(ctx, filter)
}

func (r *AdRepository) PreviewAd(ctx context.Context, adID string) ([]domain.Ad, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[adID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.ads, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(adID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[adID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.ads, nil
		}
		r.mu.RUnlock()

		ads, err := r.catalog.PreviewAd(ctx, adID)
		if err != nil {
			return nil, err
		}
		// an empty answer may be a not-yet-published ad, so it is not remembered
		if len(ads) == 0 {
			return ads, nil
		}

		r.mu.Lock()
		r.cache[adID] = cachedAds{
			ads:       ads,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return ads, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Ad), nil
}

func (r *AdRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticCatalog is a catalog backed by an in-memory list (useful for tests/demos).
type StaticCatalog struct {
	ads []domain.Ad
}

func NewStaticCatalog(ads []domain.Ad) *StaticCatalog {
	return &StaticCatalog{ads: ads}
}

func (c *StaticCatalog) DisplayAds(_ context.Context, filter domain.DisplayFilter) ([]domain.Ad, error) {
	out := make([]domain.Ad, 0, len(c.ads))
	for _, ad := range c.ads {
		if !ad.Active {
			continue
		}
		if filter.Format != "" && ad.Format != filter.Format {
			continue
		}
		out = append(out, ad)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (c *StaticCatalog) PreviewAd(_ context.Context, adID string) ([]domain.Ad, error) {
	for _, ad := range c.ads {
		if ad.ID == adID {
			return []domain.Ad{ad}, nil
		}
	}
	return []domain.Ad{}, nil
}
