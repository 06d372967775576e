package memory

import (
	"context"
	"testing"
	"time"

	"ad-engagement-service/internal/domain"
)

func TestAdRepositoryCaches(t *testing.T) {
	catalog := &countingCatalog{StaticCatalog: NewStaticCatalog([]domain.Ad{sampleAd()})}
	repo := NewAdRepository(catalog, time.Minute)

	if _, err := repo.PreviewAd(context.Background(), "ad-1"); err != nil {
		t.Fatalf("preview ad: %v", err)
	}
	if catalog.calls != 1 {
		t.Fatalf("expected catalog once, got %d", catalog.calls)
	}

	ads, err := repo.PreviewAd(context.Background(), "ad-1")
	if err != nil {
		t.Fatalf("preview ad 2: %v", err)
	}
	if catalog.calls != 1 {
		t.Fatalf("expected cache hit, catalog calls %d", catalog.calls)
	}
	if len(ads) != 1 || ads[0].ID != "ad-1" {
		t.Fatalf("unexpected ads %+v", ads)
	}
}

func TestAdRepositoryExpires(t *testing.T) {
	catalog := &countingCatalog{StaticCatalog: NewStaticCatalog([]domain.Ad{sampleAd()})}
	repo := NewAdRepository(catalog, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.PreviewAd(context.Background(), "ad-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.PreviewAd(context.Background(), "ad-1")
	if catalog.calls != 2 {
		t.Fatalf("expected reload after ttl, catalog calls %d", catalog.calls)
	}
}

func TestAdRepositoryDoesNotCacheMisses(t *testing.T) {
	catalog := &countingCatalog{StaticCatalog: NewStaticCatalog(nil)}
	repo := NewAdRepository(catalog, time.Minute)

	for i := 0; i < 2; i++ {
		ads, err := repo.PreviewAd(context.Background(), "missing")
		if err != nil {
			t.Fatalf("preview: %v", err)
		}
		if len(ads) != 0 {
			t.Fatalf("expected no ads, got %d", len(ads))
		}
	}
	if catalog.calls != 2 {
		t.Fatalf("expected every miss to reach the catalog, got %d", catalog.calls)
	}
}

func TestStaticCatalogDisplayFilters(t *testing.T) {
	video := sampleAd()
	video.ID = "ad-2"
	video.Format = domain.FormatVideo
	inactive := sampleAd()
	inactive.ID = "ad-3"
	inactive.Active = false

	catalog := NewStaticCatalog([]domain.Ad{sampleAd(), video, inactive})
	ads, _ := catalog.DisplayAds(context.Background(), domain.DisplayFilter{Format: domain.FormatVideo})
	if len(ads) != 1 || ads[0].ID != "ad-2" {
		t.Fatalf("expected only the video ad, got %+v", ads)
	}
	ads, _ = catalog.DisplayAds(context.Background(), domain.DisplayFilter{Limit: 1})
	if len(ads) != 1 || ads[0].ID != "ad-1" {
		t.Fatalf("expected limit to apply, got %+v", ads)
	}
}

type countingCatalog struct {
	*StaticCatalog
	calls int
}

func (c *countingCatalog) PreviewAd(ctx context.Context, adID string) ([]domain.Ad, error) {
	c.calls++
	return c.StaticCatalog.PreviewAd(ctx, adID)
}

func sampleAd() domain.Ad {
	return domain.Ad{
		ID:     "ad-1",
		Title:  "Spring sale",
		Format: domain.FormatBanner,
		Reward: 50,
		Active: true,
		Quiz: []domain.QuizQuestion{
			{ID: "q1", Question: "Color?", Type: domain.QuestionMultiple, Options: []string{"Red", "Blue"}, Correct: 1},
		},
	}
}
