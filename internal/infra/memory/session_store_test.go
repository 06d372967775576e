package memory

import (
	"context"
	"testing"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	service := app.NewEngagementService(store, NewStaticCatalog([]domain.Ad{sampleAd()}), nil, nopLedger{}, nil)

	session, err := service.Open(context.Background(), domain.Viewer{ID: "u1"}, app.OpenRequest{AdID: "ad-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.Get(session.ID()); !ok {
		t.Fatalf("expected session present")
	}

	session.Close()
	if _, ok := store.Get(session.ID()); ok {
		t.Fatalf("expected session removed on close")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

type nopLedger struct{}

func (nopLedger) CreditReward(context.Context, domain.RewardClaim) error { return nil }
