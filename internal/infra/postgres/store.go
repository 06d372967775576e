package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ad-engagement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type adRow struct {
	bun.BaseModel `bun:"table:ads"`

	ID        string    `bun:"id,pk"`
	Format    string    `bun:"format,notnull"`
	Active    bool      `bun:"active,notnull"`
	Data      domain.Ad `bun:"data,type:jsonb,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type eventRow struct {
	bun.BaseModel `bun:"table:ad_events"`

	ID        string    `bun:"id,pk"`
	Kind      string    `bun:"kind,notnull"`
	SessionID string    `bun:"session_id,notnull"`
	AdID      string    `bun:"ad_id,notnull"`
	ViewerID  string    `bun:"viewer_id,notnull"`
	Amount    int       `bun:"amount,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type balanceRow struct {
	bun.BaseModel `bun:"table:viewer_balances"`

	ViewerID  string    `bun:"viewer_id,pk"`
	Balance   int64     `bun:"balance,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type creditRow struct {
	bun.BaseModel `bun:"table:reward_credits"`

	ID        string    `bun:"id,pk"`
	ViewerID  string    `bun:"viewer_id,notnull"`
	AdID      string    `bun:"ad_id,notnull"`
	Amount    int       `bun:"amount,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Store writes ads, engagement events and reward credits through bun.
// It serves as both the Tracker and the Ledger when no backend API is configured.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SaveAd validates and upserts an ad.
func (s *Store) SaveAd(ctx context.Context, ad domain.Ad) error {
	if err := ad.Validate(); err != nil {
		return err
	}
	ad.Normalize()
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = s.now().UTC()
	}
	row := &adRow{
		ID:        ad.ID,
		Format:    string(ad.Format),
		Active:    ad.Active,
		Data:      ad,
		CreatedAt: ad.CreatedAt,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("format = EXCLUDED.format").
		Set("active = EXCLUDED.active").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save ad %s: %w", ad.ID, err)
	}
	return nil
}

// Track appends an engagement event; replays of the same event id are ignored.
func (s *Store) Track(ctx context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	row := &eventRow{
		ID:        event.ID,
		Kind:      string(event.Kind),
		SessionID: event.SessionID,
		AdID:      event.AdID,
		ViewerID:  event.ViewerID,
		Amount:    event.Amount,
		CreatedAt: event.At,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.NewInsert().Model(row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CreditReward records the claim and adds its amount to the viewer's balance in
// one transaction. A claim ID that was already recorded leaves the balance alone.
func (s *Store) CreditReward(ctx context.Context, claim domain.RewardClaim) error {
	if claim.ID == "" {
		return errors.New("reward claim id is required")
	}
	now := s.now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		credit := &creditRow{
			ID:        claim.ID,
			ViewerID:  claim.Viewer.ID,
			AdID:      claim.AdID,
			Amount:    claim.Amount,
			CreatedAt: now,
		}
		res, err := tx.NewInsert().Model(credit).On("CONFLICT (id) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert credit: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("insert credit: %w", err)
		} else if n == 0 {
			return nil
		}
		balance := &balanceRow{ViewerID: claim.Viewer.ID, Balance: int64(claim.Amount), UpdatedAt: now}
		_, err = tx.NewInsert().
			Model(balance).
			On("CONFLICT (viewer_id) DO UPDATE").
			Set("balance = viewer_balances.balance + EXCLUDED.balance").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
}

// Balance returns a viewer's credited total; unknown viewers have zero.
func (s *Store) Balance(ctx context.Context, viewerID string) (int64, error) {
	row := new(balanceRow)
	err := s.db.NewSelect().Model(row).Where("viewer_id = ?", viewerID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return row.Balance, nil
}
