package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ad-engagement-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const defaultDisplayLimit = 10

// AdLoader reads ad JSONB from Postgres and serves it as an ad catalog.
type AdLoader struct {
	pool *pgxpool.Pool
}

func NewAdLoader(pool *pgxpool.Pool) *AdLoader {
	return &AdLoader{pool: pool}
}

func (l *AdLoader) PreviewAd(ctx context.Context, adID string) ([]domain.Ad, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM ads WHERE id=$1`, adID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []domain.Ad{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ad: %w", err)
	}
	ad, err := decodeAd(raw)
	if err != nil {
		return nil, err
	}
	return []domain.Ad{ad}, nil
}

func (l *AdLoader) DisplayAds(ctx context.Context, filter domain.DisplayFilter) ([]domain.Ad, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDisplayLimit
	}
	rows, err := l.pool.Query(ctx, `
		SELECT data FROM ads
		WHERE active AND ($1 = '' OR format = $1)
		ORDER BY created_at DESC
		LIMIT $2`, string(filter.Format), limit)
	if err != nil {
		return nil, fmt.Errorf("query display ads: %w", err)
	}
	defer rows.Close()

	ads := make([]domain.Ad, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		ad, err := decodeAd(raw)
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

func decodeAd(raw []byte) (domain.Ad, error) {
	var ad domain.Ad
	if err := json.Unmarshal(raw, &ad); err != nil {
		return domain.Ad{}, fmt.Errorf("unmarshal ad: %w", err)
	}
	return ad, nil
}
