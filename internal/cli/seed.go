package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"ad-engagement-service/internal/config"
	"ad-engagement-service/internal/domain"
	"ad-engagement-service/internal/infra/postgres"
	infraredis "ad-engagement-service/internal/infra/redis"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewSeedCmd loads ads from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var adsPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert ads from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ads, err := loadAdsFile(adsPath)
			if err != nil {
				return err
			}
			db, err := openBunDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var cache adInvalidator
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				cache = infraredis.NewAdRepository(client, nil, 0)
			}
			if err := seedAds(cmd.Context(), postgres.NewStore(db), cache, ads); err != nil {
				return err
			}
			log.Printf("seeded %d ads", len(ads))
			return nil
		},
	}
	cmd.Flags().StringVar(&adsPath, "ads", "config/ads.yaml", "path to the ads YAML file")
	return cmd
}

type adSaver interface {
	SaveAd(ctx context.Context, ad domain.Ad) error
}

type adInvalidator interface {
	Invalidate(ctx context.Context, adID string) error
}

// seedAds upserts ads and drops their cached copies so running servers
// reload them.
func seedAds(ctx context.Context, store adSaver, cache adInvalidator, ads []domain.Ad) error {
	for _, ad := range ads {
		if err := store.SaveAd(ctx, ad); err != nil {
			return fmt.Errorf("seed ad %s: %w", ad.ID, err)
		}
		if cache == nil {
			continue
		}
		if err := cache.Invalidate(ctx, ad.ID); err != nil {
			log.Printf("invalidate cached ad %s: %v", ad.ID, err)
		}
	}
	return nil
}

type adsFile struct {
	Ads []domain.Ad `yaml:"ads"`
}

func loadAdsFile(path string) ([]domain.Ad, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file adsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range file.Ads {
		file.Ads[i].Normalize()
		if err := file.Ads[i].Validate(); err != nil {
			return nil, fmt.Errorf("ad %d in %s: %w", i, path, err)
		}
	}
	return file.Ads, nil
}
