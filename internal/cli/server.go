package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/auth"
	"ad-engagement-service/internal/config"
	"ad-engagement-service/internal/domain"
	"ad-engagement-service/internal/infra/backend"
	"ad-engagement-service/internal/infra/memory"
	"ad-engagement-service/internal/infra/postgres"
	infraredis "ad-engagement-service/internal/infra/redis"
	"ad-engagement-service/internal/quiz"
	transport "ad-engagement-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var adsPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ad engagement server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, adsPath)
		},
	}
	cmd.Flags().StringVar(&adsPath, "ads", "", "YAML ads file used when neither backend nor postgres is configured")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag, adsPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := requireSignedTokens(cfg); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		trackers app.MultiTracker
		ledger   app.Ledger
		catalog  app.AdCatalog
	)

	if cfg.Backend.BaseURL != "" {
		client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, config.Duration(cfg.Backend.Timeout, 10*time.Second))
		catalog = client
		trackers = append(trackers, client)
		ledger = client
		log.Printf("using backend %s for ads, analytics and rewards", cfg.Backend.BaseURL)
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		db, err := openBunDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		store := postgres.NewStore(db)
		trackers = append(trackers, store)
		if ledger == nil {
			ledger = store
		}
		if catalog == nil {
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			catalog = postgres.NewAdLoader(pool)
		}
	}

	if catalog == nil {
		ads := sampleAds()
		if adsPath != "" {
			if ads, err = loadAdsFile(adsPath); err != nil {
				return err
			}
		}
		catalog = memory.NewStaticCatalog(ads)
		log.Printf("serving %d static ads", len(ads))
	}
	if ledger == nil {
		ledger = unrecordedLedger{}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)
	catalogTTL := config.Duration(cfg.Catalog.TTL, time.Minute)

	var (
		cachedCatalog app.AdCatalog
		sessions      app.SessionRepository
		stats         transport.StatsReader
	)
	if redisClient != nil {
		cachedCatalog = infraredis.NewAdRepository(redisClient, catalog, catalogTTL)
		sessions = infraredis.NewSessionStore(redisClient, redisTTL)
		counters := infraredis.NewCounters(redisClient)
		trackers = append(trackers, counters)
		stats = counters
	} else {
		cachedCatalog = memory.NewAdRepository(catalog, catalogTTL)
		sessions = memory.NewSessionStore()
	}

	service := app.NewEngagementService(sessions, cachedCatalog, trackers, ledger, quiz.NewEngine(),
		app.WithSessionConfig(sessionConfig(cfg.Engagement)))
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("auth.jwtSecret not set; viewer tokens are decoded without signature checks")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", transport.NewWSHandler(service, verifier).ServeWS)
	transport.NewQuizHandler(service, stats).Register(mux)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("starting ad engagement service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sessionConfig overlays the configured values on the session defaults.
func sessionConfig(e config.Engagement) app.SessionConfig {
	cfg := app.DefaultSessionConfig()
	if e.RewardProbability != nil {
		cfg.RewardProbability = *e.RewardProbability
	}
	if e.SkipMinSeconds > 0 {
		cfg.SkipMinSeconds = e.SkipMinSeconds
	}
	if e.SkipMaxSeconds > 0 {
		cfg.SkipMaxSeconds = e.SkipMaxSeconds
	}
	if cfg.SkipMaxSeconds < cfg.SkipMinSeconds {
		cfg.SkipMaxSeconds = cfg.SkipMinSeconds
	}
	cfg.TickInterval = config.Duration(e.TickInterval, cfg.TickInterval)
	cfg.QuizTimeout = config.Duration(e.QuizTimeout, cfg.QuizTimeout)
	cfg.SuccessHold = config.Duration(e.SuccessHold, cfg.SuccessHold)
	cfg.FailureHold = config.Duration(e.FailureHold, cfg.FailureHold)
	cfg.LedgerTimeout = config.Duration(e.LedgerTimeout, cfg.LedgerTimeout)
	cfg.EventTimeout = config.Duration(e.EventTimeout, cfg.EventTimeout)
	return cfg
}

// requireSignedTokens refuses to credit postgres balances from unverified
// viewer tokens. The token subject picks the balance.
func requireSignedTokens(cfg config.Config) error {
	postgresLedger := cfg.Backend.BaseURL == "" && cfg.Postgres.URL != ""
	if postgresLedger && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required when rewards are credited to postgres")
	}
	return nil
}

// unrecordedLedger accepts credits when no balance store is configured.
type unrecordedLedger struct{}

func (unrecordedLedger) CreditReward(_ context.Context, claim domain.RewardClaim) error {
	log.Printf("no ledger configured; reward of %d for viewer %s on ad %s not recorded", claim.Amount, claim.Viewer.ID, claim.AdID)
	return nil
}

// sampleAds is the demo catalog used when nothing else is configured.
func sampleAds() []domain.Ad {
	now := time.Now()
	return []domain.Ad{
		{
			ID:          "demo-banner",
			Title:       "Learn Go in a weekend",
			Description: "Hands-on workshops for busy engineers.",
			Link:        "https://go.dev/learn/",
			Format:      domain.FormatBanner,
			Budget:      decimal.NewFromInt(500),
			Reward:      50,
			Active:      true,
			CreatedAt:   now,
			Quiz: []domain.QuizQuestion{
				{Question: "Which keyword starts a goroutine?", Type: domain.QuestionMultiple, Options: []string{"async", "go", "spawn"}, Correct: 1},
				{Question: "What does the workshop teach?", Type: domain.QuestionShort, Answer: "Go"},
			},
		},
		{
			ID:          "demo-video",
			Title:       "Ocean cleanup",
			Description: "Thirty seconds on how plastic leaves the sea.",
			Link:        "https://example.org/ocean",
			Format:      domain.FormatVideo,
			Media:       "https://example.org/ocean.mp4",
			Budget:      decimal.NewFromInt(1200),
			Reward:      100,
			Active:      true,
			CreatedAt:   now,
			Quiz: []domain.QuizQuestion{
				{Question: "What is removed from the ocean?", Type: domain.QuestionShort, Answer: "plastic"},
			},
		},
	}
}
