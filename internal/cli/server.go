package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escape-progression-service/internal/app"
	"escape-progression-service/internal/config"
	"escape-progression-service/internal/domain"
	"escape-progression-service/internal/infra/memory"
	pgloader "escape-progression-service/internal/infra/postgres"
	redisinfra "escape-progression-service/internal/infra/redis"
	transport "escape-progression-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the progression server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.LevelLoader = memory.NewStaticLevelLoader(sampleLevels())
	if pool != nil {
		loader = pgloader.NewLevelLoader(pool)
	}

	levelTTL := config.TTLDuration(cfg.Levels.TTL, 10*time.Minute)
	var levelRepo app.LevelRepository
	if redisClient != nil {
		levelRepo = redisinfra.NewLevelRepository(redisClient, loader, levelTTL)
	} else {
		levelRepo = memory.NewLevelRepository(loader, levelTTL)
	}

	var teams app.TeamStore
	var qualified app.QualifiedStore
	if redisClient != nil {
		teams = redisinfra.NewTeamStore(redisClient)
		qualified = redisinfra.NewQualifiedStore(redisClient)
	} else {
		teams = memory.NewTeamStore()
		qualified = memory.NewQualifiedStore()
	}

	service := app.NewProgressionService(teams, levelRepo, qualified, rulesFromConfig(cfg))
	handler := transport.NewHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting progression service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func rulesFromConfig(cfg config.Config) app.GameRules {
	rules := app.DefaultRules()
	if cfg.Game.MaxLevel > 0 {
		rules.MaxLevel = cfg.Game.MaxLevel
	}
	if len(cfg.Game.Durations) > 0 {
		rules.Durations = cfg.Game.Durations
	}
	if cfg.Game.TabSwitchPenalty > 0 {
		rules.TabSwitchPenalty = cfg.Game.TabSwitchPenalty
	}
	rules.ZeroAttemptsUnlimited = cfg.Game.ZeroAttemptsUnlimited
	return rules
}

// sampleLevels provides minimal reference data; swap the loader for the
// Postgres-backed one in production.
func sampleLevels() map[int]domain.LevelDefinition {
	return map[int]domain.LevelDefinition{
		2: {
			Level:           2,
			AttemptsAllowed: 3,
			DurationSeconds: 300,
			Questions: []domain.Question{
				{
					ID:     "l2-q1",
					Prompt: "What walks on four legs in the morning, two at noon, three in the evening?",
					Answer: domain.Answer{Kind: domain.AnswerText, Text: "man"},
					Marks:  10,
				},
			},
		},
		5: {
			Level:           5,
			DurationSeconds: 180,
			Questions: []domain.Question{
				{
					ID:     "l5-final",
					Prompt: "Complete all scenario stages",
					Answer: domain.Answer{Kind: domain.AnswerText, Text: "passed"},
					Marks:  50,
				},
			},
		},
	}
}
