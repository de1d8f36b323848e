// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/auth"
	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/cache"
	"github.com/jason-s-yu/promptquest/internal/config"
	"github.com/jason-s-yu/promptquest/internal/database"
	"github.com/jason-s-yu/promptquest/internal/handlers"
	"github.com/jason-s-yu/promptquest/internal/historian"
	"github.com/jason-s-yu/promptquest/internal/rating"
	"github.com/jason-s-yu/promptquest/internal/realtime"
	"github.com/jason-s-yu/promptquest/internal/scoring"
	"github.com/jason-s-yu/promptquest/internal/users"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}
	logger.SetLevel(cfg.LogLevel)

	if cfg.PrivateKeyPath != "" {
		err = auth.InitFromPath(cfg.PrivateKeyPath, cfg.PublicKeyPath, cfg.TokenTTL)
	} else {
		logger.Warn("JWT_PRIVATE_KEY_PATH not set; using an ephemeral signing key")
		err = auth.Init(cfg.TokenTTL)
	}
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize auth")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends := map[string]string{}
	pingers := map[string]handlers.Pinger{}

	// storage
	var (
		battleStore battle.Store
		userStore   users.Store
		ratingStore rating.Store
		history     historian.Reader
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to postgres")
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.WithError(err).Fatal("failed to ensure schema")
		}
		battleStore = database.NewBattleStore(pool)
		userStore = database.NewUserStore(pool)
		ratingStore = database.NewRatingStore(pool)
		if cfg.HistoryEnabled {
			history = database.NewHistoryStore(pool)
		}
		backends["store"] = "postgres"
		pingers["postgres"] = pool.Ping
	} else {
		logger.Warn("DATABASE_URL not set; battles and users are kept in memory")
		battleStore = battle.NewMemoryStore()
		userStore = users.NewMemoryStore()
		ratingStore = rating.NewMemoryStore()
		backends["store"] = "memory"
	}

	// fan-out
	hub := realtime.NewHub(logger)
	var publisher battle.Publisher = hub
	backends["fanout"] = "local"
	if cfg.Redis.Enabled() {
		client, err := cache.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		defer client.Close()

		relay := realtime.NewRedisRelay(client, hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("redis relay stopped")
			}
		}()
		publisher = relay
		backends["fanout"] = "redis"
		pingers["redis"] = relay.Ping

		if cfg.HistoryEnabled {
			publisher = battle.Publishers{relay, historian.NewQueue(client, cfg.History.Queue, 0)}
			backends["history"] = cfg.History.Queue
		}
	}

	// scoring
	var oracle scoring.Oracle = scoring.Offline{}
	var opts []battle.Option
	backends["oracle"] = "offline"
	if cfg.OracleConfigured() {
		gemini, err := scoring.NewGeminiOracle(ctx, cfg.Gemini)
		if err != nil {
			logger.WithError(err).Fatal("failed to create gemini client")
		}
		oracle = gemini
		opts = append(opts, battle.WithAnalyst(gemini))
		backends["oracle"] = "gemini"
	} else {
		logger.Warn("no oracle credentials; every prompt scores the neutral fallback")
	}
	ratings := rating.NewRecorder(ratingStore, logger)
	opts = append(opts, battle.WithRetryPolicy(cfg.Retry), battle.WithResultRecorder(ratings))

	engine := battle.NewEngine(battleStore, oracle, publisher, logger, opts...)

	recovery, err := battle.NewRecovery(engine, cfg.RescoreInterval, cfg.RescoreAfter, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create recovery scheduler")
	}
	recovery.Start()

	srv := &handlers.Server{
		Engine:         engine,
		Users:          users.NewService(userStore, logger),
		Hub:            hub,
		Ratings:        ratings,
		History:        history,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		Backends:       backends,
		Pingers:        pingers,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server exited")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := recovery.Shutdown(); err != nil {
		logger.WithError(err).Warn("recovery shutdown")
	}
	// cancels in-flight scoring; unscored seats are picked up by the next sweep
	engine.Close()
}
