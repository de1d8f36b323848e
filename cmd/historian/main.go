// cmd/historian/main.go drains the battle history queue from Redis into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/cache"
	"github.com/jason-s-yu/promptquest/internal/config"
	"github.com/jason-s-yu/promptquest/internal/database"
	"github.com/jason-s-yu/promptquest/internal/historian"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}
	logger.SetLevel(cfg.LogLevel)

	if cfg.DatabaseURL == "" || !cfg.Redis.Enabled() {
		logger.Fatal("historian needs both a database and Redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("failed to ensure schema")
	}

	client, err := cache.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer client.Close()

	svc := historian.NewService(client, database.NewHistoryStore(pool), cfg.History, logger)
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("historian exited")
	}
}
