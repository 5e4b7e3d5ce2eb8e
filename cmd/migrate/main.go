package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/archon-research/dca/db/migrations"
	"github.com/archon-research/dca/db/migrator"
	"github.com/archon-research/dca/internal/pkg/env"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))

	connStr := env.Get("DATABASE_URL", "")
	if connStr == "" {
		logger.Error("required environment variable not set: DATABASE_URL")
		os.Exit(1)
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)
	if err := m.ApplyAll(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		logger.Warn("listing applied migrations", "error", err)
	}
	logger.Info("all migrations up to date", "applied", len(applied))
}
