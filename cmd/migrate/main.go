package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

const usage = "usage: migrate up|down|status|version"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	m, err := db.NewMigrator(pool)
	if err != nil {
		logger.Fatal("create migrator", zap.Error(err))
	}
	defer m.Close()

	switch command {
	case "up":
		n, err := m.Up(ctx)
		if err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Int("count", n))
	case "down":
		if err := m.Down(ctx); err != nil {
			logger.Fatal("migrate down", zap.Error(err))
		}
		logger.Info("rolled back one migration")
	case "status":
		lines, err := m.Status(ctx)
		if err != nil {
			logger.Fatal("migrate status", zap.Error(err))
		}
		for _, l := range lines {
			fmt.Println(l)
		}
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			logger.Fatal("migrate version", zap.Error(err))
		}
		fmt.Println(v)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}
