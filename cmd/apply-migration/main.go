package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/config"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/database"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <migration_file.sql> [more.sql ...]\n", os.Args[0])
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Log.Level, "console", "apply-migration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.String("db", cfg.Database.Database), zap.Error(err))
	}
	defer database.Close(db)

	for _, file := range os.Args[1:] {
		script, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("Failed to read migration file", zap.String("file", file), zap.Error(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = database.ApplySQL(ctx, db, string(script))
		cancel()
		if err != nil {
			log.Fatal("Migration failed", zap.String("file", file), zap.Error(err))
		}
		log.Info("Migration applied", zap.String("file", file))
	}
}
