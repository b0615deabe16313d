package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cardledger/internal/config"
	"cardledger/internal/logger"
	"cardledger/internal/repository"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run cmd/migrate/main.go [command] [args]")
		fmt.Println("Commands: up, down, status, redo")
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		logger.New("info", "json").Fatalf("Config error: %v", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.StoreProvider != "postgres" {
		log.Fatalf("Migrations need CARDLEDGER_STORE_PROVIDER=postgres, got %q", cfg.StoreProvider)
	}

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := repository.RunMigrations(ctx, log, cfg.DSN(), command, args[1:]...); err != nil {
		log.Fatalf("Migration error: %v", err)
	}

	log.Info("Migration finished successfully")
}
