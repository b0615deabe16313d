package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cardledger/internal/config"
	"cardledger/internal/infrastructure"
	"cardledger/internal/logger"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		logger.New("info", "json").Fatalf("Config error: %v", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Bootstrap error: %v", err)
	}
	defer cleanup()

	log.WithFields(logrus.Fields{
		"store": cfg.StoreProvider,
		"bus":   cfg.BusProvider,
	}).Info("card ledger starting")

	if err := app.Run(ctx); err != nil {
		log.WithError(err).Error("card ledger stopped with error")
		cleanup()
		os.Exit(1)
	}

	log.Info("card ledger stopped")
}
