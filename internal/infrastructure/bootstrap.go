package infrastructure

import (
	"context"

	"cardledger/internal/config"
	"cardledger/internal/repository"
	"cardledger/internal/service"
	transportGRPC "cardledger/internal/transport/grpc"
	transportHTTP "cardledger/internal/transport/http"
	transportNATS "cardledger/internal/transport/nats"
	"cardledger/internal/worker"

	"github.com/sirupsen/logrus"
)

// Bootstrap connects every dependency named in cfg and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, func(), error) {
	var cleanupFns []func()

	// ── Card store ─────────────────────────────────────────────────────────────
	var store service.CardStore
	var entries service.EntryStore

	switch cfg.StoreProvider {
	case "postgres":
		db, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		cleanupFns = append(cleanupFns, db.Close)
		repo := repository.NewCardRepo(db)
		store, entries = repo, repo
	case "memory":
		log.Warn("using in-memory card store, balances are lost on restart")
		mem := repository.NewMemoryStore()
		store, entries = mem, mem
	}

	ledger := service.NewLedger(store, entries, log, service.Options{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
	})

	// ── Optional read cache ────────────────────────────────────────────────────
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := connectRedis(ctx, addr)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		ledger.WithCache(repository.NewCardCache(rdb, cfg.CacheTTL))
	} else {
		log.Info("redis not configured, card state reads go to the store")
	}

	var svc service.LedgerService = ledger
	servers := []Server{transportGRPC.NewServer(cfg.GRPCAddr(), svc, log)}

	// ── Bus setup ──────────────────────────────────────────────────────────────
	switch cfg.BusProvider {
	case "nats":
		nc, err := connectNats(cfg.NatsAddr(), log)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)
		ledger.WithBus(transportNATS.NewBus(nc))

		// Entry worker persists balance events; the handler serves charge commands.
		servers = append(servers,
			worker.NewEntryWorker(svc, nc, log),
			transportNATS.NewHandler(svc, nc, log),
		)

	case "grpc":
		// Events go to a remote EventService, whose Server.Publish records them.
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCBusAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, cleanup)
		ledger.WithBus(grpcBus)
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, []byte(cfg.JWTSecret), log))
	} else {
		log.WithError(apiErr).Info("HTTP API not started")
	}

	return NewApp(servers, log), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
