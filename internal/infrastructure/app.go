package infrastructure

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server is anything the App runs until shutdown: transports and workers alike.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers []Server
	log     *logrus.Logger
}

func NewApp(servers []Server, log *logrus.Logger) *App {
	return &App{servers: servers, log: log}
}

// Run starts every server and blocks until ctx is cancelled or one of them fails,
// then stops all of them.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.log.WithError(err).Warn("server stop failed")
		}
	}

	return g.Wait()
}
