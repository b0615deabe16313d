package infrastructure

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cardledger/internal/logger"
)

type fakeServer struct {
	startErr error
	stopped  atomic.Bool
}

func (f *fakeServer) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeServer) Stop(ctx context.Context) error {
	f.stopped.Store(true)
	return nil
}

func TestApp_RunStopsAllOnCancel(t *testing.T) {
	a, b := &fakeServer{}, &fakeServer{}
	app := NewApp([]Server{a, b}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if !a.stopped.Load() || !b.stopped.Load() {
		t.Error("expected every server to be stopped")
	}
}

func TestApp_RunReturnsFirstServerError(t *testing.T) {
	boom := errors.New("listen failed")
	healthy, broken := &fakeServer{}, &fakeServer{startErr: boom}
	app := NewApp([]Server{healthy, broken}, logger.Discard())

	err := app.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if !healthy.stopped.Load() {
		t.Error("expected healthy server to be stopped after a sibling failed")
	}
}

func TestRunCleanup_ReverseOrder(t *testing.T) {
	var order []int
	cleanup := runCleanup([]func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
		func() { order = append(order, 3) },
	})
	cleanup()

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("unexpected cleanup order: %v", order)
	}
}
