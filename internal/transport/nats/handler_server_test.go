package nats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cardledger/internal/logger"
	"cardledger/internal/model"
	"cardledger/internal/repository"
	"cardledger/internal/service"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

func runTestServer(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestHandler_ServesCommandsAndStopsCleanly(t *testing.T) {
	nc := runTestServer(t)

	store := repository.NewMemoryStore()
	ledger := service.NewLedger(store, store, logger.Discard(), service.Options{BackoffBase: time.Millisecond})
	card, err := ledger.CreateCard(context.Background(), model.CreateCardRequest{OwnerID: "owner", CreditLimit: decimal.NewFromInt(200)})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	h := NewHandler(ledger, nc, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	startErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		startErr <- h.Start(ctx)
	}()

	// Stop may run while Start is still subscribing.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = h.Stop(context.Background())
	}()

	payload, _ := json.Marshal(Command{CardID: card.ID, Amount: "150", CallerID: "owner"})
	var reply Reply
	deadline := time.Now().Add(5 * time.Second)
	for {
		msg, err := nc.Request(SubjectCharge, payload, 500*time.Millisecond)
		if err == nil {
			if err := json.Unmarshal(msg.Data, &reply); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reply: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !reply.OK || !reply.Result.CurrentBalance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	cancel()
	wg.Wait()
	if err := <-startErr; err != nil {
		t.Fatalf("Start returned %v", err)
	}
}
