package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cardledger/internal/model"
	"cardledger/internal/service"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	queueGroup     = "entry_worker_group"
	processTimeout = 10 * time.Second
)

// EntryWorker listens on the balance-changed topic and persists each event
// as a ledger entry.
type EntryWorker struct {
	svc      service.LedgerService
	natsConn *nats.Conn
	log      *logrus.Logger
}

func NewEntryWorker(svc service.LedgerService, nc *nats.Conn, log *logrus.Logger) *EntryWorker {
	return &EntryWorker{
		svc:      svc,
		natsConn: nc,
		log:      log,
	}
}

// Run subscribes to the balance-changed topic and blocks until ctx is cancelled.
func (w *EntryWorker) Run(ctx context.Context) error {
	// QueueSubscribe ensures that each event is handled by only one worker in the group.
	sub, err := w.natsConn.QueueSubscribe(model.TopicBalanceChanged, queueGroup, func(m *nats.Msg) {
		// Events delivered while draining outlive ctx, so each gets its own deadline.
		msgCtx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		_ = w.process(msgCtx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	w.log.Info("Entry worker is running")

	<-ctx.Done()

	w.log.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

func (w *EntryWorker) process(ctx context.Context, data []byte) error {
	var event model.BalanceChangedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		w.log.WithError(err).Error("worker: failed to unmarshal balance event")
		return err
	}

	if err := w.svc.RecordEntry(ctx, event); err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"card_id":  event.CardID,
			"event_id": event.EventID,
		}).Error("worker: failed to record ledger entry")
		return err
	}

	w.log.WithFields(logrus.Fields{
		"card_id":  event.CardID,
		"event_id": event.EventID,
		"kind":     event.Kind,
	}).Debug("worker: ledger entry recorded")
	return nil
}

// Start implements the infrastructure.Server interface.
func (w *EntryWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *EntryWorker) Stop(ctx context.Context) error {
	return nil
}
