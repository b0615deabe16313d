package nats

import (
	"context"
	"encoding/json"
	"time"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/model"
	"cardledger/internal/service"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	SubjectCharge  = "commands.charge"
	SubjectReverse = "commands.reverse"

	queueGroup = "ledger_group"

	// commandTimeout bounds one command, including those delivered while draining.
	commandTimeout = 10 * time.Second
)

// Command is the payload of a charge or reverse request. Amount is a decimal string.
type Command struct {
	CardID        string `json:"card_id"`
	Amount        string `json:"amount"`
	CallerID      string `json:"caller_id"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Reply is the request-reply answer to a charge or reverse command.
type Reply struct {
	OK      bool                `json:"ok"`
	Result  *model.ChargeResult `json:"result,omitempty"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
}

type commandFunc func(context.Context, model.ChargeRequest) (*model.ChargeResult, error)

// Handler subscribes to NATS command subjects and delegates to the ledger service.
type Handler struct {
	svc service.LedgerService
	nc  *nats.Conn
	log *logrus.Logger
}

func NewHandler(svc service.LedgerService, nc *nats.Conn, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, nc: nc, log: log}
}

// Start subscribes to command subjects and blocks until ctx is cancelled, then
// drains so commands already received are still answered.
func (h *Handler) Start(ctx context.Context) error {
	commands := map[string]commandFunc{
		SubjectCharge:  h.svc.ApplyCharge,
		SubjectReverse: h.svc.ReverseCharge,
	}

	var subs []*nats.Subscription
	for subject, op := range commands {
		sub, err := h.nc.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
			h.serve(m, subject, op)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}

	h.log.Info("NATS command handler is running")

	<-ctx.Done()
	h.log.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range subs {
		if err := s.Drain(); err != nil {
			h.log.WithError(err).WithField("subject", s.Subject).Warn("nats: drain failed")
		}
	}
	return nil
}

// Stop is a no-op; Start owns the subscriptions and drains them when its ctx ends.
func (h *Handler) Stop(ctx context.Context) error {
	return nil
}

func (h *Handler) serve(m *nats.Msg, subject string, op commandFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply := h.handle(ctx, subject, m.Data, op)
	if m.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := m.Respond(data); err != nil {
		h.log.WithError(err).WithField("subject", subject).Error("nats: failed to respond")
	}
}

func (h *Handler) handle(ctx context.Context, subject string, data []byte, op commandFunc) Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.log.WithError(err).WithField("subject", subject).Error("nats: failed to unmarshal command")
		return errorReply(appErrors.ErrBadRequest.WithError(err))
	}

	amount, err := decimal.NewFromString(cmd.Amount)
	if err != nil {
		return errorReply(appErrors.NewInvalidArgument("amount", "amount must be a decimal"))
	}

	res, err := op(ctx, model.ChargeRequest{
		CardID:        cmd.CardID,
		Amount:        amount,
		CallerID:      cmd.CallerID,
		TransactionID: cmd.TransactionID,
	})
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"subject":   subject,
			"card_id":   cmd.CardID,
			"caller_id": cmd.CallerID,
		}).Warn("nats: command failed")
		return errorReply(err)
	}
	return Reply{OK: true, Result: res}
}

func errorReply(err error) Reply {
	appErr := appErrors.FromError(err)
	return Reply{OK: false, Code: appErr.Code, Message: appErr.Message}
}
