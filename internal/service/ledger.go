package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/model"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerService defines the card balance operations.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the concrete ledger.
type LedgerService interface {
	ApplyCharge(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error)
	ReverseCharge(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error)
	GetCardState(ctx context.Context, cardID string) (*model.CardState, error)
	CreateCard(ctx context.Context, req model.CreateCardRequest) (*model.Card, error)
	DeactivateCard(ctx context.Context, cardID, callerID string) error
	RecordEntry(ctx context.Context, event model.BalanceChangedEvent) error
}

// CardStore is the authoritative card storage. Writes are conditioned on the
// version returned by the preceding read; ok is false when the row moved on.
type CardStore interface {
	GetCard(ctx context.Context, cardID string) (*model.Card, error)
	UpdateBalance(ctx context.Context, cardID string, expectedVersion int64, newBalance decimal.Decimal) (card *model.Card, ok bool, err error)
	Deactivate(ctx context.Context, cardID string, expectedVersion int64) (card *model.Card, ok bool, err error)
	CreateCard(ctx context.Context, card *model.Card) error
}

type EntryStore interface {
	AppendEntry(ctx context.Context, event model.BalanceChangedEvent) error
}

type StateCache interface {
	Get(ctx context.Context, cardID string) (*model.CardState, error)
	Set(ctx context.Context, state model.CardState, version int64) error
}

type MessageBus interface {
	Publish(topic string, data []byte) error
}

const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 10 * time.Millisecond

	maxBackoff = 250 * time.Millisecond
)

var errVersionConflict = errors.New("card changed since it was read")

type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Ledger serializes every balance mutation of a card through a
// read-check-conditional-write cycle against the CardStore.
type Ledger struct {
	store   CardStore
	entries EntryStore
	cache   StateCache
	bus     MessageBus
	log     *logrus.Logger
	opts    Options
	newID   func() string
}

func NewLedger(store CardStore, entries EntryStore, log *logrus.Logger, opts Options) *Ledger {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	return &Ledger{
		store:   store,
		entries: entries,
		log:     log,
		opts:    opts,
		newID:   uuid.NewString,
	}
}

func (l *Ledger) WithCache(cache StateCache) *Ledger {
	l.cache = cache
	return l
}

func (l *Ledger) WithBus(bus MessageBus) *Ledger {
	l.bus = bus
	return l
}

func (l *Ledger) ApplyCharge(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
	return l.mutate(ctx, model.EntryCharge, req)
}

func (l *Ledger) ReverseCharge(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
	return l.mutate(ctx, model.EntryReversal, req)
}

func (l *Ledger) mutate(ctx context.Context, kind model.EntryKind, req model.ChargeRequest) (*model.ChargeResult, error) {
	if err := validateChargeRequest(req); err != nil {
		return nil, err
	}

	var updated *model.Card
	err := l.withRetry(ctx, req.CardID, func(ctx context.Context) error {
		card, err := l.store.GetCard(ctx, req.CardID)
		if err != nil {
			return storeError(err)
		}

		newBalance, err := l.nextBalance(card, kind, req)
		if err != nil {
			return err
		}

		written, ok, err := l.store.UpdateBalance(ctx, card.ID, card.Version, newBalance)
		if err != nil {
			return storeError(err)
		}
		if !ok {
			return errVersionConflict
		}
		updated = written
		return nil
	})
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	l.log.WithFields(logrus.Fields{
		"card_id":   updated.ID,
		"caller_id": req.CallerID,
		"kind":      kind,
		"amount":    req.Amount.String(),
		"balance":   updated.CurrentBalance.String(),
	}).Info("card balance updated")

	l.refreshCache(ctx, updated)
	l.publish(updated, kind, req)

	return &model.ChargeResult{
		CardID:         updated.ID,
		CurrentBalance: updated.CurrentBalance,
		AvailableLimit: updated.AvailableLimit(),
	}, nil
}

// nextBalance applies the state, authorization and bound checks, in that order.
func (l *Ledger) nextBalance(card *model.Card, kind model.EntryKind, req model.ChargeRequest) (decimal.Decimal, error) {
	details := map[string]interface{}{"card_id": card.ID}

	if !card.IsActive {
		return decimal.Zero, appErrors.ErrCardInactive.WithDetails(details)
	}
	if !card.CanOperate(req.CallerID) {
		l.securityEvent(card.ID, req.CallerID, string(kind))
		return decimal.Zero, appErrors.ErrUnauthorized.WithDetails(details)
	}

	switch kind {
	case model.EntryCharge:
		next := card.CurrentBalance.Add(req.Amount)
		if next.GreaterThan(card.CreditLimit) {
			details["available_limit"] = card.AvailableLimit().String()
			details["amount"] = req.Amount.String()
			return decimal.Zero, appErrors.ErrLimitExceeded.WithDetails(details)
		}
		return next, nil
	case model.EntryReversal:
		next := card.CurrentBalance.Sub(req.Amount)
		if next.IsNegative() {
			details["current_balance"] = card.CurrentBalance.String()
			details["amount"] = req.Amount.String()
			return decimal.Zero, appErrors.ErrInvalidState.WithDetails(details)
		}
		return next, nil
	default:
		return decimal.Zero, appErrors.ErrInternalServer.WithMessage("unknown entry kind " + string(kind))
	}
}

func (l *Ledger) GetCardState(ctx context.Context, cardID string) (*model.CardState, error) {
	if cardID == "" {
		return nil, appErrors.NewInvalidArgument("card_id", "card_id is required")
	}

	if l.cache != nil {
		state, err := l.cache.Get(ctx, cardID)
		if err == nil {
			return state, nil
		}
		l.log.WithError(err).WithField("card_id", cardID).Debug("card state cache miss")
	}

	card, err := l.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, appErrors.FromError(storeError(err))
	}

	l.refreshCache(ctx, card)

	state := card.State()
	return &state, nil
}

func (l *Ledger) CreateCard(ctx context.Context, req model.CreateCardRequest) (*model.Card, error) {
	if req.OwnerID == "" {
		return nil, appErrors.NewInvalidArgument("owner_id", "owner_id is required")
	}
	if req.CreditLimit.IsNegative() {
		return nil, appErrors.NewInvalidArgument("credit_limit", "credit_limit must not be negative")
	}
	if !model.ValidMoney(req.CreditLimit) {
		return nil, appErrors.NewInvalidArgument("credit_limit", invalidMoneyMessage("credit_limit"))
	}

	partnerID := req.PartnerID
	if partnerID != nil && *partnerID == "" {
		partnerID = nil
	}
	if partnerID != nil && *partnerID == req.OwnerID {
		return nil, appErrors.NewInvalidArgument("partner_id", "partner_id must differ from owner_id")
	}

	card := &model.Card{
		ID:             l.newID(),
		OwnerID:        req.OwnerID,
		PartnerID:      partnerID,
		CreditLimit:    req.CreditLimit,
		CurrentBalance: decimal.Zero,
		IsActive:       true,
	}

	if err := l.store.CreateCard(ctx, card); err != nil {
		return nil, appErrors.FromError(storeError(err))
	}

	l.log.WithFields(logrus.Fields{
		"card_id":      card.ID,
		"owner_id":     card.OwnerID,
		"credit_limit": card.CreditLimit.String(),
	}).Info("card created")

	return card, nil
}

// DeactivateCard soft-deletes a card. Only the owner may do it; the balance is kept.
func (l *Ledger) DeactivateCard(ctx context.Context, cardID, callerID string) error {
	if cardID == "" {
		return appErrors.NewInvalidArgument("card_id", "card_id is required")
	}

	var updated *model.Card
	err := l.withRetry(ctx, cardID, func(ctx context.Context) error {
		card, err := l.store.GetCard(ctx, cardID)
		if err != nil {
			return storeError(err)
		}
		if callerID == "" || card.OwnerID != callerID {
			l.securityEvent(card.ID, callerID, "deactivate")
			return appErrors.ErrUnauthorized.WithDetails(map[string]interface{}{"card_id": card.ID})
		}
		if !card.IsActive {
			updated = card
			return nil
		}

		written, ok, err := l.store.Deactivate(ctx, card.ID, card.Version)
		if err != nil {
			return storeError(err)
		}
		if !ok {
			return errVersionConflict
		}
		updated = written
		return nil
	})
	if err != nil {
		return appErrors.FromError(err)
	}

	l.log.WithFields(logrus.Fields{"card_id": cardID, "caller_id": callerID}).Info("card deactivated")
	l.refreshCache(ctx, updated)
	return nil
}

func (l *Ledger) RecordEntry(ctx context.Context, event model.BalanceChangedEvent) error {
	if event.EventID == "" || event.CardID == "" {
		return appErrors.NewInvalidArgument("event_id", "event_id and card_id are required")
	}
	if err := l.entries.AppendEntry(ctx, event); err != nil {
		return appErrors.FromError(storeError(err))
	}
	return nil
}

// withRetry runs attempt until it stops reporting a version conflict, up to
// MaxAttempts times with jittered exponential backoff in between.
func (l *Ledger) withRetry(ctx context.Context, cardID string, attempt func(ctx context.Context) error) error {
	b := retry.NewExponential(l.opts.BackoffBase)
	b = retry.WithJitterPercent(50, b)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithMaxRetries(uint64(l.opts.MaxAttempts-1), b)

	tries := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		tries++
		err := attempt(ctx)
		if errors.Is(err, errVersionConflict) {
			l.log.WithFields(logrus.Fields{"card_id": cardID, "attempt": tries}).Debug("card version conflict")
			return retry.RetryableError(err)
		}
		return err
	})

	if errors.Is(err, errVersionConflict) {
		l.log.WithFields(logrus.Fields{"card_id": cardID, "attempts": tries}).Warn("card update gave up after concurrent writes")
		return appErrors.ErrContention.WithError(err).WithDetails(map[string]interface{}{
			"card_id":  cardID,
			"attempts": tries,
		})
	}
	return err
}

func (l *Ledger) refreshCache(ctx context.Context, card *model.Card) {
	if l.cache == nil || card == nil {
		return
	}
	if err := l.cache.Set(ctx, card.State(), card.Version); err != nil {
		l.log.WithError(err).WithField("card_id", card.ID).Warn("failed to cache card state")
	}
}

func (l *Ledger) publish(card *model.Card, kind model.EntryKind, req model.ChargeRequest) {
	if l.bus == nil {
		return
	}

	event := model.BalanceChangedEvent{
		EventID:       l.newID(),
		CardID:        card.ID,
		Kind:          kind,
		Amount:        req.Amount,
		BalanceAfter:  card.CurrentBalance,
		CallerID:      req.CallerID,
		TransactionID: req.TransactionID,
		Version:       card.Version,
		OccurredAt:    card.UpdatedAt,
	}

	data, err := json.Marshal(event)
	if err != nil {
		l.log.WithError(err).WithField("card_id", card.ID).Error("failed to encode balance event")
		return
	}
	if err := l.bus.Publish(model.TopicBalanceChanged, data); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"card_id":  card.ID,
			"event_id": event.EventID,
		}).Error("failed to publish balance event")
	}
}

func (l *Ledger) securityEvent(cardID, callerID, action string) {
	l.log.WithFields(logrus.Fields{
		"event":     "security.unauthorized_charge",
		"card_id":   cardID,
		"caller_id": callerID,
		"action":    action,
	}).Warn("caller is neither owner nor partner of the card")
}

func validateChargeRequest(req model.ChargeRequest) error {
	if req.CardID == "" {
		return appErrors.NewInvalidArgument("card_id", "card_id is required")
	}
	if !req.Amount.IsPositive() {
		return appErrors.NewInvalidArgument("amount", "amount must be positive")
	}
	if !model.ValidMoney(req.Amount) {
		return appErrors.NewInvalidArgument("amount", invalidMoneyMessage("amount"))
	}
	return nil
}

func invalidMoneyMessage(field string) string {
	return fmt.Sprintf("%s must have at most %d decimal places and be below %s", field, model.MoneyScale, model.MaxMoney)
}

// storeError keeps typed errors from the store and classifies everything else
// as a storage failure.
func storeError(err error) error {
	if _, ok := appErrors.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return appErrors.NewDatabaseError(err)
}
