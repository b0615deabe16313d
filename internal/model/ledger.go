package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const TopicBalanceChanged = "cards.balance.changed"

// ChargeRequest drives both a charge and its reversal. TransactionID optionally
// references the card transaction row the caller has already persisted.
type ChargeRequest struct {
	CardID        string          `json:"card_id"`
	Amount        decimal.Decimal `json:"amount"`
	CallerID      string          `json:"caller_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

type ChargeResult struct {
	CardID         string          `json:"card_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AvailableLimit decimal.Decimal `json:"available_limit"`
}

type CreateCardRequest struct {
	OwnerID     string          `json:"owner_id"`
	PartnerID   *string         `json:"partner_id,omitempty"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type EntryKind string

const (
	EntryCharge   EntryKind = "charge"
	EntryReversal EntryKind = "reversal"
)

// BalanceChangedEvent is published after every successful balance mutation
// and persisted as a ledger entry by the entry worker.
type BalanceChangedEvent struct {
	EventID       string          `json:"event_id"`
	CardID        string          `json:"card_id"`
	Kind          EntryKind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CallerID      string          `json:"caller_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Version       int64           `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
