package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is the authoritative record of one payment card.
// AvailableLimit is always derived and never persisted.
type Card struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	PartnerID      *string         `json:"partner_id,omitempty"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsActive       bool            `json:"is_active"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (c *Card) AvailableLimit() decimal.Decimal {
	return c.CreditLimit.Sub(c.CurrentBalance)
}

// CanOperate reports whether callerID is the owner or the partner of the card.
func (c *Card) CanOperate(callerID string) bool {
	if callerID == "" {
		return false
	}
	if callerID == c.OwnerID {
		return true
	}
	return c.PartnerID != nil && *c.PartnerID == callerID
}

func (c *Card) State() CardState {
	return CardState{
		CardID:         c.ID,
		CreditLimit:    c.CreditLimit,
		CurrentBalance: c.CurrentBalance,
		AvailableLimit: c.AvailableLimit(),
		IsActive:       c.IsActive,
		UpdatedAt:      c.UpdatedAt,
	}
}

// CardState is the read-only snapshot handed to display and reporting callers.
type CardState struct {
	CardID         string          `json:"card_id"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AvailableLimit decimal.Decimal `json:"available_limit"`
	IsActive       bool            `json:"is_active"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
