package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/model"

	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local card store with the same version-checked
// write contract as CardRepo. Each call is atomic on its own; nothing is held
// between a read and the following write, so callers race exactly as they do
// against Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	cards   map[string]model.Card
	entries map[string]model.BalanceChangedEvent
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:   make(map[string]model.Card),
		entries: make(map[string]model.BalanceChangedEvent),
		now:     time.Now,
	}
}

func (s *MemoryStore) GetCard(ctx context.Context, cardID string) (*model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[cardID]
	if !ok {
		return nil, appErrors.ErrNotFound.WithDetails(map[string]interface{}{"card_id": cardID})
	}
	return &card, nil
}

func (s *MemoryStore) UpdateBalance(ctx context.Context, cardID string, expectedVersion int64, newBalance decimal.Decimal) (*model.Card, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[cardID]
	if !ok || card.Version != expectedVersion {
		return nil, false, nil
	}
	if !model.ValidMoney(newBalance) {
		return nil, false, fmt.Errorf("balance %s does not fit the money column", newBalance)
	}
	// Mirrors the cards_balance_within_limit check constraint.
	if newBalance.IsNegative() || newBalance.GreaterThan(card.CreditLimit) {
		return nil, false, fmt.Errorf("balance %s violates limit %s for card %s", newBalance, card.CreditLimit, cardID)
	}

	card.CurrentBalance = newBalance
	card.Version++
	card.UpdatedAt = s.now()
	s.cards[cardID] = card
	return &card, true, nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, cardID string, expectedVersion int64) (*model.Card, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[cardID]
	if !ok || card.Version != expectedVersion {
		return nil, false, nil
	}

	card.IsActive = false
	card.Version++
	card.UpdatedAt = s.now()
	s.cards[cardID] = card
	return &card, true, nil
}

func (s *MemoryStore) CreateCard(ctx context.Context, card *model.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cards[card.ID]; exists {
		return fmt.Errorf("card %s already exists", card.ID)
	}
	if !model.ValidMoney(card.CreditLimit) || !model.ValidMoney(card.CurrentBalance) {
		return fmt.Errorf("card %s amounts do not fit the money column", card.ID)
	}

	now := s.now()
	card.Version = 0
	card.CreatedAt = now
	card.UpdatedAt = now
	s.cards[card.ID] = *card
	return nil
}

func (s *MemoryStore) AppendEntry(ctx context.Context, event model.BalanceChangedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[event.EventID]; !exists {
		s.entries[event.EventID] = event
	}
	return nil
}

// Entries returns the recorded ledger entries of a card ordered by card version.
func (s *MemoryStore) Entries(cardID string) []model.BalanceChangedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.BalanceChangedEvent
	for _, e := range s.entries {
		if e.CardID == cardID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
