package repository

import (
	"context"
	"errors"
	"fmt"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Numerics travel as text so shopspring/decimal keeps full precision.
const cardColumns = `id, owner_id, partner_id, credit_limit::text, current_balance::text,
	is_active, version, created_at, updated_at`

type CardRepo struct {
	dbPool *pgxpool.Pool
}

func NewCardRepo(db *pgxpool.Pool) *CardRepo {
	return &CardRepo{dbPool: db}
}

func (r *CardRepo) GetCard(ctx context.Context, cardID string) (*model.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`

	card, err := scanCard(r.dbPool.QueryRow(ctx, query, cardID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, appErrors.ErrNotFound.WithDetails(map[string]interface{}{"card_id": cardID})
	}
	if err != nil {
		return nil, fmt.Errorf("select card: %w", err)
	}
	return card, nil
}

// UpdateBalance writes newBalance only if the row still carries expectedVersion.
// ok is false when another writer got there first.
func (r *CardRepo) UpdateBalance(ctx context.Context, cardID string, expectedVersion int64, newBalance decimal.Decimal) (*model.Card, bool, error) {
	query := `
		UPDATE cards
		SET current_balance = $1::text::numeric,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + cardColumns

	card, err := scanCard(r.dbPool.QueryRow(ctx, query, newBalance.String(), cardID, expectedVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update card balance: %w", err)
	}
	return card, true, nil
}

func (r *CardRepo) Deactivate(ctx context.Context, cardID string, expectedVersion int64) (*model.Card, bool, error) {
	query := `
		UPDATE cards
		SET is_active = FALSE,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + cardColumns

	card, err := scanCard(r.dbPool.QueryRow(ctx, query, cardID, expectedVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("deactivate card: %w", err)
	}
	return card, true, nil
}

func (r *CardRepo) CreateCard(ctx context.Context, card *model.Card) error {
	query := `
		INSERT INTO cards (id, owner_id, partner_id, credit_limit, current_balance, is_active)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6)
		RETURNING version, created_at, updated_at`

	err := r.dbPool.QueryRow(ctx, query,
		card.ID,
		card.OwnerID,
		card.PartnerID,
		card.CreditLimit.String(),
		card.CurrentBalance.String(),
		card.IsActive,
	).Scan(&card.Version, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// AppendEntry stores a balance-change event once; replays of the same event are ignored.
func (r *CardRepo) AppendEntry(ctx context.Context, event model.BalanceChangedEvent) error {
	query := `
		INSERT INTO card_ledger_entries
			(event_id, card_id, kind, amount, balance_after, caller_id, transaction_id, card_version, occurred_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	var transactionID *string
	if event.TransactionID != "" {
		transactionID = &event.TransactionID
	}

	_, err := r.dbPool.Exec(ctx, query,
		event.EventID,
		event.CardID,
		string(event.Kind),
		event.Amount.String(),
		event.BalanceAfter.String(),
		event.CallerID,
		transactionID,
		event.Version,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func scanCard(row pgx.Row) (*model.Card, error) {
	var (
		card           model.Card
		creditLimit    string
		currentBalance string
	)

	err := row.Scan(
		&card.ID,
		&card.OwnerID,
		&card.PartnerID,
		&creditLimit,
		&currentBalance,
		&card.IsActive,
		&card.Version,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if card.CreditLimit, err = decimal.NewFromString(creditLimit); err != nil {
		return nil, fmt.Errorf("parse credit_limit %q: %w", creditLimit, err)
	}
	if card.CurrentBalance, err = decimal.NewFromString(currentBalance); err != nil {
		return nil, fmt.Errorf("parse current_balance %q: %w", currentBalance, err)
	}
	return &card, nil
}
