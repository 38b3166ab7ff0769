package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wallet_balances (
    user_id        TEXT PRIMARY KEY,
    main_balance   BIGINT NOT NULL DEFAULT 0,
    total_deposits BIGINT NOT NULL DEFAULT 0,
    currency       TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_credits (
    reference    TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    amount_minor BIGINT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);
`

// creditSQL records the reference and moves the balance in one statement;
// when the reference already exists the insert yields no row and the
// balance upsert does nothing.
const creditSQL = `
WITH credit AS (
    INSERT INTO wallet_credits (reference, user_id, amount_minor, created_at)
    VALUES ($1, $2, $3, $5)
    ON CONFLICT (reference) DO NOTHING
    RETURNING amount_minor
)
INSERT INTO wallet_balances (user_id, main_balance, total_deposits, currency, updated_at)
SELECT $2::text, amount_minor, amount_minor, $4::text, $5::timestamptz FROM credit
ON CONFLICT (user_id) DO UPDATE
SET main_balance   = wallet_balances.main_balance + EXCLUDED.main_balance,
    total_deposits = wallet_balances.total_deposits + EXCLUDED.total_deposits,
    currency       = CASE WHEN EXCLUDED.currency <> '' THEN EXCLUDED.currency ELSE wallet_balances.currency END,
    updated_at     = EXCLUDED.updated_at
RETURNING user_id, main_balance, total_deposits, currency, updated_at
`

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, postgresSchema)
	return err
}

func (p *Postgres) Credit(ctx context.Context, req CreditRequest) (*Balance, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}
	var bal Balance
	err := p.db.QueryRow(ctx, creditSQL,
		req.Reference, req.UserID, req.AmountMinor, req.Currency, time.Now().UTC(),
	).Scan(&bal.UserID, &bal.MainBalance, &bal.TotalDeposits, &bal.Currency, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := p.Balance(ctx, req.UserID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return &bal, true, nil
}

func (p *Postgres) Balance(ctx context.Context, userID string) (*Balance, error) {
	bal := Balance{UserID: userID}
	err := p.db.QueryRow(ctx, `
        SELECT main_balance, total_deposits, currency, updated_at
        FROM wallet_balances WHERE user_id = $1`, userID,
	).Scan(&bal.MainBalance, &bal.TotalDeposits, &bal.Currency, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &bal, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}
