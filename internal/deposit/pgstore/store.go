// Package pgstore keeps the deposit ledger in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamehub/payment-settlement/internal/deposit"
)

const schema = `
CREATE TABLE IF NOT EXISTS deposits (
    reference         TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    amount_minor      BIGINT NOT NULL DEFAULT 0,
    currency          TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL CHECK (status IN ('pending', 'successful', 'failed')),
    channel           TEXT NOT NULL DEFAULT '',
    source            TEXT NOT NULL DEFAULT '',
    external_id       TEXT NOT NULL DEFAULT '',
    gateway_raw       JSONB,
    credit_applied_at TIMESTAMPTZ,
    settled_at        TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    CHECK (status = 'successful' OR credit_applied_at IS NULL)
);
CREATE INDEX IF NOT EXISTS deposits_status_created_idx ON deposits (status, created_at);
CREATE INDEX IF NOT EXISTS deposits_uncredited_idx ON deposits (settled_at) WHERE status = 'successful' AND credit_applied_at IS NULL;
CREATE INDEX IF NOT EXISTS deposits_user_created_idx ON deposits (user_id, created_at DESC);
`

const columns = `reference, user_id, amount_minor, currency, status, channel, source, external_id,
    gateway_raw, credit_applied_at, settled_at, created_at, updated_at`

type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func New(db *pgxpool.Pool) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates the deposits table and its indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return mapError(err)
}

func (s *Store) EnsurePending(ctx context.Context, d deposit.Deposit) (bool, error) {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
        INSERT INTO deposits (reference, user_id, amount_minor, currency, status, channel, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'pending', $5, $6, $6)
        ON CONFLICT (reference) DO NOTHING`,
		d.Reference, d.UserID, d.AmountMinor, d.Currency, d.Channel, now,
	)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Get(ctx context.Context, reference string) (*deposit.Deposit, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM deposits WHERE reference = $1`, reference)
	d, err := scanDeposit(row)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (s *Store) ClaimSuccess(ctx context.Context, c deposit.Claim) (bool, *deposit.Deposit, error) {
	now := s.now()
	row := s.db.QueryRow(ctx, `
        UPDATE deposits
        SET status       = 'successful',
            amount_minor = CASE WHEN $2::bigint > 0 THEN $2::bigint ELSE amount_minor END,
            currency     = CASE WHEN $3::text <> '' THEN $3::text ELSE currency END,
            external_id  = $4,
            gateway_raw  = $5,
            source       = $6,
            settled_at   = $7,
            updated_at   = $7
        WHERE reference = $1 AND status = 'pending'
        RETURNING `+columns,
		c.Reference, c.AmountMinor, c.Currency, c.ExternalID, nullableJSON(c.Raw), c.Source, now,
	)
	d, err := scanDeposit(row)
	if err == nil {
		return true, d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, mapError(err)
	}

	current, err := s.Get(ctx, c.Reference)
	if err != nil {
		return false, nil, err
	}
	return false, current, nil
}

func (s *Store) MarkFailed(ctx context.Context, o deposit.Outcome) (bool, error) {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
        UPDATE deposits
        SET status = 'failed', external_id = $2, gateway_raw = $3, source = $4, settled_at = $5, updated_at = $5
        WHERE reference = $1 AND status = 'pending'`,
		o.Reference, o.ExternalID, nullableJSON(o.Raw), o.Source, now,
	)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkCreditApplied(ctx context.Context, reference string) (bool, error) {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
        UPDATE deposits
        SET credit_applied_at = $2, updated_at = $2
        WHERE reference = $1 AND status = 'successful' AND credit_applied_at IS NULL`,
		reference, now,
	)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]deposit.Deposit, error) {
	return s.query(ctx, `
        SELECT `+columns+` FROM deposits
        WHERE status = 'pending' AND created_at <= $1
        ORDER BY created_at ASC LIMIT $2`,
		s.now().Add(-olderThan), limitOrAll(limit),
	)
}

func (s *Store) FindClaimedUncredited(ctx context.Context, olderThan time.Duration, limit int) ([]deposit.Deposit, error) {
	return s.query(ctx, `
        SELECT `+columns+` FROM deposits
        WHERE status = 'successful' AND credit_applied_at IS NULL AND settled_at <= $1
        ORDER BY settled_at ASC LIMIT $2`,
		s.now().Add(-olderThan), limitOrAll(limit),
	)
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]deposit.Deposit, error) {
	return s.query(ctx, `
        SELECT `+columns+` FROM deposits
        WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2`,
		userID, limitOrAll(limit),
	)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]deposit.Deposit, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]deposit.Deposit, 0)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, *d)
	}
	return out, mapError(rows.Err())
}

func scanDeposit(row pgx.Row) (*deposit.Deposit, error) {
	var (
		d      deposit.Deposit
		status string
		raw    []byte
	)
	err := row.Scan(
		&d.Reference,
		&d.UserID,
		&d.AmountMinor,
		&d.Currency,
		&status,
		&d.Channel,
		&d.Source,
		&d.ExternalID,
		&raw,
		&d.CreditAppliedAt,
		&d.SettledAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = deposit.Status(status)
	if len(raw) > 0 {
		d.GatewayRaw = json.RawMessage(raw)
	}
	return &d, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return deposit.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", deposit.ErrDuplicate, err)
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("deposit store timeout: %w", err)
	}
	return err
}
