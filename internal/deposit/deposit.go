// Package deposit holds the deposit ledger: one row per external payment
// reference, with a monotonic pending -> successful|failed status machine.
package deposit

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// Deposit is the idempotency anchor for one payment attempt.
type Deposit struct {
	Reference       string          `json:"reference" bson:"reference"`
	UserID          string          `json:"userId" bson:"userId"`
	AmountMinor     int64           `json:"amountMinor" bson:"amountMinor"`
	Currency        string          `json:"currency" bson:"currency"`
	Status          Status          `json:"status" bson:"status"`
	Channel         string          `json:"channel" bson:"channel"`
	Source          string          `json:"source,omitempty" bson:"source,omitempty"`
	ExternalID      string          `json:"externalId,omitempty" bson:"externalId,omitempty"`
	GatewayRaw      json.RawMessage `json:"-" bson:"gatewayRaw,omitempty"`
	CreditAppliedAt *time.Time      `json:"creditAppliedAt,omitempty" bson:"creditAppliedAt"`
	SettledAt       *time.Time      `json:"settledAt,omitempty" bson:"settledAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

func (d *Deposit) IsPending() bool {
	return d.Status == StatusPending
}

func (d *Deposit) IsSuccessful() bool {
	return d.Status == StatusSuccessful
}

func (d *Deposit) IsFailed() bool {
	return d.Status == StatusFailed
}

// Credited reports whether the wallet increment for this deposit is durable.
func (d *Deposit) Credited() bool {
	return d.CreditAppliedAt != nil
}

// Claim carries the gateway observation that moves a deposit to successful.
// AmountMinor of zero keeps the amount recorded at creation.
type Claim struct {
	Reference   string
	AmountMinor int64
	Currency    string
	ExternalID  string
	Raw         json.RawMessage
	Source      string
}

// Outcome carries the gateway observation that moves a deposit to failed.
type Outcome struct {
	Reference  string
	ExternalID string
	Raw        json.RawMessage
	Source     string
}

// Store is the durable deposit ledger. Every status transition is a single
// conditional write, so callers in different processes can race safely.
type Store interface {
	// EnsurePending inserts a pending row unless one already exists for the
	// reference. created is false when the row was already present.
	EnsurePending(ctx context.Context, d Deposit) (created bool, err error)

	// Get returns ErrNotFound when no row exists.
	Get(ctx context.Context, reference string) (*Deposit, error)

	// ClaimSuccess transitions pending -> successful. won is true only for the
	// caller that performed the transition; the returned deposit is the row
	// as stored after the attempt either way.
	ClaimSuccess(ctx context.Context, c Claim) (won bool, d *Deposit, err error)

	// MarkFailed transitions pending -> failed; no-op on terminal rows.
	MarkFailed(ctx context.Context, o Outcome) (bool, error)

	// MarkCreditApplied sets creditAppliedAt on a successful row once.
	MarkCreditApplied(ctx context.Context, reference string) (bool, error)

	FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]Deposit, error)
	FindClaimedUncredited(ctx context.Context, olderThan time.Duration, limit int) ([]Deposit, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Deposit, error)
}
