// Package wallet applies deposit credits to account balances. Every Mutator
// is idempotent per deposit reference: crediting the same reference twice
// moves the balance once.
package wallet

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidCredit = errors.New("invalid credit request")

type Balance struct {
	UserID        string    `json:"userId"`
	MainBalance   int64     `json:"mainBalance"`
	TotalDeposits int64     `json:"totalDeposits"`
	Currency      string    `json:"currency,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type CreditRequest struct {
	UserID      string
	Reference   string
	AmountMinor int64
	Currency    string
}

func (r CreditRequest) validate() error {
	if r.UserID == "" || r.Reference == "" || r.AmountMinor <= 0 {
		return ErrInvalidCredit
	}
	return nil
}

type Mutator interface {
	// Credit increments mainBalance and totalDeposits by the request amount
	// unless this reference was already applied. applied reports whether this
	// call moved the balance.
	Credit(ctx context.Context, req CreditRequest) (bal *Balance, applied bool, err error)

	// Balance returns a zero balance for users that were never credited.
	Balance(ctx context.Context, userID string) (*Balance, error)
}
