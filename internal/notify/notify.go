// Package notify fans settlement events out to clients and downstream
// consumers. Delivery is best effort; the deposit ledger stays the source of
// truth.
package notify

import (
	"context"
	"errors"
	"time"
)

const (
	EventDepositSettled = "deposit.settled"
	EventDepositFailed  = "deposit.failed"
)

type Event struct {
	Type        string    `json:"type"`
	Reference   string    `json:"reference"`
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amountMinor"`
	Currency    string    `json:"currency,omitempty"`
	Balance     *int64    `json:"balance,omitempty"`
	Source      string    `json:"source"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
