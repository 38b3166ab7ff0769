package wallet

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local Mutator for development and tests.
type InMemory struct {
	mu       sync.Mutex
	balances map[string]Balance
	applied  map[string]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]Balance),
		applied:  make(map[string]struct{}),
	}
}

// Seed sets a starting balance without recording a credit.
func (w *InMemory) Seed(userID string, mainBalance int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balances[userID]
	bal.UserID = userID
	bal.MainBalance = mainBalance
	bal.UpdatedAt = time.Now()
	w.balances[userID] = bal
}

func (w *InMemory) Credit(_ context.Context, req CreditRequest) (*Balance, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	bal := w.balances[req.UserID]
	bal.UserID = req.UserID
	if _, ok := w.applied[req.Reference]; ok {
		return &bal, false, nil
	}
	bal.MainBalance += req.AmountMinor
	bal.TotalDeposits += req.AmountMinor
	if req.Currency != "" {
		bal.Currency = req.Currency
	}
	bal.UpdatedAt = time.Now()
	w.balances[req.UserID] = bal
	w.applied[req.Reference] = struct{}{}
	return &bal, true, nil
}

func (w *InMemory) Balance(_ context.Context, userID string) (*Balance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balances[userID]
	bal.UserID = userID
	return &bal, nil
}
