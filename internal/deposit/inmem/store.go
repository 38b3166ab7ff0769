// Package inmem is a process-local deposit.Store used for development and tests.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"gamehub/payment-settlement/internal/deposit"
)

type Store struct {
	mu       *sync.Mutex
	deposits map[string]deposit.Deposit
	now      func() time.Time
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock returns a store that stamps rows using now.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		mu:       &sync.Mutex{},
		deposits: make(map[string]deposit.Deposit),
		now:      now,
	}
}

func (s *Store) EnsurePending(_ context.Context, d deposit.Deposit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[d.Reference]; ok {
		return false, nil
	}
	now := s.now()
	d.Status = deposit.StatusPending
	d.CreditAppliedAt = nil
	d.SettledAt = nil
	d.CreatedAt = now
	d.UpdatedAt = now
	s.deposits[d.Reference] = d
	return true, nil
}

func (s *Store) Get(_ context.Context, reference string) (*deposit.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[reference]
	if !ok {
		return nil, deposit.ErrNotFound
	}
	return copyOf(d), nil
}

func (s *Store) ClaimSuccess(_ context.Context, c deposit.Claim) (bool, *deposit.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[c.Reference]
	if !ok {
		return false, nil, deposit.ErrNotFound
	}
	if d.Status != deposit.StatusPending {
		return false, copyOf(d), nil
	}
	now := s.now()
	d.Status = deposit.StatusSuccessful
	if c.AmountMinor > 0 {
		d.AmountMinor = c.AmountMinor
	}
	if c.Currency != "" {
		d.Currency = c.Currency
	}
	d.ExternalID = c.ExternalID
	d.GatewayRaw = append([]byte(nil), c.Raw...)
	d.Source = c.Source
	d.SettledAt = &now
	d.UpdatedAt = now
	s.deposits[c.Reference] = d
	return true, copyOf(d), nil
}

func (s *Store) MarkFailed(_ context.Context, o deposit.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[o.Reference]
	if !ok || d.Status != deposit.StatusPending {
		return false, nil
	}
	now := s.now()
	d.Status = deposit.StatusFailed
	d.ExternalID = o.ExternalID
	d.GatewayRaw = append([]byte(nil), o.Raw...)
	d.Source = o.Source
	d.SettledAt = &now
	d.UpdatedAt = now
	s.deposits[o.Reference] = d
	return true, nil
}

func (s *Store) MarkCreditApplied(_ context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[reference]
	if !ok || d.Status != deposit.StatusSuccessful || d.CreditAppliedAt != nil {
		return false, nil
	}
	now := s.now()
	d.CreditAppliedAt = &now
	d.UpdatedAt = now
	s.deposits[reference] = d
	return true, nil
}

func (s *Store) FindStalePending(_ context.Context, olderThan time.Duration, limit int) ([]deposit.Deposit, error) {
	cutoff := s.now().Add(-olderThan)
	return s.collect(limit, func(d deposit.Deposit) bool {
		return d.Status == deposit.StatusPending && !d.CreatedAt.After(cutoff)
	}), nil
}

func (s *Store) FindClaimedUncredited(_ context.Context, olderThan time.Duration, limit int) ([]deposit.Deposit, error) {
	cutoff := s.now().Add(-olderThan)
	return s.collect(limit, func(d deposit.Deposit) bool {
		return d.Status == deposit.StatusSuccessful &&
			d.CreditAppliedAt == nil &&
			d.SettledAt != nil && !d.SettledAt.After(cutoff)
	}), nil
}

func (s *Store) ListByUser(_ context.Context, userID string, limit int) ([]deposit.Deposit, error) {
	out := s.collect(0, func(d deposit.Deposit) bool { return d.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ForceState overwrites a row. Tests use it to stage crash states that the
// public transitions never produce on their own.
func (s *Store) ForceState(d deposit.Deposit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deposits[d.Reference] = d
}

func (s *Store) collect(limit int, match func(deposit.Deposit) bool) []deposit.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]deposit.Deposit, 0)
	for _, d := range s.deposits {
		if match(d) {
			out = append(out, *copyOf(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyOf(d deposit.Deposit) *deposit.Deposit {
	cp := d
	if d.GatewayRaw != nil {
		cp.GatewayRaw = append([]byte(nil), d.GatewayRaw...)
	}
	if d.CreditAppliedAt != nil {
		t := *d.CreditAppliedAt
		cp.CreditAppliedAt = &t
	}
	if d.SettledAt != nil {
		t := *d.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}
