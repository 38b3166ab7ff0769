// Package gateway normalises each payment provider's "check transaction
// status" call into one Result shape.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Result is a provider's answer for one reference. Amounts are in minor
// currency units. UserID is filled when the provider echoes the customer the
// charge was initiated for.
type Result struct {
	Status      Status          `json:"status"`
	AmountMinor int64           `json:"amountMinor"`
	Currency    string          `json:"currency,omitempty"`
	ExternalID  string          `json:"externalId,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

var (
	// ErrRetryable marks network, timeout and provider 5xx failures. No ledger
	// state may change on these; the caller retries later.
	ErrRetryable = errors.New("gateway temporarily unavailable")

	// ErrRejected marks a well-formed "no such transaction" or rejection.
	// It is terminal and settles the deposit as failed.
	ErrRejected = errors.New("gateway rejected transaction")

	ErrUnknownProvider = errors.New("unknown payment provider")

	// ErrNotConfigured is returned by a provider client that has no secret
	// key and was not put in simulation mode.
	ErrNotConfigured = errors.New("payment provider not configured")
)

// RetryableError wraps a transient provider failure.
type RetryableError struct {
	Provider string
	Status   int
	Err      error
}

func (e *RetryableError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s http %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Is(target error) bool {
	return target == ErrRetryable
}

// Verifier checks the provider-side status of a reference.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*Result, error)
}

// InitiateRequest starts a mobile-money charge for a reference that the
// caller has already recorded as pending.
type InitiateRequest struct {
	Reference   string
	UserID      string
	AmountMinor int64
	Currency    string
	Phone       string
	Network     string
	CallbackURL string
}

type Initiation struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	DisplayText string `json:"displayText,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Provider is one payment gateway integration.
type Provider interface {
	Verifier
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
}

// Registry resolves providers by name with a configured default.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

func NewRegistry(defaultProvider string, providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		fallback:  strings.ToLower(defaultProvider),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Get returns the named provider, or the default one when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = r.fallback
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// ToMinor converts a major-unit amount to minor units, rounding half away
// from zero at the minor unit.
func ToMinor(major decimal.Decimal) int64 {
	if major.Sign() <= 0 {
		return 0
	}
	return major.Mul(hundred).Round(0).IntPart()
}

// FromMinor renders minor units as a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}
