// Package gatewaytest provides a scripted in-process payment provider.
package gatewaytest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gamehub/payment-settlement/internal/gateway"
)

type answer struct {
	res *gateway.Result
	err error
}

// Provider answers Verify from a per-reference script and counts calls.
// Unscripted references are reported as pending.
type Provider struct {
	name string

	mu        sync.Mutex
	answers   map[string]answer
	initiated []gateway.InitiateRequest
	initErr   error
	delay     time.Duration

	verifyCalls int64
}

func New(name string) *Provider {
	return &Provider{name: name, answers: make(map[string]answer)}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Succeed(reference string, amountMinor int64, userID string) {
	p.Set(reference, &gateway.Result{
		Status:      gateway.StatusSuccess,
		AmountMinor: amountMinor,
		Currency:    "GHS",
		ExternalID:  "EXT-" + reference,
		UserID:      userID,
		Raw:         []byte(`{"status":"success"}`),
	}, nil)
}

func (p *Provider) Fail(reference string) {
	p.Set(reference, &gateway.Result{
		Status: gateway.StatusFailed,
		Raw:    []byte(`{"status":"failed"}`),
	}, nil)
}

func (p *Provider) Error(reference string, err error) {
	p.Set(reference, nil, err)
}

func (p *Provider) Set(reference string, res *gateway.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[reference] = answer{res: res, err: err}
}

// SetDelay makes every Verify wait before answering.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *Provider) FailInitiate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initErr = err
}

func (p *Provider) VerifyCalls() int {
	return int(atomic.LoadInt64(&p.verifyCalls))
}

func (p *Provider) Initiated() []gateway.InitiateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gateway.InitiateRequest(nil), p.initiated...)
}

func (p *Provider) Verify(ctx context.Context, reference string) (*gateway.Result, error) {
	atomic.AddInt64(&p.verifyCalls, 1)
	p.mu.Lock()
	a, ok := p.answers[reference]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &gateway.RetryableError{Provider: p.name, Err: ctx.Err()}
		}
	}
	if !ok {
		return &gateway.Result{Status: gateway.StatusPending}, nil
	}
	if a.err != nil {
		return nil, a.err
	}
	res := *a.res
	return &res, nil
}

func (p *Provider) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.Initiation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initErr != nil {
		return nil, p.initErr
	}
	p.initiated = append(p.initiated, req)
	return &gateway.Initiation{Reference: req.Reference, Status: "pending"}, nil
}
