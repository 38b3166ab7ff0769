// Package settlement turns payment confirmations from any entry point into at
// most one wallet credit per deposit reference.
//
// Every caller funnels through Coordinator.Settle. The storage layer's
// conditional pending -> successful update decides which caller wins; only
// the winner credits the wallet, and the credit is itself idempotent per
// reference so a crash between claim and credit can be resumed by
// Coordinator.ApplyCredit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/metrics"
	"gamehub/payment-settlement/internal/notify"
	"gamehub/payment-settlement/internal/wallet"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceVerify  Source = "verify"
	SourceStatus  Source = "status"
	SourceAdmin   Source = "admin"
	SourcePoll    Source = "poll"
)

func (s Source) valid() bool {
	switch s {
	case SourceWebhook, SourceVerify, SourceStatus, SourceAdmin, SourcePoll:
		return true
	}
	return false
}

type Outcome string

const (
	// OutcomeCredited means this call won the claim and moved the balance.
	OutcomeCredited Outcome = "credited"
	// OutcomeAlreadySettled means another call settled the deposit first.
	// It is a success for the caller.
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeFailed         Outcome = "failed"
	OutcomePending        Outcome = "pending"
)

type Request struct {
	Reference string
	Source    Source
	// Trusted is a provider result whose authenticity was checked at ingress.
	// When set, no verify call is made.
	Trusted *gateway.Result
	// UserID owns the deposit when no row exists yet. A user reported by the
	// provider takes precedence.
	UserID string
	// Provider picks the verifier when no row exists yet.
	Provider string
}

type Result struct {
	Reference   string         `json:"reference"`
	Status      deposit.Status `json:"status"`
	Outcome     Outcome        `json:"outcome"`
	AmountMinor int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Credited    bool           `json:"credited"`
	Balance     *int64         `json:"balance,omitempty"`
}

type Options struct {
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
	// PublishTimeout bounds the post-credit event publish, which runs on the
	// request path after the credit is already durable.
	PublishTimeout time.Duration
	Publisher      notify.Publisher
	Now            func() time.Time
}

type Coordinator struct {
	store     deposit.Store
	wallet    wallet.Mutator
	gateways  *gateway.Registry
	publisher notify.Publisher
	opts      Options
}

func NewCoordinator(store deposit.Store, w wallet.Mutator, gateways *gateway.Registry, opts Options) *Coordinator {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 15 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pub := opts.Publisher
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Coordinator{
		store:     store,
		wallet:    w,
		gateways:  gateways,
		publisher: pub,
		opts:      opts,
	}
}

// Settle drives one reference as far as the provider's answer allows.
// A lost claim is reported as OutcomeAlreadySettled, never as an error.
func (c *Coordinator) Settle(ctx context.Context, req Request) (*Result, error) {
	ref, err := deposit.NormalizeReference(req.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !req.Source.valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrValidation, req.Source)
	}
	req.Reference = ref

	log := logger.FromContext(ctx).With(zap.String("reference", ref), zap.String("source", string(req.Source)))

	res, err := c.settle(ctx, req, log)
	outcome := "error"
	switch {
	case err == nil:
		outcome = string(res.Outcome)
	case errors.Is(err, ErrGatewayTimeout):
		outcome = "gateway_timeout"
	}
	metrics.SettlementsTotal.WithLabelValues(string(req.Source), outcome).Inc()

	var pe *PersistenceError
	if errors.As(err, &pe) {
		log.Error("settlement persistence failure", zap.String("op", pe.Op), zap.Error(pe.Err))
	}
	return res, err
}

func (c *Coordinator) settle(ctx context.Context, req Request, log *zap.Logger) (*Result, error) {
	existing, err := c.get(ctx, req.Reference)
	if err != nil && !errors.Is(err, deposit.ErrNotFound) {
		return nil, persistence("get", req.Reference, err)
	}
	if existing != nil && existing.Status.Terminal() {
		return c.cached(ctx, existing, log), nil
	}

	observed := req.Trusted
	if observed == nil {
		observed, err = c.verify(ctx, req, existing, log)
		if err != nil {
			return nil, err
		}
	}

	owner := ownerOf(existing, req, observed)

	// From here on the request context only supplies values; an aborted
	// caller must not stop a claim half way.
	work := context.WithoutCancel(ctx)

	switch observed.Status {
	case gateway.StatusFailed:
		return c.fail(work, req, existing, owner, observed, log)
	case gateway.StatusSuccess:
		return c.claim(work, req, existing, owner, observed, log)
	default:
		return c.pending(work, req, existing, owner, observed)
	}
}

func (c *Coordinator) verify(ctx context.Context, req Request, existing *deposit.Deposit, log *zap.Logger) (*gateway.Result, error) {
	name := req.Provider
	if existing != nil && existing.Channel != "" {
		name = existing.Channel
	}
	provider, err := c.gateways.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	vctx, cancel := context.WithTimeout(ctx, c.opts.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := provider.Verify(vctx, req.Reference)
	label := "ok"
	defer func() {
		metrics.GatewayDuration.WithLabelValues(provider.Name(), label).Observe(time.Since(start).Seconds())
	}()

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, gateway.ErrRejected):
		label = "rejected"
		log.Info("gateway rejected reference", zap.String("provider", provider.Name()), zap.Error(err))
		return &gateway.Result{Status: gateway.StatusFailed}, nil
	default:
		label = "retryable"
		log.Warn("gateway verify failed", zap.String("provider", provider.Name()), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGatewayTimeout, err)
	}
}

func (c *Coordinator) pending(ctx context.Context, req Request, existing *deposit.Deposit, owner string, observed *gateway.Result) (*Result, error) {
	if existing == nil && owner != "" {
		d := c.newDeposit(req, owner, observed)
		if _, err := c.ensurePending(ctx, d); err != nil {
			return nil, persistence("ensure_pending", req.Reference, err)
		}
		existing = &d
	}
	res := &Result{
		Reference: req.Reference,
		Status:    deposit.StatusPending,
		Outcome:   OutcomePending,
		UserID:    owner,
	}
	if existing != nil {
		res.AmountMinor = existing.AmountMinor
		res.Currency = existing.Currency
	}
	return res, nil
}

func (c *Coordinator) fail(ctx context.Context, req Request, existing *deposit.Deposit, owner string, observed *gateway.Result, log *zap.Logger) (*Result, error) {
	res := &Result{
		Reference: req.Reference,
		Status:    deposit.StatusFailed,
		Outcome:   OutcomeFailed,
		UserID:    owner,
	}
	if existing == nil {
		if owner == "" {
			// Nobody to attribute the row to; record nothing.
			return res, nil
		}
		d := c.newDeposit(req, owner, observed)
		if _, err := c.ensurePending(ctx, d); err != nil {
			return nil, persistence("ensure_pending", req.Reference, err)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	changed, err := c.store.MarkFailed(sctx, deposit.Outcome{
		Reference:  req.Reference,
		ExternalID: observed.ExternalID,
		Raw:        observed.Raw,
		Source:     string(req.Source),
	})
	cancel()
	if err != nil {
		return nil, persistence("mark_failed", req.Reference, err)
	}

	current, err := c.get(ctx, req.Reference)
	if err != nil {
		return nil, persistence("get", req.Reference, err)
	}
	if !changed && current.IsSuccessful() {
		// A success claim raced ahead of this failure report.
		return c.cached(ctx, current, log), nil
	}
	res.AmountMinor = current.AmountMinor
	res.Currency = current.Currency
	res.UserID = current.UserID
	if changed {
		log.Info("deposit marked failed")
		c.publish(ctx, notify.Event{
			Type:        notify.EventDepositFailed,
			Reference:   current.Reference,
			UserID:      current.UserID,
			Status:      string(deposit.StatusFailed),
			AmountMinor: current.AmountMinor,
			Currency:    current.Currency,
			Source:      string(req.Source),
		}, log)
	}
	return res, nil
}

func (c *Coordinator) claim(ctx context.Context, req Request, existing *deposit.Deposit, owner string, observed *gateway.Result, log *zap.Logger) (*Result, error) {
	if existing == nil {
		if owner == "" {
			return nil, fmt.Errorf("%w: no owner known for %s", ErrNotFound, req.Reference)
		}
		if _, err := c.ensurePending(ctx, c.newDeposit(req, owner, observed)); err != nil {
			return nil, persistence("ensure_pending", req.Reference, err)
		}
	} else if observed.AmountMinor > 0 && existing.AmountMinor > 0 && observed.AmountMinor != existing.AmountMinor {
		log.Warn("gateway amount differs from initiated amount",
			zap.Int64("initiated", existing.AmountMinor), zap.Int64("reported", observed.AmountMinor))
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	won, d, err := c.store.ClaimSuccess(sctx, deposit.Claim{
		Reference:   req.Reference,
		AmountMinor: observed.AmountMinor,
		Currency:    observed.Currency,
		ExternalID:  observed.ExternalID,
		Raw:         observed.Raw,
		Source:      string(req.Source),
	})
	cancel()
	if err != nil {
		return nil, persistence("claim", req.Reference, err)
	}
	if !won {
		return c.cached(ctx, d, log), nil
	}

	log.Info("deposit claimed", zap.String("owner_id", d.UserID), zap.Int64("amount_minor", d.AmountMinor))
	bal, _, err := c.applyCredit(ctx, d, req.Source, log)
	if err != nil {
		return nil, err
	}
	res := resultFrom(d, OutcomeCredited)
	res.Credited = true
	if bal != nil {
		res.Balance = &bal.MainBalance
	}
	return res, nil
}

// ApplyCredit finishes a claimed deposit: credit the wallet, then record the
// credit. Safe to repeat; applied is true only when this call moved the
// balance.
func (c *Coordinator) ApplyCredit(ctx context.Context, reference string, source Source) (bal *wallet.Balance, applied bool, err error) {
	log := logger.FromContext(ctx).With(zap.String("reference", reference), zap.String("source", string(source)))
	ctx = context.WithoutCancel(ctx)

	d, err := c.get(ctx, reference)
	if errors.Is(err, deposit.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	if err != nil {
		return nil, false, persistence("get", reference, err)
	}
	if !d.IsSuccessful() {
		return nil, false, fmt.Errorf("%w: deposit %s is %s", ErrValidation, reference, d.Status)
	}
	if d.Credited() {
		return nil, false, nil
	}
	return c.applyCredit(ctx, d, source, log)
}

func (c *Coordinator) applyCredit(ctx context.Context, d *deposit.Deposit, source Source, log *zap.Logger) (*wallet.Balance, bool, error) {
	var (
		bal     *wallet.Balance
		applied bool
	)
	if d.AmountMinor > 0 {
		wctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
		var err error
		bal, applied, err = c.wallet.Credit(wctx, wallet.CreditRequest{
			UserID:      d.UserID,
			Reference:   d.Reference,
			AmountMinor: d.AmountMinor,
			Currency:    d.Currency,
		})
		cancel()
		if err != nil {
			return nil, false, persistence("credit", d.Reference, err)
		}
	} else {
		log.Warn("successful deposit carries no amount; nothing to credit")
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	_, err := c.store.MarkCreditApplied(sctx, d.Reference)
	cancel()
	if err != nil {
		return bal, applied, persistence("mark_credit_applied", d.Reference, err)
	}

	if applied {
		metrics.CreditsApplied.WithLabelValues(string(source)).Inc()
		log.Info("wallet credited",
			zap.String("owner_id", d.UserID),
			zap.Int64("amount_minor", d.AmountMinor),
			zap.Int64("main_balance", bal.MainBalance))
		c.publish(ctx, notify.Event{
			Type:        notify.EventDepositSettled,
			Reference:   d.Reference,
			UserID:      d.UserID,
			Status:      string(deposit.StatusSuccessful),
			AmountMinor: d.AmountMinor,
			Currency:    d.Currency,
			Balance:     &bal.MainBalance,
			Source:      string(source),
		}, log)
	}
	return bal, applied, nil
}

// cached answers for a deposit that is already terminal.
func (c *Coordinator) cached(ctx context.Context, d *deposit.Deposit, log *zap.Logger) *Result {
	if d.IsFailed() {
		return resultFrom(d, OutcomeFailed)
	}
	res := resultFrom(d, OutcomeAlreadySettled)
	res.Credited = d.Credited()
	if d.UserID != "" {
		bctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
		bal, err := c.wallet.Balance(bctx, d.UserID)
		cancel()
		if err != nil {
			log.Warn("balance lookup failed", zap.Error(err))
		} else {
			res.Balance = &bal.MainBalance
		}
	}
	return res
}

func (c *Coordinator) publish(ctx context.Context, ev notify.Event, log *zap.Logger) {
	ev.OccurredAt = c.opts.Now().UTC()
	pctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()
	if err := c.publisher.Publish(pctx, ev); err != nil {
		metrics.PublishErrors.WithLabelValues("settlement").Inc()
		log.Warn("settlement event not published", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (c *Coordinator) get(ctx context.Context, reference string) (*deposit.Deposit, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()
	return c.store.Get(sctx, reference)
}

func (c *Coordinator) ensurePending(ctx context.Context, d deposit.Deposit) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()
	return c.store.EnsurePending(sctx, d)
}

func (c *Coordinator) newDeposit(req Request, owner string, observed *gateway.Result) deposit.Deposit {
	channel := req.Provider
	if channel == "" {
		if p, err := c.gateways.Get(""); err == nil {
			channel = p.Name()
		}
	}
	return deposit.Deposit{
		Reference:   req.Reference,
		UserID:      owner,
		AmountMinor: observed.AmountMinor,
		Currency:    observed.Currency,
		Channel:     channel,
	}
}

// ownerOf resolves who a deposit belongs to. A stored row always wins, then
// the provider's echo of the customer, then the caller's hint.
func ownerOf(existing *deposit.Deposit, req Request, observed *gateway.Result) string {
	switch {
	case existing != nil && existing.UserID != "":
		return existing.UserID
	case observed != nil && observed.UserID != "":
		return observed.UserID
	default:
		return req.UserID
	}
}

func resultFrom(d *deposit.Deposit, outcome Outcome) *Result {
	return &Result{
		Reference:   d.Reference,
		Status:      d.Status,
		Outcome:     outcome,
		AmountMinor: d.AmountMinor,
		Currency:    d.Currency,
		UserID:      d.UserID,
		Credited:    d.Credited(),
	}
}
