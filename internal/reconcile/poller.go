// Package reconcile re-drives deposits that no confirmation channel finished:
// stale pending rows go back through settlement, and claimed rows whose
// wallet credit never landed get it applied.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/metrics"
	"gamehub/payment-settlement/internal/settlement"
	"gamehub/payment-settlement/internal/wallet"
)

const lockKey = "payment:poller:lock"

// Settler is the part of settlement.Coordinator the poller drives.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error)
	ApplyCredit(ctx context.Context, reference string, source settlement.Source) (*wallet.Balance, bool, error)
}

// Config tunes the sweeps. Zero grace windows sweep rows immediately;
// negative ones fall back to the defaults.
type Config struct {
	Interval     time.Duration
	PendingGrace time.Duration
	CreditGrace  time.Duration
	Concurrency  int
	BatchSize    int
	StoreTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.PendingGrace < 0 {
		c.PendingGrace = 2 * time.Minute
	}
	if c.CreditGrace < 0 {
		c.CreditGrace = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
}

// Stats summarises one sweep.
type Stats struct {
	Examined int
	Settled  int
	Failed   int
	Pending  int
	Credited int
	Errors   int
}

type Poller struct {
	store   deposit.Store
	settler Settler
	locker  Locker
	cfg     Config
}

// New builds a poller. locker may be nil, in which case every replica sweeps
// every cycle.
func New(store deposit.Store, settler Settler, locker Locker, cfg Config) *Poller {
	cfg.defaults()
	return &Poller{store: store, settler: settler, locker: locker, cfg: cfg}
}

// Run sweeps on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	log := logger.FromContext(ctx)
	log.Info("reconciliation poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("pending_grace", p.cfg.PendingGrace),
		zap.Int("concurrency", p.cfg.Concurrency))

	for {
		select {
		case <-ctx.Done():
			log.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs both sweeps unless another replica holds the cycle lock.
func (p *Poller) RunOnce(ctx context.Context) {
	log := logger.FromContext(ctx)
	if p.locker != nil {
		ok, err := p.locker.TryLock(ctx, lockKey, p.cfg.Interval*9/10)
		if err != nil {
			log.Warn("poller lock unavailable, sweeping anyway", zap.Error(err))
		} else if !ok {
			log.Debug("poller cycle held by another replica")
			return
		}
	}

	pending, err := p.SweepPending(ctx)
	if err != nil {
		log.Error("pending sweep failed", zap.Error(err))
	}
	credit, err := p.SweepUncredited(ctx)
	if err != nil {
		log.Error("credit sweep failed", zap.Error(err))
	}
	if pending.Examined > 0 || credit.Examined > 0 {
		log.Info("poller cycle",
			zap.Int("pending_examined", pending.Examined),
			zap.Int("settled", pending.Settled),
			zap.Int("failed", pending.Failed),
			zap.Int("still_pending", pending.Pending),
			zap.Int("credits_resumed", credit.Credited),
			zap.Int("errors", pending.Errors+credit.Errors))
	}
}

// SweepPending re-settles pending deposits older than the grace window with
// bounded concurrency.
func (p *Poller) SweepPending(ctx context.Context) (Stats, error) {
	qctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	rows, err := p.store.FindStalePending(qctx, p.cfg.PendingGrace, p.cfg.BatchSize)
	cancel()
	if err != nil {
		return Stats{}, err
	}

	var (
		mu    sync.Mutex
		stats = Stats{Examined: len(rows)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, d := range rows {
		d := d
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := p.settler.Settle(gctx, settlement.Request{
				Reference: d.Reference,
				Source:    settlement.SourcePoll,
				Provider:  d.Channel,
			})
			result := classify(res, err)
			metrics.PollerSwept.WithLabelValues("pending", result).Inc()

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case "settled":
				stats.Settled++
			case "failed":
				stats.Failed++
			case "pending", "retry":
				stats.Pending++
			default:
				stats.Errors++
				logger.FromContext(ctx).Warn("poller settle failed",
					zap.String("reference", d.Reference), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats, nil
}

// SweepUncredited finishes deposits that were claimed but never credited.
func (p *Poller) SweepUncredited(ctx context.Context) (Stats, error) {
	qctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	rows, err := p.store.FindClaimedUncredited(qctx, p.cfg.CreditGrace, p.cfg.BatchSize)
	cancel()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Examined: len(rows)}
	for _, d := range rows {
		if ctx.Err() != nil {
			break
		}
		_, applied, err := p.settler.ApplyCredit(ctx, d.Reference, settlement.SourcePoll)
		switch {
		case err != nil:
			stats.Errors++
			metrics.PollerSwept.WithLabelValues("uncredited", "error").Inc()
			logger.FromContext(ctx).Error("credit resume failed", zap.String("reference", d.Reference), zap.Error(err))
		case applied:
			stats.Credited++
			metrics.PollerSwept.WithLabelValues("uncredited", "credited").Inc()
			logger.FromContext(ctx).Warn("resumed interrupted credit",
				zap.String("reference", d.Reference), zap.String("user_id", d.UserID), zap.Int64("amount_minor", d.AmountMinor))
		default:
			metrics.PollerSwept.WithLabelValues("uncredited", "noop").Inc()
		}
	}
	return stats, nil
}

func classify(res *settlement.Result, err error) string {
	switch {
	case errors.Is(err, settlement.ErrGatewayTimeout):
		return "retry"
	case err != nil:
		return "error"
	case res.Status == deposit.StatusSuccessful:
		return "settled"
	case res.Status == deposit.StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}
