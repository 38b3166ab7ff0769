package reconcile

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/deposit/inmem"
	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/gateway/gatewaytest"
	"gamehub/payment-settlement/internal/settlement"
	"gamehub/payment-settlement/internal/wallet"
)

type env struct {
	store  *inmem.Store
	wallet *wallet.InMemory
	psk    *gatewaytest.Provider
	coord  *settlement.Coordinator
	poller *Poller
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:  inmem.NewStore(),
		wallet: wallet.NewInMemory(),
		psk:    gatewaytest.New("paystack"),
	}
	e.coord = settlement.NewCoordinator(e.store, e.wallet, gateway.NewRegistry("paystack", e.psk), settlement.Options{})
	e.poller = New(e.store, e.coord, nil, Config{Concurrency: 3})
	return e
}

func (e *env) mainBalance(t *testing.T, userID string) int64 {
	t.Helper()
	bal, err := e.wallet.Balance(context.Background(), userID)
	require.NoError(t, err)
	return bal.MainBalance
}

func TestSweepUncredited_CrashRecovery(t *testing.T) {
	e := newEnv(t)
	e.wallet.Seed("u1", 1000)
	settled := time.Now().Add(-time.Minute)
	e.store.ForceState(deposit.Deposit{
		Reference:   "DEP1",
		UserID:      "u1",
		AmountMinor: 5000,
		Currency:    "GHS",
		Status:      deposit.StatusSuccessful,
		Channel:     "paystack",
		SettledAt:   &settled,
		CreatedAt:   settled,
		UpdatedAt:   settled,
	})

	stats, err := e.poller.SweepUncredited(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Credited)
	assert.Equal(t, int64(6000), e.mainBalance(t, "u1"))

	d, err := e.store.Get(context.Background(), "DEP1")
	require.NoError(t, err)
	assert.True(t, d.Credited())

	stats, err = e.poller.SweepUncredited(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Examined)
	assert.Equal(t, int64(6000), e.mainBalance(t, "u1"))
}

func TestSweepUncredited_RespectsGrace(t *testing.T) {
	e := newEnv(t)
	e.poller = New(e.store, e.coord, nil, Config{CreditGrace: time.Hour})
	now := time.Now()
	e.store.ForceState(deposit.Deposit{
		Reference: "FRESH", UserID: "u1", AmountMinor: 10, Status: deposit.StatusSuccessful,
		SettledAt: &now, CreatedAt: now, UpdatedAt: now,
	})

	stats, err := e.poller.SweepUncredited(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Examined)
	assert.Zero(t, e.mainBalance(t, "u1"))
}

func TestSweepPending_WebhookThenPollChangesNothing(t *testing.T) {
	e := newEnv(t)
	e.wallet.Seed("u1", 1000)
	_, err := e.store.EnsurePending(context.Background(), deposit.Deposit{
		Reference: "DEP3", UserID: "u1", AmountMinor: 3000, Currency: "GHS", Channel: "paystack",
	})
	require.NoError(t, err)
	e.psk.Succeed("DEP3", 3000, "u1")

	res, err := e.coord.Settle(context.Background(), settlement.Request{
		Reference: "DEP3",
		Source:    settlement.SourceWebhook,
		Trusted:   &gateway.Result{Status: gateway.StatusSuccess, AmountMinor: 3000, ExternalID: "4099"},
	})
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeCredited, res.Outcome)
	require.NotNil(t, res.Balance)
	require.Equal(t, int64(4000), *res.Balance)
	before, err := e.store.Get(context.Background(), "DEP3")
	require.NoError(t, err)

	pending, err := e.poller.SweepPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending.Examined)
	credit, err := e.poller.SweepUncredited(context.Background())
	require.NoError(t, err)
	assert.Zero(t, credit.Examined)

	after, err := e.store.Get(context.Background(), "DEP3")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(4000), e.mainBalance(t, "u1"))
	assert.Zero(t, e.psk.VerifyCalls())
}

func TestSweepPending_ResolvesStaleDeposits(t *testing.T) {
	e := newEnv(t)
	for _, ref := range []string{"OK1", "OK2", "BAD1", "WAIT1", "SLOW1"} {
		_, err := e.store.EnsurePending(context.Background(), deposit.Deposit{
			Reference: ref, UserID: "u1", AmountMinor: 100, Channel: "paystack",
		})
		require.NoError(t, err)
	}
	e.psk.Succeed("OK1", 100, "u1")
	e.psk.Succeed("OK2", 100, "u1")
	e.psk.Fail("BAD1")
	e.psk.Error("SLOW1", &gateway.RetryableError{Provider: "paystack", Err: errors.New("timeout")})

	stats, err := e.poller.SweepPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Examined: 5, Settled: 2, Failed: 1, Pending: 2}, stats)
	assert.Equal(t, int64(200), e.mainBalance(t, "u1"))

	d, err := e.store.Get(context.Background(), "SLOW1")
	require.NoError(t, err)
	assert.True(t, d.IsPending())
}

type countingSettler struct {
	inflight int32
	peak     int32
	calls    int32
}

func (c *countingSettler) Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error) {
	atomic.AddInt32(&c.calls, 1)
	n := atomic.AddInt32(&c.inflight, 1)
	defer atomic.AddInt32(&c.inflight, -1)
	for {
		peak := atomic.LoadInt32(&c.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&c.peak, peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return &settlement.Result{Reference: req.Reference, Status: deposit.StatusPending}, nil
}

func (c *countingSettler) ApplyCredit(context.Context, string, settlement.Source) (*wallet.Balance, bool, error) {
	return nil, false, nil
}

func TestSweepPending_BoundedConcurrency(t *testing.T) {
	store := inmem.NewStore()
	for i := 0; i < 12; i++ {
		_, err := store.EnsurePending(context.Background(), deposit.Deposit{
			Reference: "REF" + string(rune('A'+i)), UserID: "u1", AmountMinor: 1,
		})
		require.NoError(t, err)
	}
	s := &countingSettler{}
	p := New(store, s, nil, Config{Concurrency: 3})

	stats, err := p.SweepPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Pending)
	assert.Equal(t, int32(12), atomic.LoadInt32(&s.calls))
	assert.LessOrEqual(t, atomic.LoadInt32(&s.peak), int32(3))
}

type stubLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	store := inmem.NewStore()
	_, err := store.EnsurePending(context.Background(), deposit.Deposit{Reference: "L1", UserID: "u1", AmountMinor: 1})
	require.NoError(t, err)
	s := &countingSettler{}
	lock := &stubLocker{}
	p := New(store, s, lock, Config{})

	p.RunOnce(context.Background())
	p.RunOnce(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&s.calls))
}

func TestRunStopsOnCancel(t *testing.T) {
	s := &countingSettler{}
	p := New(inmem.NewStore(), s, nil, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	key := "payment:poller:test:" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { rdb.Del(context.Background(), key) })

	a := NewRedisLocker(rdb, "replica-a")
	b := NewRedisLocker(rdb, "replica-b")

	ok, err := a.TryLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
