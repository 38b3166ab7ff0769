// Package storetest is the behavioural contract every deposit.Store must meet.
// Implementations call RunStoreContract from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/deposit"
)

type SetupFunc func(t *testing.T) deposit.Store

func RunStoreContract(t *testing.T, setup SetupFunc) {
	t.Run("EnsurePending", func(t *testing.T) {
		runEnsurePendingTests(t, setup)
	})
	t.Run("ClaimSuccess", func(t *testing.T) {
		runClaimTests(t, setup)
	})
	t.Run("MarkFailed", func(t *testing.T) {
		runMarkFailedTests(t, setup)
	})
	t.Run("MarkCreditApplied", func(t *testing.T) {
		runCreditAppliedTests(t, setup)
	})
	t.Run("Queries", func(t *testing.T) {
		runQueryTests(t, setup)
	})
}

func newRef() string {
	return "DEP-" + uuid.NewString()
}

func pending(ref, user string, amount int64) deposit.Deposit {
	return deposit.Deposit{
		Reference:   ref,
		UserID:      user,
		AmountMinor: amount,
		Currency:    "GHS",
		Channel:     "paystack",
	}
}

func runEnsurePendingTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, creates pending row", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		created, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		require.True(t, created)

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, deposit.StatusPending, got.Status)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, int64(5000), got.AmountMinor)
		assert.Equal(t, "paystack", got.Channel)
		assert.Nil(t, got.CreditAppliedAt)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("ok, second insert is ignored", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)

		created, err := store.EnsurePending(ctx, pending(ref, "user-2", 9999))
		require.NoError(t, err)
		require.False(t, created)

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, int64(5000), got.AmountMinor)
	})

	t.Run("ok, does not reopen a settled row", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		won, _, err := store.ClaimSuccess(ctx, deposit.Claim{Reference: ref, ExternalID: "ext-1"})
		require.NoError(t, err)
		require.True(t, won)

		created, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		require.False(t, created)

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, deposit.StatusSuccessful, got.Status)
	})

	t.Run("fail, get unknown reference", func(t *testing.T) {
		store := setup(t)
		_, err := store.Get(context.Background(), newRef())
		require.ErrorIs(t, err, deposit.ErrNotFound)
	})
}

func runClaimTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, claim records gateway observation", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)

		raw := json.RawMessage(`{"status":"success"}`)
		won, got, err := store.ClaimSuccess(ctx, deposit.Claim{
			Reference:   ref,
			AmountMinor: 4500,
			ExternalID:  "ext-1",
			Raw:         raw,
			Source:      "webhook",
		})
		require.NoError(t, err)
		require.True(t, won)
		assert.Equal(t, deposit.StatusSuccessful, got.Status)
		assert.Equal(t, int64(4500), got.AmountMinor)
		assert.Equal(t, "ext-1", got.ExternalID)
		assert.Equal(t, "webhook", got.Source)
		assert.JSONEq(t, string(raw), string(got.GatewayRaw))
		assert.NotNil(t, got.SettledAt)
		assert.Nil(t, got.CreditAppliedAt)
	})

	t.Run("ok, zero amount keeps recorded amount", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)

		won, got, err := store.ClaimSuccess(ctx, deposit.Claim{Reference: ref, ExternalID: "ext-1"})
		require.NoError(t, err)
		require.True(t, won)
		assert.Equal(t, int64(5000), got.AmountMinor)
	})

	t.Run("ok, second claim loses", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)

		won, _, err := store.ClaimSuccess(ctx, deposit.Claim{Reference: ref, ExternalID: "first"})
		require.NoError(t, err)
		require.True(t, won)

		won, got, err := store.ClaimSuccess(ctx, deposit.Claim{Reference: ref, AmountMinor: 1, ExternalID: "second"})
		require.NoError(t, err)
		require.False(t, won)
		assert.Equal(t, "first", got.ExternalID)
		assert.Equal(t, int64(5000), got.AmountMinor)
	})

	t.Run("ok, exactly one concurrent claim wins", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)

		const callers = 10
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
			errs []error
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, _, err := store.ClaimSuccess(ctx, deposit.Claim{Reference: ref, ExternalID: "ext"})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if won {
					wins++
				}
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		require.Equal(t, 1, wins)
	})

	t.Run("ok, failed row cannot be claimed", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		changed, err := store.MarkFailed(ctx, deposit.Outcome{Reference: ref})
		require.NoError(t, err)
		require.True(t, changed)

		won, got, err := store.ClaimSuccess(ctx, deposit.Claim{Reference: ref, ExternalID: "late"})
		require.NoError(t, err)
		require.False(t, won)
		assert.Equal(t, deposit.StatusFailed, got.Status)
	})

	t.Run("fail, claim unknown reference", func(t *testing.T) {
		store := setup(t)
		_, _, err := store.ClaimSuccess(context.Background(), deposit.Claim{Reference: newRef()})
		require.ErrorIs(t, err, deposit.ErrNotFound)
	})
}

func runMarkFailedTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, pending becomes failed once", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)

		changed, err := store.MarkFailed(ctx, deposit.Outcome{Reference: ref, ExternalID: "ext", Source: "poll"})
		require.NoError(t, err)
		require.True(t, changed)

		changed, err = store.MarkFailed(ctx, deposit.Outcome{Reference: ref})
		require.NoError(t, err)
		require.False(t, changed)

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, deposit.StatusFailed, got.Status)
		assert.Equal(t, "poll", got.Source)
		assert.Nil(t, got.CreditAppliedAt)
	})

	t.Run("ok, successful row is not failed", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		_, _, err = store.ClaimSuccess(ctx, deposit.Claim{Reference: ref})
		require.NoError(t, err)

		changed, err := store.MarkFailed(ctx, deposit.Outcome{Reference: ref})
		require.NoError(t, err)
		require.False(t, changed)

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, deposit.StatusSuccessful, got.Status)
	})

	t.Run("ok, unknown reference is a no-op", func(t *testing.T) {
		store := setup(t)
		changed, err := store.MarkFailed(context.Background(), deposit.Outcome{Reference: newRef()})
		require.NoError(t, err)
		require.False(t, changed)
	})
}

func runCreditAppliedTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, set once", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		_, _, err = store.ClaimSuccess(ctx, deposit.Claim{Reference: ref})
		require.NoError(t, err)

		changed, err := store.MarkCreditApplied(ctx, ref)
		require.NoError(t, err)
		require.True(t, changed)

		first, err := store.Get(ctx, ref)
		require.NoError(t, err)
		require.NotNil(t, first.CreditAppliedAt)

		changed, err = store.MarkCreditApplied(ctx, ref)
		require.NoError(t, err)
		require.False(t, changed)

		second, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.True(t, first.CreditAppliedAt.Equal(*second.CreditAppliedAt))
	})

	t.Run("ok, pending and failed rows are never marked", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		pendingRef, failedRef := newRef(), newRef()

		_, err := store.EnsurePending(ctx, pending(pendingRef, "user-1", 5000))
		require.NoError(t, err)
		_, err = store.EnsurePending(ctx, pending(failedRef, "user-1", 5000))
		require.NoError(t, err)
		_, err = store.MarkFailed(ctx, deposit.Outcome{Reference: failedRef})
		require.NoError(t, err)

		for _, ref := range []string{pendingRef, failedRef} {
			changed, err := store.MarkCreditApplied(ctx, ref)
			require.NoError(t, err)
			require.False(t, changed)

			got, err := store.Get(ctx, ref)
			require.NoError(t, err)
			assert.Nil(t, got.CreditAppliedAt)
		}
	})
}

func runQueryTests(t *testing.T, setup SetupFunc) {
	t.Run("ok, stale pending honours grace window", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-q1-"+ref, 5000))
		require.NoError(t, err)

		fresh, err := store.FindStalePending(ctx, time.Hour, 1000)
		require.NoError(t, err)
		assert.NotContains(t, references(fresh), ref)

		stale, err := store.FindStalePending(ctx, 0, 1000)
		require.NoError(t, err)
		assert.Contains(t, references(stale), ref)
	})

	t.Run("ok, claimed uncredited rows are listed until credited", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		ref := newRef()

		_, err := store.EnsurePending(ctx, pending(ref, "user-1", 5000))
		require.NoError(t, err)
		_, _, err = store.ClaimSuccess(ctx, deposit.Claim{Reference: ref})
		require.NoError(t, err)

		found, err := store.FindClaimedUncredited(ctx, 0, 1000)
		require.NoError(t, err)
		assert.Contains(t, references(found), ref)

		found, err = store.FindStalePending(ctx, 0, 1000)
		require.NoError(t, err)
		assert.NotContains(t, references(found), ref)

		_, err = store.MarkCreditApplied(ctx, ref)
		require.NoError(t, err)

		found, err = store.FindClaimedUncredited(ctx, 0, 1000)
		require.NoError(t, err)
		assert.NotContains(t, references(found), ref)
	})

	t.Run("ok, list by user newest first", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()
		user := "user-" + uuid.NewString()
		first, second := newRef(), newRef()

		_, err := store.EnsurePending(ctx, pending(first, user, 100))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = store.EnsurePending(ctx, pending(second, user, 200))
		require.NoError(t, err)
		_, err = store.EnsurePending(ctx, pending(newRef(), "someone-else", 300))
		require.NoError(t, err)

		list, err := store.ListByUser(ctx, user, 10)
		require.NoError(t, err)
		require.Equal(t, []string{second, first}, references(list))

		list, err = store.ListByUser(ctx, user, 1)
		require.NoError(t, err)
		require.Equal(t, []string{second}, references(list))
	})
}

func references(ds []deposit.Deposit) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Reference)
	}
	return out
}
