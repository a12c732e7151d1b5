package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
	"avatar-pipeline/internal/store/memory"
)

func newLedger(t *testing.T, acct models.Account, allotment int) (*Ledger, *memory.Store) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.PutAccount(acct))
	return New(st, allotment), st
}

func TestFreeAllotmentThenNoCredits(t *testing.T) {
	ctx := context.Background()
	l, st := newLedger(t, models.Account{ID: "u1"}, 1)

	got, err := l.TryConsumeCredit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Watermark)
	assert.Equal(t, TierFree, got.Tier)
	assert.Equal(t, 1, got.Account.FreeCreditsUsed)

	before, _ := st.GetAccount(ctx, "u1")
	_, err = l.TryConsumeCredit(ctx, "u1")
	assert.ErrorIs(t, err, apperr.ErrNoCredits)
	assert.Equal(t, apperr.KindAdmission, apperr.KindOf(err))

	after, _ := st.GetAccount(ctx, "u1")
	assert.Equal(t, before, after)
}

func TestPaidCreditsAreSpentFirst(t *testing.T) {
	ctx := context.Background()
	l, st := newLedger(t, models.Account{ID: "u1", Credits: 2}, 1)

	for i := 0; i < 2; i++ {
		got, err := l.TryConsumeCredit(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, got.Watermark)
		assert.Equal(t, TierPaid, got.Tier)
	}
	acct, _ := st.GetAccount(ctx, "u1")
	assert.Equal(t, 0, acct.Credits)
	assert.Equal(t, 0, acct.FreeCreditsUsed)
	assert.Equal(t, 2, acct.TotalGenerated)
}

func TestConcurrentConsumersNeverOverspend(t *testing.T) {
	ctx := context.Background()
	l, st := newLedger(t, models.Account{ID: "u1", Credits: 2}, 1)

	var (
		wg        sync.WaitGroup
		paid      atomic.Int32
		free      atomic.Int32
		noCredits atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := l.TryConsumeCredit(ctx, "u1")
			switch {
			case errors.Is(err, apperr.ErrNoCredits):
				noCredits.Add(1)
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			case got.Watermark:
				free.Add(1)
			default:
				paid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, paid.Load())
	assert.EqualValues(t, 1, free.Load())
	assert.EqualValues(t, 17, noCredits.Load())
	acct, _ := st.GetAccount(ctx, "u1")
	assert.Equal(t, 0, acct.Credits)
	assert.Equal(t, 1, acct.FreeCreditsUsed)
	assert.Equal(t, 3, acct.TotalGenerated)
}

func TestUnknownAccount(t *testing.T) {
	l := New(memory.New(), 1)
	_, err := l.TryConsumeCredit(context.Background(), "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGrantAndPackages(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, models.Account{ID: "u1", FreeCreditsUsed: 1}, 1)

	acct, err := l.GrantPackage(ctx, "u1", "5_credits")
	require.NoError(t, err)
	assert.Equal(t, 5, acct.Credits)
	assert.Equal(t, 0, acct.TotalGenerated)

	_, err = l.GrantPackage(ctx, "u1", "1000_credits")
	assert.Equal(t, apperr.KindAdmission, apperr.KindOf(err))
	_, err = l.Grant(ctx, "u1", 0)
	assert.Error(t, err)

	got, err := l.TryConsumeCredit(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Watermark)
}

func TestStatus(t *testing.T) {
	l := New(memory.New(), 1)
	s := l.StatusOf(models.Account{ID: "u1"})
	assert.True(t, s.HasWatermark)
	assert.True(t, s.CanGenerate)
	assert.Equal(t, 1, s.FreeRemaining)

	s = l.StatusOf(models.Account{ID: "u1", FreeCreditsUsed: 1})
	assert.False(t, s.CanGenerate)
	assert.False(t, s.HasWatermark, "no next generation to watermark")

	s = l.StatusOf(models.Account{ID: "u1", Credits: 3, FreeCreditsUsed: 1})
	assert.False(t, s.HasWatermark)
	assert.True(t, s.CanGenerate)
}
