package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/payflow/internal/apperr"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/lock"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
	"github.com/smallbiznis/payflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestAllocator(t *testing.T) (*Allocator, *gorm.DB) {
	t.Helper()
	conn := testutil.NewTestDB(t)
	return NewAllocator(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Locker: lock.NewKeyedMutex(),
		Clock:  testutil.NewClock(),
		Config: testutil.WorkflowConfig(),
	}), conn
}

func TestAllocateIssuesContiguousNumbers(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		number, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.February, 3))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("2602-%04d", i), number)
	}

	current, err := a.Current(ctx, sequencedomain.ScopeVoucher, "2602")
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)
}

func TestAllocateUsesPaymentDateBucket(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()

	// the clock reads February; the payment date is in January
	number, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, "2601-0001", number)

	form, err := a.Allocate(ctx, sequencedomain.ScopeForm, testutil.Date(2026, time.January, 20))
	require.NoError(t, err)
	assert.Equal(t, "2601-PF-0001", form)
}

func TestAllocateBucketsAreIndependent(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()

	first, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.January, 20))
	require.NoError(t, err)
	second, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.February, 2))
	require.NoError(t, err)
	third, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.January, 31))
	require.NoError(t, err)

	assert.Equal(t, []string{"2601-0001", "2602-0001", "2601-0002"}, []string{first, second, third})
}

func TestAllocateBatchBucketIsYearly(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()

	first, err := a.Allocate(ctx, sequencedomain.ScopeBatch, testutil.Date(2026, time.January, 5))
	require.NoError(t, err)
	second, err := a.Allocate(ctx, sequencedomain.ScopeBatch, testutil.Date(2026, time.December, 5))
	require.NoError(t, err)

	assert.Equal(t, "BATCH-2026-0001", first)
	assert.Equal(t, "BATCH-2026-0002", second)
}

func TestAllocateConcurrentCallersGetDistinctGapFreeNumbers(t *testing.T) {
	a, _ := newTestAllocator(t)
	ctx := context.Background()
	const callers = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.February, 10))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, number)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Strings(numbers)
	expected := make([]string, 0, callers)
	for i := 1; i <= callers; i++ {
		expected = append(expected, fmt.Sprintf("2602-%04d", i))
	}
	assert.Equal(t, expected, numbers)
}

func TestAllocateExhaustedBucket(t *testing.T) {
	a, conn := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, conn.Create(&sequencedomain.Counter{
		Scope:      string(sequencedomain.ScopeVoucher),
		Bucket:     "2602",
		LastIssued: 9999,
		UpdatedAt:  time.Now().UTC(),
	}).Error)

	_, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.February, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrSequenceExhausted)
	assert.Equal(t, "bucket_exhausted", apperr.Code(err))

	current, err := a.Current(ctx, sequencedomain.ScopeVoucher, "2602")
	require.NoError(t, err)
	assert.Equal(t, int64(9999), current)

	// the next month is unaffected
	number, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, "2603-0001", number)
}

func TestNextRollsBackWithCallerTransaction(t *testing.T) {
	a, conn := newTestAllocator(t)
	ctx := context.Background()
	date := testutil.Date(2026, time.February, 10)
	errAbort := errors.New("abort")

	err := a.WithBucket(ctx, sequencedomain.ScopeVoucher, date, func(ctx context.Context) error {
		return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			number, err := a.Next(ctx, tx, sequencedomain.ScopeVoucher, date)
			require.NoError(t, err)
			assert.Equal(t, "2602-0001", number)
			return errAbort
		})
	})
	require.ErrorIs(t, err, errAbort)

	number, err := a.Allocate(ctx, sequencedomain.ScopeVoucher, date)
	require.NoError(t, err)
	assert.Equal(t, "2602-0001", number)
}

func TestNextRejectsInvalidInput(t *testing.T) {
	a, conn := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.Next(ctx, conn, sequencedomain.Scope("INVOICE"), testutil.Date(2026, time.February, 10))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = a.Next(ctx, conn, sequencedomain.ScopeVoucher, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestWithBucketReportsBusyBucket(t *testing.T) {
	conn := testutil.NewTestDB(t)
	locker := lock.NewKeyedMutex()
	a := NewAllocator(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Locker: locker,
		Clock:  testutil.NewClock(),
		Config: testutil.WorkflowConfig(func(cfg *config.WorkflowConfig) {
			cfg.Sequence.MaxAttempts = 2
		}),
	})
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "VOUCHER:2602", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	err = a.WithBucket(ctx, sequencedomain.ScopeVoucher, testutil.Date(2026, time.February, 10), func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
	assert.Equal(t, "bucket_busy", apperr.Code(err))
}

func TestCurrentUnknownBucket(t *testing.T) {
	a, _ := newTestAllocator(t)

	current, err := a.Current(context.Background(), sequencedomain.ScopeForm, "2512")
	require.NoError(t, err)
	assert.Zero(t, current)
}
