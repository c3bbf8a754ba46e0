package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/payflow/internal/apperr"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/lock"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/observability/tracing"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
	"github.com/smallbiznis/payflow/internal/sequence/format"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errBucketBusy = errors.New("bucket_busy")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Locker  lock.Locker
	Clock   clock.Clock
	Config  *config.WorkflowConfigHolder
	Metrics *metrics.WorkflowMetrics `optional:"true"`
}

type Allocator struct {
	db      *gorm.DB
	log     *zap.Logger
	locker  lock.Locker
	clock   clock.Clock
	cfg     *config.WorkflowConfigHolder
	metrics *metrics.WorkflowMetrics
	tracer  trace.Tracer
}

func NewAllocator(p Params) *Allocator {
	return &Allocator{
		db:      p.DB,
		log:     p.Log.Named("sequence.allocator"),
		locker:  p.Locker,
		clock:   p.Clock,
		cfg:     p.Config,
		metrics: p.Metrics,
		tracer:  tracing.Tracer("payflow/sequence"),
	}
}

// Provide exposes the allocator through its interface.
func Provide(a *Allocator) sequencedomain.Allocator {
	return a
}

func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, scope sequencedomain.Scope, date time.Time) (number string, err error) {
	ctx, span := tracing.StartSpan(ctx, a.tracer, "sequence.Next",
		attribute.String("scope", string(scope)),
	)
	defer func() {
		a.metrics.RecordAllocation(string(scope), err)
		tracing.EndSpan(span, err)
	}()

	if !scope.Valid() {
		return "", apperr.Validation("invalid_scope", fmt.Sprintf("unknown numbering scope %q", scope))
	}
	if date.IsZero() {
		return "", apperr.Validation("invalid_date", "numbering date is required")
	}

	bucket, err := scope.Bucket(date)
	if err != nil {
		return "", apperr.Validation("invalid_date", err.Error())
	}

	now := a.clock.Now()
	seed := sequencedomain.Counter{
		Scope:      string(scope),
		Bucket:     bucket,
		LastIssued: 0,
		UpdatedAt:  now,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return "", classify("seed_counter", err)
	}

	var counter sequencedomain.Counter
	if err := db.ForUpdate(tx.WithContext(ctx)).
		Where("scope = ? AND bucket = ?", string(scope), bucket).
		Take(&counter).Error; err != nil {
		return "", classify("lock_counter", err)
	}

	next := counter.LastIssued + 1
	if max := scope.MaxSequence(); max > 0 && next > max {
		a.log.Warn("numbering bucket exhausted",
			zap.String("scope", string(scope)),
			zap.String("bucket", bucket),
			zap.Int64("last_issued", counter.LastIssued),
		)
		return "", apperr.New(apperr.ErrSequenceExhausted, "bucket_exhausted",
			fmt.Sprintf("%s bucket %s has issued all %d numbers", scope, bucket, max))
	}

	number, err = format.Format(scope.Template(), date, next)
	if err != nil {
		return "", apperr.Validation("invalid_number_format", err.Error())
	}

	res := tx.WithContext(ctx).
		Model(&sequencedomain.Counter{}).
		Where("scope = ? AND bucket = ? AND last_issued = ?", string(scope), bucket, counter.LastIssued).
		Updates(map[string]any{
			"last_issued": next,
			"updated_at":  now,
		})
	if res.Error != nil {
		return "", classify("advance_counter", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", apperr.Conflict("counter_moved", fmt.Sprintf("%s bucket %s advanced concurrently", scope, bucket))
	}

	return number, nil
}

func (a *Allocator) WithBucket(ctx context.Context, scope sequencedomain.Scope, date time.Time, fn func(ctx context.Context) error) error {
	bucket, err := scope.Bucket(date)
	if err != nil {
		return apperr.Validation("invalid_date", err.Error())
	}

	rules := a.cfg.Get().Sequence
	key := string(scope) + ":" + bucket

	start := time.Now()
	token, err := backoff.Retry(ctx, func() (string, error) {
		token, ok, err := a.locker.TryLock(ctx, key, rules.LockTTL)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if !ok {
			return "", errBucketBusy
		}
		return token, nil
	},
		backoff.WithBackOff(newLockBackOff()),
		backoff.WithMaxTries(uint(rules.MaxAttempts)),
	)
	a.metrics.ObserveLockWait(string(scope), time.Since(start))
	if err != nil {
		if errors.Is(err, errBucketBusy) {
			return apperr.Conflict("bucket_busy", fmt.Sprintf("numbering bucket %s is busy", key))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperr.Wrap(apperr.ErrConcurrencyConflict, "bucket_lock_cancelled", ctxErr)
		}
		return apperr.Persistence("bucket_lock", err)
	}

	defer func() {
		// release on a fresh context so a cancelled caller still frees the key
		if err := a.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			a.log.Warn("failed to release bucket lock", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

func (a *Allocator) Allocate(ctx context.Context, scope sequencedomain.Scope, date time.Time) (string, error) {
	maxTries := a.cfg.Get().Sequence.MaxAttempts

	return backoff.Retry(ctx, func() (string, error) {
		var number string
		err := a.WithBucket(ctx, scope, date, func(ctx context.Context) error {
			return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				n, err := a.Next(ctx, tx, scope, date)
				if err != nil {
					return err
				}
				number = n
				return nil
			})
		})
		if err == nil {
			return number, nil
		}
		if errors.Is(err, apperr.ErrConcurrencyConflict) || db.IsConflictErr(err) {
			a.log.Debug("retrying allocation", zap.String("scope", string(scope)), zap.Error(err))
			return "", err
		}
		return "", backoff.Permanent(err)
	},
		backoff.WithBackOff(newLockBackOff()),
		backoff.WithMaxTries(uint(maxTries)),
	)
}

func (a *Allocator) Current(ctx context.Context, scope sequencedomain.Scope, bucket string) (int64, error) {
	var counter sequencedomain.Counter
	err := a.db.WithContext(ctx).
		Where("scope = ? AND bucket = ?", string(scope), bucket).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Persistence("read_counter", err)
	}
	return counter.LastIssued, nil
}

func newLockBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return b
}

func classify(code string, err error) error {
	if db.IsConflictErr(err) {
		return apperr.Wrap(apperr.ErrConcurrencyConflict, code, err)
	}
	return apperr.Persistence(code, err)
}
