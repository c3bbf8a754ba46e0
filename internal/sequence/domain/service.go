package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Allocator issues gap-free, never-reused numbers per (scope, bucket).
type Allocator interface {
	// Next allocates inside the caller's transaction. The counter row stays
	// locked until tx ends, so the number and the counter commit together.
	Next(ctx context.Context, tx *gorm.DB, scope Scope, date time.Time) (string, error)
	// WithBucket runs fn while holding the bucket lock of (scope, date).
	WithBucket(ctx context.Context, scope Scope, date time.Time, fn func(ctx context.Context) error) error
	// Allocate issues a number in its own transaction.
	Allocate(ctx context.Context, scope Scope, date time.Time) (string, error)
	// Current returns the last issued value of a bucket, 0 when none.
	Current(ctx context.Context, scope Scope, bucket string) (int64, error)
}
