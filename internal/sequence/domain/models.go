package domain

import (
	"time"

	"github.com/smallbiznis/payflow/internal/sequence/format"
)

// Scope names an independent numbering series.
type Scope string

const (
	ScopeVoucher Scope = "VOUCHER"
	ScopeForm    Scope = "FORM"
	ScopeBatch   Scope = "BATCH"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeVoucher, ScopeForm, ScopeBatch:
		return true
	default:
		return false
	}
}

// Template is the number layout of the scope.
func (s Scope) Template() string {
	switch s {
	case ScopeVoucher:
		return format.VoucherTemplate
	case ScopeForm:
		return format.FormTemplate
	case ScopeBatch:
		return format.BatchTemplate
	default:
		return ""
	}
}

// BucketLayout selects the counter a date falls into: monthly for
// documents, yearly for batches.
func (s Scope) BucketLayout() string {
	if s == ScopeBatch {
		return format.YearlyBucket
	}
	return format.MonthlyBucket
}

// Bucket returns the counter key of date within the scope.
func (s Scope) Bucket(date time.Time) (string, error) {
	return format.Bucket(s.BucketLayout(), date)
}

// MaxSequence is the last value a bucket can issue.
func (s Scope) MaxSequence() int64 {
	return format.MaxSequence(s.Template())
}

// Counter is the persistent last-issued value of one (scope, bucket).
// It is only ever incremented, under a row lock.
type Counter struct {
	Scope      string    `gorm:"primaryKey;type:varchar(16)"`
	Bucket     string    `gorm:"primaryKey;type:varchar(8)"`
	LastIssued int64     `gorm:"not null;default:0"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Counter) TableName() string { return "sequence_counters" }
