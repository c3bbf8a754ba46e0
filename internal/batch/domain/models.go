package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSigned   Status = "SIGNED"
	StatusRejected Status = "REJECTED"
)

// SignatureBatch groups approved documents for one signing decision.
// Membership is fixed at creation.
type SignatureBatch struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	BatchNumber    string       `gorm:"type:varchar(32);not null;uniqueIndex"`
	Status         Status       `gorm:"type:varchar(16);not null;index"`
	CreatedBy      string       `gorm:"type:varchar(64);not null;index"`
	CreatedByLevel int          `gorm:"not null"`
	SignedBy       *string      `gorm:"type:varchar(64)"`
	SignedAt       *time.Time
	Notes          string    `gorm:"type:text"`
	Comments       string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	Version        int64     `gorm:"not null;default:1"`

	Members []BatchMember `gorm:"foreignKey:BatchID"`
}

func (SignatureBatch) TableName() string { return "signature_batches" }

type BatchMember struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	BatchID      snowflake.ID `gorm:"not null;uniqueIndex:ux_batch_members_document,priority:1"`
	DocumentKind string       `gorm:"type:varchar(16);not null;uniqueIndex:ux_batch_members_document,priority:2;index:idx_batch_members_ref,priority:1"`
	DocumentID   snowflake.ID `gorm:"not null;uniqueIndex:ux_batch_members_document,priority:3;index:idx_batch_members_ref,priority:2"`
	CreatedAt    time.Time    `gorm:"not null"`
}

func (BatchMember) TableName() string { return "batch_members" }

func (m BatchMember) Ref() documentdomain.Ref {
	return documentdomain.Ref{Kind: documentdomain.Kind(m.DocumentKind), ID: m.DocumentID}
}

// Summary totals a batch for the signer.
type Summary struct {
	BatchID       snowflake.ID
	BatchNumber   string
	Status        Status
	DocumentCount int
	CountByKind   map[documentdomain.Kind]int
	TotalAmount   decimal.Decimal
}
