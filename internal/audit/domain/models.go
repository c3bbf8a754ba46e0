package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Action is the vocabulary of the approval history.
type Action string

const (
	ActionSubmit  Action = "SUBMIT"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionReturn  Action = "RETURN"
	ActionSign    Action = "SIGN"
)

func (a Action) Valid() bool {
	switch a {
	case ActionSubmit, ActionApprove, ActionReject, ActionReturn, ActionSign:
		return true
	default:
		return false
	}
}

// ApprovalHistoryEntry records one action taken on a document. Entries are
// insert-only.
type ApprovalHistoryEntry struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	DocumentKind string        `gorm:"type:varchar(16);not null;index:idx_approval_history_document,priority:1"`
	DocumentID   snowflake.ID  `gorm:"not null;index:idx_approval_history_document,priority:2"`
	ActorID      string        `gorm:"type:varchar(64);not null"`
	ActorLevel   int           `gorm:"not null"`
	Action       Action        `gorm:"type:varchar(16);not null"`
	Comment      string        `gorm:"type:text"`
	StatusBefore string        `gorm:"type:varchar(16);not null"`
	StatusAfter  string        `gorm:"type:varchar(16);not null"`
	BatchID      *snowflake.ID `gorm:"index"`
	CreatedAt    time.Time     `gorm:"not null"`
}

func (ApprovalHistoryEntry) TableName() string { return "approval_history" }

// Audit log actions.
const (
	ActionDocumentCreated = "document.created"
	ActionDocumentUpdated = "document.updated"
	ActionBatchCreated    = "batch.created"
	ActionBatchSigned     = "batch.signed"
	ActionBatchRejected   = "batch.rejected"
)

const (
	TargetDocument = "document"
	TargetBatch    = "batch"
)

// AuditLog records decisions that are not document transitions, such as
// the lifecycle of a signature batch.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorID    string            `gorm:"type:varchar(64);not null"`
	ActorLevel int               `gorm:"not null"`
	Action     string            `gorm:"type:varchar(64);not null;index"`
	TargetType string            `gorm:"type:varchar(32);not null;index:idx_audit_logs_target,priority:1"`
	TargetID   string            `gorm:"type:varchar(64);not null;index:idx_audit_logs_target,priority:2"`
	Metadata   datatypes.JSONMap
	CreatedAt  time.Time         `gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }
