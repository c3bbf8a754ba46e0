package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/apperr"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *ApprovalHistoryEntry) error
	ListEntries(ctx context.Context, db *gorm.DB, ref documentdomain.Ref) ([]ApprovalHistoryEntry, error)
	ListEntriesByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]ApprovalHistoryEntry, error)
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Trail is the append-only record of document transitions and batch
// decisions. Record* calls join the caller's transaction.
type Trail interface {
	RecordTransition(ctx context.Context, tx *gorm.DB, entry *ApprovalHistoryEntry) error
	RecordBatchDecision(ctx context.Context, tx *gorm.DB, entry *AuditLog) error
	AuditLog(ctx context.Context, tx *gorm.DB, actor documentdomain.Actor, action, targetType, targetID string, metadata map[string]any) error

	History(ctx context.Context, ref documentdomain.Ref) ([]ApprovalHistoryEntry, error)
	CurrentChain(ctx context.Context, ref documentdomain.Ref) ([]ApprovalHistoryEntry, error)
	BatchHistory(ctx context.Context, batchID snowflake.ID) ([]ApprovalHistoryEntry, error)
	BatchLog(ctx context.Context, batchID snowflake.ID) ([]AuditLog, error)
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = apperr.Validation("invalid_page_token", "")
	ErrInvalidTimeRange = apperr.Validation("invalid_time_range", "start must not be after end")
	ErrInvalidAction    = apperr.Validation("invalid_action", "")
	ErrInvalidEntry     = apperr.Validation("invalid_entry", "")
)
