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

type CreateBatchRequest struct {
	Documents []documentdomain.Ref
	Creator   documentdomain.Actor
	Notes     string
}

type SignBatchRequest struct {
	BatchID  snowflake.ID
	Signer   documentdomain.Actor
	Comments string
}

type RejectBatchRequest struct {
	BatchID  snowflake.ID
	Signer   documentdomain.Actor
	Comments string
}

type ListBatchRequest struct {
	pagination.Pagination
	Status    Status
	CreatedBy string
}

type ListBatchResponse struct {
	pagination.PageInfo
	Batches []SignatureBatch `json:"batches"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Status    Status
	CreatedBy string
	Cursor    *Cursor
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *SignatureBatch) error
	Load(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*SignatureBatch, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, changes map[string]any) (bool, error)
	// PendingMembership returns the pending batches that hold ref.
	PendingMembership(ctx context.Context, db *gorm.DB, ref documentdomain.Ref) ([]snowflake.ID, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*SignatureBatch, error)
	// ListEligible returns approved documents of kind held by no pending batch.
	ListEligible(ctx context.Context, db *gorm.DB, kind documentdomain.Kind) ([]documentdomain.Header, error)
}

type Service interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*SignatureBatch, error)
	SignBatch(ctx context.Context, req SignBatchRequest) (*SignatureBatch, error)
	RejectBatch(ctx context.Context, req RejectBatchRequest) (*SignatureBatch, error)
	Get(ctx context.Context, id snowflake.ID) (*SignatureBatch, error)
	List(ctx context.Context, req ListBatchRequest) (ListBatchResponse, error)
	Summary(ctx context.Context, id snowflake.ID) (Summary, error)
	ListEligible(ctx context.Context, kind documentdomain.Kind) ([]documentdomain.Header, error)
}

var (
	ErrBatchNotFound     = apperr.NotFound("batch_not_found", "")
	ErrEmptyBatch        = apperr.Validation("empty_batch", "a batch needs at least one document")
	ErrCommentsRequired  = apperr.Validation("comments_required", "rejecting a batch requires comments")
	ErrNotBatchCreator   = apperr.IllegalTransition("creator_level_required", "actor level may not create batches")
	ErrNotBatchSigner    = apperr.IllegalTransition("signer_level_required", "actor level may not sign batches")
	ErrBatchNotPending   = apperr.IllegalTransition("batch_not_pending", "batch has already been decided")
	ErrVersionConflict   = apperr.Conflict("version_conflict", "batch changed concurrently")
	ErrInvalidPageToken  = apperr.Validation("invalid_page_token", "")
	ErrMemberNotApproved = apperr.Validation("member_not_approved", "document is not APPROVED")
	ErrMemberInBatch     = apperr.Validation("member_in_pending_batch", "document already belongs to a pending batch")
	ErrMemberNotFound    = apperr.NotFound("member_not_found", "document does not exist")
)
