package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateVoucherRequest struct {
	Actor       Actor
	PaymentDate time.Time `validate:"required"`
	TotalAmount decimal.Decimal
	PayeeName   string `validate:"notblank,max=255"`
	BankName    string `validate:"max=128"`
	BankAccount string `validate:"max=64"`
	Description string
}

type CreateFormRequest struct {
	Actor       Actor
	PaymentDate time.Time `validate:"required"`
	TotalAmount decimal.Decimal
	PayeeName   string `validate:"notblank,max=255"`
	Department  string `validate:"max=128"`
	Description string
}

// UpdateContentRequest changes the fields that are set; nil fields are kept.
type UpdateContentRequest struct {
	Ref         Ref
	Actor       Actor
	PaymentDate *time.Time
	TotalAmount *decimal.Decimal
	PayeeName   *string
	BankName    *string
	BankAccount *string
	Department  *string
	Description *string
}

// ListDocumentRequest filters one kind. The payment date range is inclusive
// and either bound may be nil.
type ListDocumentRequest struct {
	pagination.Pagination
	Kind            Kind
	Status          Status
	CreatedBy       string
	PaymentDateFrom *time.Time
	PaymentDateTo   *time.Time
}

// SummaryRequest selects the documents to aggregate. An empty Kind covers
// both vouchers and forms.
type SummaryRequest struct {
	Kind            Kind
	Status          Status
	CreatedBy       string
	PaymentDateFrom *time.Time
	PaymentDateTo   *time.Time
}

type AddCommentRequest struct {
	Ref      Ref
	Actor    Actor
	Body     string `validate:"notblank,max=4000"`
	Internal bool
}

type ListDocumentResponse struct {
	pagination.PageInfo
	Documents []Document `json:"documents"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Kind            Kind
	Status          Status
	CreatedBy       string
	PaymentDateFrom *time.Time
	PaymentDateTo   *time.Time
	Cursor          *Cursor
	Limit           int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, doc Document) error
	Load(ctx context.Context, db *gorm.DB, ref Ref) (Document, error)
	LoadHeader(ctx context.Context, db *gorm.DB, ref Ref, forUpdate bool) (*Header, error)
	// UpdateHeader applies changes only when the stored version equals
	// version, bumping it. It reports false when the row moved.
	UpdateHeader(ctx context.Context, db *gorm.DB, ref Ref, version int64, changes map[string]any) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Document, error)
	// Headers returns the shared fields of every document matching filter,
	// ignoring Cursor and Limit.
	Headers(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Header, error)
	InsertComment(ctx context.Context, db *gorm.DB, comment *Comment) error
	ListComments(ctx context.Context, db *gorm.DB, ref Ref, includeInternal bool) ([]Comment, error)
}

type Service interface {
	CreateVoucher(ctx context.Context, req CreateVoucherRequest) (*Voucher, error)
	CreateForm(ctx context.Context, req CreateFormRequest) (*Form, error)
	Get(ctx context.Context, ref Ref) (Document, error)
	UpdateContent(ctx context.Context, req UpdateContentRequest) (Document, error)
	List(ctx context.Context, req ListDocumentRequest) (ListDocumentResponse, error)
	Summarize(ctx context.Context, req SummaryRequest) (Summary, error)
	AddComment(ctx context.Context, req AddCommentRequest) (*Comment, error)
	// Comments lists the notes on a document in the order they were added.
	// Internal notes are left out for creators.
	Comments(ctx context.Context, ref Ref, viewer Actor) ([]Comment, error)
}
