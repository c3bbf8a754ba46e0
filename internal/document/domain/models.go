package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
)

// Kind is the document variant.
type Kind string

const (
	KindVoucher Kind = "VOUCHER"
	KindForm    Kind = "FORM"
)

func (k Kind) Valid() bool {
	return k == KindVoucher || k == KindForm
}

// Table is the table holding documents of this kind.
func (k Kind) Table() string {
	switch k {
	case KindVoucher:
		return "vouchers"
	case KindForm:
		return "forms"
	default:
		return ""
	}
}

// Scope is the numbering series of this kind.
func (k Kind) Scope() sequencedomain.Scope {
	switch k {
	case KindVoucher:
		return sequencedomain.ScopeVoucher
	case KindForm:
		return sequencedomain.ScopeForm
	default:
		return ""
	}
}

// ParseKind accepts a kind name in any case.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown document kind %q", raw)
	}
	return kind, nil
}

// Status is the approval state of a document.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPendingL2  Status = "PENDING_L2"
	StatusPendingL3  Status = "PENDING_L3"
	StatusPendingL4  Status = "PENDING_L4"
	StatusPendingL5  Status = "PENDING_L5"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusOnRevision Status = "ON_REVISION"
)

// Statuses lists every status in chain order.
var Statuses = []Status{
	StatusDraft,
	StatusPendingL2,
	StatusPendingL3,
	StatusPendingL4,
	StatusPendingL5,
	StatusApproved,
	StatusRejected,
	StatusOnRevision,
}

// PendingStatus returns the status awaiting level, if level approves.
func PendingStatus(level int) (Status, bool) {
	switch level {
	case LevelSupervisor:
		return StatusPendingL2, true
	case LevelFinanceManager:
		return StatusPendingL3, true
	case LevelGeneralManager:
		return StatusPendingL4, true
	case LevelManagingDirector:
		return StatusPendingL5, true
	default:
		return "", false
	}
}

// PendingLevel returns the level a PENDING_* status awaits.
func (s Status) PendingLevel() (int, bool) {
	switch s {
	case StatusPendingL2:
		return LevelSupervisor, true
	case StatusPendingL3:
		return LevelFinanceManager, true
	case StatusPendingL4:
		return LevelGeneralManager, true
	case StatusPendingL5:
		return LevelManagingDirector, true
	default:
		return 0, false
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// IsEditable reports whether content may change in this status.
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusOnRevision
}

// Approval levels.
const (
	LevelCreator          = 1 // financial officer
	LevelSupervisor       = 2
	LevelFinanceManager   = 3
	LevelGeneralManager   = 4
	LevelManagingDirector = 5
)

// Actor is the caller identity supplied with every command.
type Actor struct {
	ID    string `validate:"notblank"`
	Level int    `validate:"gte=1,lte=5"`
}

// Ref addresses one document.
type Ref struct {
	Kind Kind
	ID   snowflake.ID
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// Header carries the fields every document variant shares and the state
// the approval workflow drives.
type Header struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	DocumentNumber *string         `gorm:"type:varchar(32);uniqueIndex"`
	PaymentDate    time.Time       `gorm:"type:date;not null"`
	Status         Status          `gorm:"type:varchar(16);not null;index"`
	CurrentLevel   int             `gorm:"not null"`
	RequiresLevel5 *bool           `gorm:"column:requires_level5"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreatedBy      string          `gorm:"type:varchar(64);not null;index"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
	Version        int64           `gorm:"not null;default:1"`
}

// Number returns the document number or "" while unassigned.
func (h Header) Number() string {
	if h.DocumentNumber == nil {
		return ""
	}
	return *h.DocumentNumber
}

// Document is implemented by every variant the workflow can drive.
type Document interface {
	Kind() Kind
	Base() *Header
}

// Voucher is a payment voucher.
type Voucher struct {
	Header
	PayeeName   string `gorm:"type:varchar(255);not null"`
	BankName    string `gorm:"type:varchar(128)"`
	BankAccount string `gorm:"type:varchar(64)"`
	Description string `gorm:"type:text"`
}

func (Voucher) TableName() string { return "vouchers" }

func (v *Voucher) Kind() Kind    { return KindVoucher }
func (v *Voucher) Base() *Header { return &v.Header }

// Form is a payment request form.
type Form struct {
	Header
	PayeeName   string `gorm:"type:varchar(255);not null"`
	Department  string `gorm:"type:varchar(128)"`
	Description string `gorm:"type:text"`
}

func (Form) TableName() string { return "forms" }

func (f *Form) Kind() Kind    { return KindForm }
func (f *Form) Base() *Header { return &f.Header }

// New returns an empty document of kind.
func New(kind Kind) (Document, error) {
	switch kind {
	case KindVoucher:
		return &Voucher{}, nil
	case KindForm:
		return &Form{}, nil
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
}

// RefOf returns the reference of doc.
func RefOf(doc Document) Ref {
	return Ref{Kind: doc.Kind(), ID: doc.Base().ID}
}

// Comment is a note on a document. Comments are append-only. Internal notes
// are visible to approvers only.
type Comment struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	DocumentKind string       `gorm:"type:varchar(16);not null;index:idx_document_comments_document,priority:1"`
	DocumentID   snowflake.ID `gorm:"not null;index:idx_document_comments_document,priority:2"`
	AuthorID     string       `gorm:"type:varchar(64);not null"`
	AuthorLevel  int          `gorm:"not null"`
	Body         string       `gorm:"type:text;not null"`
	Internal     bool         `gorm:"not null;default:false"`
	CreatedAt    time.Time    `gorm:"not null"`
}

func (Comment) TableName() string { return "document_comments" }

// Summary aggregates the documents matching a report filter.
type Summary struct {
	Documents   int
	ByKind      map[Kind]int
	ByStatus    map[Status]int
	TotalAmount decimal.Decimal
}
