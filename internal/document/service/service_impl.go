package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/apperr"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	"github.com/smallbiznis/payflow/internal/audit/masking"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
	"github.com/smallbiznis/payflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    *config.WorkflowConfigHolder
	Repo      documentdomain.Repository
	Allocator sequencedomain.Allocator
	Audit     auditdomain.Trail
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       *config.WorkflowConfigHolder
	repo      documentdomain.Repository
	allocator sequencedomain.Allocator
	audit     auditdomain.Trail
}

func NewService(p ServiceParam) documentdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("document.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Config,
		repo:      p.Repo,
		allocator: p.Allocator,
		audit:     p.Audit,
	}
}

func (s *Service) CreateVoucher(ctx context.Context, req documentdomain.CreateVoucherRequest) (*documentdomain.Voucher, error) {
	if err := apperr.ValidateStruct(req); err != nil {
		return nil, err
	}

	voucher := &documentdomain.Voucher{
		PayeeName:   strings.TrimSpace(req.PayeeName),
		BankName:    strings.TrimSpace(req.BankName),
		BankAccount: strings.TrimSpace(req.BankAccount),
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.create(ctx, voucher, req.Actor, req.PaymentDate, req.TotalAmount); err != nil {
		return nil, err
	}
	return voucher, nil
}

func (s *Service) CreateForm(ctx context.Context, req documentdomain.CreateFormRequest) (*documentdomain.Form, error) {
	if err := apperr.ValidateStruct(req); err != nil {
		return nil, err
	}

	form := &documentdomain.Form{
		PayeeName:   strings.TrimSpace(req.PayeeName),
		Department:  strings.TrimSpace(req.Department),
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.create(ctx, form, req.Actor, req.PaymentDate, req.TotalAmount); err != nil {
		return nil, err
	}
	return form, nil
}

func (s *Service) create(ctx context.Context, doc documentdomain.Document, actor documentdomain.Actor, paymentDate time.Time, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return documentdomain.ErrInvalidAmount
	}

	assignOnCreate := s.cfg.Get().Numbering.AssignOnCreate
	now := s.clock.Now()
	header := doc.Base()
	*header = documentdomain.Header{
		ID:           s.genID.Generate(),
		PaymentDate:  truncateDate(paymentDate),
		Status:       documentdomain.StatusDraft,
		CurrentLevel: documentdomain.LevelCreator,
		TotalAmount:  amount.Round(2),
		CreatedBy:    strings.TrimSpace(actor.ID),
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}

	insert := func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if assignOnCreate {
				number, err := s.allocator.Next(ctx, tx, doc.Kind().Scope(), header.PaymentDate)
				if err != nil {
					return err
				}
				header.DocumentNumber = &number
			}

			if err := s.repo.Insert(ctx, tx, doc); err != nil {
				return apperr.Persistence("insert_document", err)
			}

			return s.audit.AuditLog(ctx, tx, actor,
				auditdomain.ActionDocumentCreated,
				auditdomain.TargetDocument,
				documentdomain.RefOf(doc).String(),
				map[string]any{
					"document_number": header.Number(),
					"payment_date":    header.PaymentDate.Format(time.DateOnly),
					"total_amount":    header.TotalAmount.StringFixed(2),
				},
			)
		})
	}

	var err error
	if assignOnCreate {
		err = s.allocator.WithBucket(ctx, doc.Kind().Scope(), header.PaymentDate, insert)
	} else {
		err = insert(ctx)
	}
	if err != nil {
		header.DocumentNumber = nil
		return err
	}

	s.log.Info("document created",
		zap.String("document", documentdomain.RefOf(doc).String()),
		zap.String("document_number", header.Number()),
		zap.String("created_by", header.CreatedBy),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, ref documentdomain.Ref) (documentdomain.Document, error) {
	if !ref.Kind.Valid() {
		return nil, documentdomain.ErrInvalidKind
	}
	doc, err := s.repo.Load(ctx, s.db, ref)
	if err != nil {
		return nil, apperr.Persistence("load_document", err)
	}
	if doc == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *Service) UpdateContent(ctx context.Context, req documentdomain.UpdateContentRequest) (documentdomain.Document, error) {
	if !req.Ref.Kind.Valid() {
		return nil, documentdomain.ErrInvalidKind
	}
	if err := apperr.ValidateStruct(req.Actor); err != nil {
		return nil, err
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		return nil, documentdomain.ErrInvalidAmount
	}
	if req.PayeeName != nil && strings.TrimSpace(*req.PayeeName) == "" {
		return nil, apperr.Validation("invalid_payee_name", "payee name must not be blank")
	}

	var updated documentdomain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header, err := s.repo.LoadHeader(ctx, tx, req.Ref, true)
		if err != nil {
			return apperr.Persistence("load_document", err)
		}
		if header == nil {
			return documentdomain.ErrDocumentNotFound
		}
		if header.CreatedBy != strings.TrimSpace(req.Actor.ID) {
			return documentdomain.ErrNotCreator
		}
		if !header.Status.IsEditable() {
			return documentdomain.ErrContentLocked
		}

		current, err := s.repo.Load(ctx, tx, req.Ref)
		if err != nil {
			return apperr.Persistence("load_document", err)
		}
		if current == nil {
			return documentdomain.ErrDocumentNotFound
		}

		changes, diff, err := contentChanges(current, req)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			updated = current
			return nil
		}
		changes["updated_at"] = s.clock.Now()

		ok, err := s.repo.UpdateHeader(ctx, tx, req.Ref, header.Version, changes)
		if err != nil {
			return apperr.Persistence("update_document", err)
		}
		if !ok {
			return documentdomain.ErrVersionConflict
		}

		if err := s.audit.AuditLog(ctx, tx, req.Actor,
			auditdomain.ActionDocumentUpdated,
			auditdomain.TargetDocument,
			req.Ref.String(),
			map[string]any{"changes": maskDiff(diff)},
		); err != nil {
			return err
		}

		updated, err = s.repo.Load(ctx, tx, req.Ref)
		if err != nil {
			return apperr.Persistence("load_document", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// contentChanges builds the column updates of req against current. A
// numbered document keeps its payment date within the same bucket, since
// its number is never regenerated.
func contentChanges(current documentdomain.Document, req documentdomain.UpdateContentRequest) (map[string]any, map[string]any, error) {
	changes := map[string]any{}
	diff := map[string]any{}
	header := current.Base()

	if req.PaymentDate != nil {
		next := truncateDate(*req.PaymentDate)
		if !next.Equal(header.PaymentDate) {
			if header.DocumentNumber != nil {
				scope := current.Kind().Scope()
				from, err := scope.Bucket(header.PaymentDate)
				if err != nil {
					return nil, nil, apperr.Validation("invalid_payment_date", err.Error())
				}
				to, err := scope.Bucket(next)
				if err != nil {
					return nil, nil, apperr.Validation("invalid_payment_date", err.Error())
				}
				if from != to {
					return nil, nil, documentdomain.ErrPaymentDateLocked
				}
			}
			changes["payment_date"] = next
			diff["payment_date"] = map[string]any{
				"from": header.PaymentDate.Format(time.DateOnly),
				"to":   next.Format(time.DateOnly),
			}
		}
	}
	if req.TotalAmount != nil {
		next := req.TotalAmount.Round(2)
		if !next.Equal(header.TotalAmount) {
			changes["total_amount"] = next
			diff["total_amount"] = map[string]any{
				"from": header.TotalAmount.StringFixed(2),
				"to":   next.StringFixed(2),
			}
		}
	}

	setText := func(column string, value *string, currentValue string) {
		if value == nil {
			return
		}
		next := strings.TrimSpace(*value)
		if next == currentValue {
			return
		}
		changes[column] = next
		diff[column] = map[string]any{"from": currentValue, "to": next}
	}

	switch doc := current.(type) {
	case *documentdomain.Voucher:
		setText("payee_name", req.PayeeName, doc.PayeeName)
		setText("bank_name", req.BankName, doc.BankName)
		setText("bank_account", req.BankAccount, doc.BankAccount)
		setText("description", req.Description, doc.Description)
		if req.Department != nil {
			return nil, nil, apperr.Validation("invalid_field", "vouchers have no department")
		}
	case *documentdomain.Form:
		setText("payee_name", req.PayeeName, doc.PayeeName)
		setText("department", req.Department, doc.Department)
		setText("description", req.Description, doc.Description)
		if req.BankName != nil || req.BankAccount != nil {
			return nil, nil, apperr.Validation("invalid_field", "forms carry no bank details")
		}
	}

	return changes, diff, nil
}

func (s *Service) List(ctx context.Context, req documentdomain.ListDocumentRequest) (documentdomain.ListDocumentResponse, error) {
	if !req.Kind.Valid() {
		return documentdomain.ListDocumentResponse{}, documentdomain.ErrInvalidKind
	}

	var cursor *documentdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return documentdomain.ListDocumentResponse{}, documentdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return documentdomain.ListDocumentResponse{}, documentdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return documentdomain.ListDocumentResponse{}, documentdomain.ErrInvalidPageToken
		}
		cursor = &documentdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	from, to, err := paymentDateRange(req.PaymentDateFrom, req.PaymentDateTo)
	if err != nil {
		return documentdomain.ListDocumentResponse{}, err
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 20)

	items, err := s.repo.List(ctx, s.db, documentdomain.ListFilter{
		Kind:            req.Kind,
		Status:          req.Status,
		CreatedBy:       req.CreatedBy,
		PaymentDateFrom: from,
		PaymentDateTo:   to,
		Cursor:          cursor,
		Limit:           pageSize,
	})
	if err != nil {
		return documentdomain.ListDocumentResponse{}, apperr.Persistence("list_documents", err)
	}

	headers := make([]*documentdomain.Header, 0, len(items))
	for _, item := range items {
		headers = append(headers, item.Base())
	}
	pageInfo := pagination.BuildCursorPageInfo(headers, int32(pageSize), func(item *documentdomain.Header) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	resp := documentdomain.ListDocumentResponse{Documents: items}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// maskDiff redacts bank account values before they reach the audit log.
func maskDiff(diff map[string]any) map[string]any {
	out := make(map[string]any, len(diff))
	for key, value := range diff {
		if nested, ok := value.(map[string]any); ok && key == "bank_account" {
			value = masking.MaskFields(nested, "from", "to")
		}
		out[key] = value
	}
	return out
}

// Summarize counts and totals the documents of a payment date range, by kind
// and by status.
func (s *Service) Summarize(ctx context.Context, req documentdomain.SummaryRequest) (documentdomain.Summary, error) {
	kinds := []documentdomain.Kind{documentdomain.KindVoucher, documentdomain.KindForm}
	if req.Kind != "" {
		if !req.Kind.Valid() {
			return documentdomain.Summary{}, documentdomain.ErrInvalidKind
		}
		kinds = []documentdomain.Kind{req.Kind}
	}
	from, to, err := paymentDateRange(req.PaymentDateFrom, req.PaymentDateTo)
	if err != nil {
		return documentdomain.Summary{}, err
	}

	summary := documentdomain.Summary{
		ByKind:      map[documentdomain.Kind]int{},
		ByStatus:    map[documentdomain.Status]int{},
		TotalAmount: decimal.Zero,
	}
	for _, kind := range kinds {
		headers, err := s.repo.Headers(ctx, s.db, documentdomain.ListFilter{
			Kind:            kind,
			Status:          req.Status,
			CreatedBy:       req.CreatedBy,
			PaymentDateFrom: from,
			PaymentDateTo:   to,
		})
		if err != nil {
			return documentdomain.Summary{}, apperr.Persistence("summarize_documents", err)
		}
		for _, h := range headers {
			summary.Documents++
			summary.ByKind[kind]++
			summary.ByStatus[h.Status]++
			summary.TotalAmount = summary.TotalAmount.Add(h.TotalAmount)
		}
	}
	return summary, nil
}

func (s *Service) AddComment(ctx context.Context, req documentdomain.AddCommentRequest) (*documentdomain.Comment, error) {
	if !req.Ref.Kind.Valid() {
		return nil, documentdomain.ErrInvalidKind
	}
	if err := apperr.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Internal && req.Actor.Level < documentdomain.LevelSupervisor {
		return nil, documentdomain.ErrInternalNote
	}

	header, err := s.repo.LoadHeader(ctx, s.db, req.Ref, false)
	if err != nil {
		return nil, apperr.Persistence("load_document", err)
	}
	if header == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}

	comment := &documentdomain.Comment{
		ID:           s.genID.Generate(),
		DocumentKind: string(req.Ref.Kind),
		DocumentID:   req.Ref.ID,
		AuthorID:     strings.TrimSpace(req.Actor.ID),
		AuthorLevel:  req.Actor.Level,
		Body:         strings.TrimSpace(req.Body),
		Internal:     req.Internal,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.repo.InsertComment(ctx, s.db, comment); err != nil {
		return nil, apperr.Persistence("insert_comment", err)
	}
	return comment, nil
}

func (s *Service) Comments(ctx context.Context, ref documentdomain.Ref, viewer documentdomain.Actor) ([]documentdomain.Comment, error) {
	if !ref.Kind.Valid() {
		return nil, documentdomain.ErrInvalidKind
	}
	if err := apperr.ValidateStruct(viewer); err != nil {
		return nil, err
	}

	header, err := s.repo.LoadHeader(ctx, s.db, ref, false)
	if err != nil {
		return nil, apperr.Persistence("load_document", err)
	}
	if header == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}

	comments, err := s.repo.ListComments(ctx, s.db, ref, viewer.Level >= documentdomain.LevelSupervisor)
	if err != nil {
		return nil, apperr.Persistence("list_comments", err)
	}
	return comments, nil
}

// paymentDateRange truncates both bounds to dates and rejects an inverted
// range.
func paymentDateRange(from, to *time.Time) (*time.Time, *time.Time, error) {
	var lo, hi *time.Time
	if from != nil {
		d := truncateDate(*from)
		lo = &d
	}
	if to != nil {
		d := truncateDate(*to)
		hi = &d
	}
	if lo != nil && hi != nil && hi.Before(*lo) {
		return nil, nil, documentdomain.ErrInvalidDateRange
	}
	return lo, hi, nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
