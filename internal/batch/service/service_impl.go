package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/apperr"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	batchdomain "github.com/smallbiznis/payflow/internal/batch/domain"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/internal/notification"
	"github.com/smallbiznis/payflow/internal/observability/logger"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/observability/tracing"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
	"github.com/smallbiznis/payflow/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    *config.WorkflowConfigHolder
	Repo      batchdomain.Repository
	Documents documentdomain.Repository
	Allocator sequencedomain.Allocator
	Audit     auditdomain.Trail
	Publisher notification.Publisher
	Metrics   *metrics.WorkflowMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       *config.WorkflowConfigHolder
	repo      batchdomain.Repository
	documents documentdomain.Repository
	allocator sequencedomain.Allocator
	audit     auditdomain.Trail
	publisher notification.Publisher
	metrics   *metrics.WorkflowMetrics
	tracer    trace.Tracer
}

func NewService(p Params) batchdomain.Service {
	log := p.Log.Named("batch.service")
	return &Service{
		db:        p.DB,
		log:       log,
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Config,
		repo:      p.Repo,
		documents: p.Documents,
		allocator: p.Allocator,
		audit:     p.Audit,
		publisher: notification.Guard(p.Publisher, log),
		metrics:   p.Metrics,
		tracer:    tracing.Tracer("payflow/batch"),
	}
}

// CreateBatch validates every member before anything is written. A single
// failing member rejects the whole request with a MemberErrors listing each
// failure.
func (s *Service) CreateBatch(ctx context.Context, req batchdomain.CreateBatchRequest) (batch *batchdomain.SignatureBatch, err error) {
	ctx, span := tracing.StartSpan(ctx, s.tracer, "batch.create",
		attribute.Int("members", len(req.Documents)),
		attribute.Int("actor_level", req.Creator.Level),
	)
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logger.ContextWithActor(ctx, req.Creator.ID, req.Creator.Level)

	if err := apperr.ValidateStruct(req.Creator); err != nil {
		return nil, err
	}
	if req.Creator.Level != s.cfg.Get().Batch.CreatorLevel {
		return nil, batchdomain.ErrNotBatchCreator
	}

	refs := dedupe(req.Documents)
	if len(refs) == 0 {
		return nil, batchdomain.ErrEmptyBatch
	}

	var invalid apperr.MemberErrors
	for _, ref := range refs {
		if !ref.Kind.Valid() {
			invalid = append(invalid, &apperr.MemberError{Member: ref.String(), Err: documentdomain.ErrInvalidKind})
		}
	}
	if err := invalid.ErrOrNil(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.allocator.WithBucket(ctx, sequencedomain.ScopeBatch, now, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var failures apperr.MemberErrors
			for _, ref := range refs {
				if err := s.checkMember(ctx, tx, ref); err != nil {
					if errors.Is(err, apperr.ErrPersistence) {
						return err
					}
					failures = append(failures, &apperr.MemberError{Member: ref.String(), Err: err})
				}
			}
			if err := failures.ErrOrNil(); err != nil {
				return err
			}

			number, err := s.allocator.Next(ctx, tx, sequencedomain.ScopeBatch, now)
			if err != nil {
				return err
			}

			created := &batchdomain.SignatureBatch{
				ID:             s.genID.Generate(),
				BatchNumber:    number,
				Status:         batchdomain.StatusPending,
				CreatedBy:      strings.TrimSpace(req.Creator.ID),
				CreatedByLevel: req.Creator.Level,
				Notes:          strings.TrimSpace(req.Notes),
				CreatedAt:      now,
				UpdatedAt:      now,
				Version:        1,
			}
			for _, ref := range refs {
				created.Members = append(created.Members, batchdomain.BatchMember{
					ID:           s.genID.Generate(),
					BatchID:      created.ID,
					DocumentKind: string(ref.Kind),
					DocumentID:   ref.ID,
					CreatedAt:    now,
				})
			}

			if err := s.repo.Insert(ctx, tx, created); err != nil {
				return apperr.Persistence("insert_batch", err)
			}

			if err := s.audit.RecordBatchDecision(ctx, tx, &auditdomain.AuditLog{
				ActorID:    created.CreatedBy,
				ActorLevel: created.CreatedByLevel,
				Action:     auditdomain.ActionBatchCreated,
				TargetType: auditdomain.TargetBatch,
				TargetID:   created.ID.String(),
				Metadata: map[string]any{
					"batch_number":   created.BatchNumber,
					"document_count": len(created.Members),
				},
			}); err != nil {
				return err
			}

			batch = created
			return nil
		})
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Info("batch creation refused",
			zap.Int("members", len(refs)),
			zap.String("code", apperr.Code(err)),
		)
		return nil, err
	}

	s.metrics.RecordBatchDecision(metrics.BatchDecisionCreated, len(batch.Members))
	logger.WithContext(ctx, s.log).Info("batch created",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_number", batch.BatchNumber),
		zap.Int("members", len(batch.Members)),
	)
	return batch, nil
}

func (s *Service) checkMember(ctx context.Context, tx *gorm.DB, ref documentdomain.Ref) error {
	header, err := s.documents.LoadHeader(ctx, tx, ref, true)
	if err != nil {
		return apperr.Persistence("load_document", err)
	}
	if header == nil {
		return batchdomain.ErrMemberNotFound
	}
	if header.Status != documentdomain.StatusApproved {
		return batchdomain.ErrMemberNotApproved
	}

	pending, err := s.repo.PendingMembership(ctx, tx, ref)
	if err != nil {
		return apperr.Persistence("load_membership", err)
	}
	if len(pending) > 0 {
		return batchdomain.ErrMemberInBatch
	}
	return nil
}

// SignBatch appends a SIGN entry to every member and marks the batch SIGNED
// in one transaction.
func (s *Service) SignBatch(ctx context.Context, req batchdomain.SignBatchRequest) (batch *batchdomain.SignatureBatch, err error) {
	ctx, span := tracing.StartSpan(ctx, s.tracer, "batch.sign", attribute.Int("actor_level", req.Signer.Level))
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logger.ContextWithActor(ctx, req.Signer.ID, req.Signer.Level)
	ctx = logger.ContextWithBatch(ctx, req.BatchID.String())

	if err := s.checkSigner(req.Signer); err != nil {
		return nil, err
	}

	type signedMember struct {
		ref    documentdomain.Ref
		header *documentdomain.Header
	}
	var members []signedMember
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadPending(ctx, tx, req.BatchID)
		if err != nil {
			return err
		}

		for _, member := range current.Members {
			header, err := s.documents.LoadHeader(ctx, tx, member.Ref(), true)
			if err != nil {
				return apperr.Persistence("load_document", err)
			}
			if header == nil {
				return &apperr.MemberError{Member: member.Ref().String(), Err: batchdomain.ErrMemberNotFound}
			}

			batchID := current.ID
			if err := s.audit.RecordTransition(ctx, tx, &auditdomain.ApprovalHistoryEntry{
				DocumentKind: member.DocumentKind,
				DocumentID:   member.DocumentID,
				ActorID:      strings.TrimSpace(req.Signer.ID),
				ActorLevel:   req.Signer.Level,
				Action:       auditdomain.ActionSign,
				Comment:      req.Comments,
				StatusBefore: string(header.Status),
				StatusAfter:  string(header.Status),
				BatchID:      &batchID,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			members = append(members, signedMember{ref: member.Ref(), header: header})
		}

		signer := strings.TrimSpace(req.Signer.ID)
		if err := s.decide(ctx, tx, current, map[string]any{
			"status":     batchdomain.StatusSigned,
			"signed_by":  signer,
			"signed_at":  now,
			"comments":   strings.TrimSpace(req.Comments),
			"updated_at": now,
		}); err != nil {
			return err
		}

		if err := s.audit.RecordBatchDecision(ctx, tx, &auditdomain.AuditLog{
			ActorID:    signer,
			ActorLevel: req.Signer.Level,
			Action:     auditdomain.ActionBatchSigned,
			TargetType: auditdomain.TargetBatch,
			TargetID:   current.ID.String(),
			Metadata: map[string]any{
				"batch_number":   current.BatchNumber,
				"document_count": len(current.Members),
			},
		}); err != nil {
			return err
		}

		batch = current
		return nil
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Info("batch signing refused", zap.String("code", apperr.Code(err)))
		return nil, err
	}

	s.metrics.RecordBatchDecision(metrics.BatchDecisionSigned, len(members))
	logger.WithContext(ctx, s.log).Info("batch signed",
		zap.String("batch_number", batch.BatchNumber),
	)

	for _, member := range members {
		s.publish(ctx, notification.Event{
			Kind:            notification.EventBatchSigned,
			DocumentKind:    string(member.ref.Kind),
			DocumentID:      member.ref.ID,
			DocumentNumber:  member.header.Number(),
			Status:          string(member.header.Status),
			RecipientLevel:  documentdomain.LevelCreator,
			RecipientUserID: member.header.CreatedBy,
			ActorID:         strings.TrimSpace(req.Signer.ID),
			ActorLevel:      req.Signer.Level,
			Comment:         strings.TrimSpace(req.Comments),
			BatchNumber:     batch.BatchNumber,
			OccurredAt:      now,
		})
	}

	return s.Get(ctx, batch.ID)
}

// RejectBatch rejects the envelope only. Member documents stay APPROVED and
// become eligible for a new batch.
func (s *Service) RejectBatch(ctx context.Context, req batchdomain.RejectBatchRequest) (batch *batchdomain.SignatureBatch, err error) {
	ctx, span := tracing.StartSpan(ctx, s.tracer, "batch.reject", attribute.Int("actor_level", req.Signer.Level))
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logger.ContextWithActor(ctx, req.Signer.ID, req.Signer.Level)
	ctx = logger.ContextWithBatch(ctx, req.BatchID.String())

	if err := s.checkSigner(req.Signer); err != nil {
		return nil, err
	}
	comments := strings.TrimSpace(req.Comments)
	if comments == "" {
		return nil, batchdomain.ErrCommentsRequired
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadPending(ctx, tx, req.BatchID)
		if err != nil {
			return err
		}

		signer := strings.TrimSpace(req.Signer.ID)
		if err := s.decide(ctx, tx, current, map[string]any{
			"status":     batchdomain.StatusRejected,
			"signed_by":  signer,
			"signed_at":  now,
			"comments":   comments,
			"updated_at": now,
		}); err != nil {
			return err
		}

		if err := s.audit.RecordBatchDecision(ctx, tx, &auditdomain.AuditLog{
			ActorID:    signer,
			ActorLevel: req.Signer.Level,
			Action:     auditdomain.ActionBatchRejected,
			TargetType: auditdomain.TargetBatch,
			TargetID:   current.ID.String(),
			Metadata: map[string]any{
				"batch_number":   current.BatchNumber,
				"document_count": len(current.Members),
			},
		}); err != nil {
			return err
		}

		batch = current
		return nil
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Info("batch rejection refused", zap.String("code", apperr.Code(err)))
		return nil, err
	}

	s.metrics.RecordBatchDecision(metrics.BatchDecisionRejected, len(batch.Members))
	logger.WithContext(ctx, s.log).Info("batch rejected",
		zap.String("batch_number", batch.BatchNumber),
	)

	for _, member := range batch.Members {
		s.publish(ctx, notification.Event{
			Kind:            notification.EventBatchRejected,
			DocumentKind:    member.DocumentKind,
			DocumentID:      member.DocumentID,
			Status:          string(batchdomain.StatusRejected),
			RecipientLevel:  batch.CreatedByLevel,
			RecipientUserID: batch.CreatedBy,
			ActorID:         strings.TrimSpace(req.Signer.ID),
			ActorLevel:      req.Signer.Level,
			Comment:         comments,
			BatchNumber:     batch.BatchNumber,
			OccurredAt:      now,
		})
	}

	return s.Get(ctx, batch.ID)
}

func (s *Service) checkSigner(signer documentdomain.Actor) error {
	if err := apperr.ValidateStruct(signer); err != nil {
		return err
	}
	if signer.Level != s.cfg.Get().Batch.SignerLevel {
		return batchdomain.ErrNotBatchSigner
	}
	return nil
}

func (s *Service) loadPending(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*batchdomain.SignatureBatch, error) {
	batch, err := s.repo.Load(ctx, tx, id, true)
	if err != nil {
		return nil, apperr.Persistence("load_batch", err)
	}
	if batch == nil {
		return nil, batchdomain.ErrBatchNotFound
	}
	if batch.Status != batchdomain.StatusPending {
		return nil, batchdomain.ErrBatchNotPending
	}
	return batch, nil
}

func (s *Service) decide(ctx context.Context, tx *gorm.DB, batch *batchdomain.SignatureBatch, changes map[string]any) error {
	ok, err := s.repo.UpdateStatus(ctx, tx, batch.ID, batch.Version, changes)
	if err != nil {
		return apperr.Persistence("update_batch", err)
	}
	if !ok {
		return batchdomain.ErrVersionConflict
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event notification.Event) {
	s.publisher.Publish(context.WithoutCancel(ctx), event)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*batchdomain.SignatureBatch, error) {
	batch, err := s.repo.Load(ctx, s.db, id, false)
	if err != nil {
		return nil, apperr.Persistence("load_batch", err)
	}
	if batch == nil {
		return nil, batchdomain.ErrBatchNotFound
	}
	return batch, nil
}

func (s *Service) List(ctx context.Context, req batchdomain.ListBatchRequest) (batchdomain.ListBatchResponse, error) {
	var cursor *batchdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return batchdomain.ListBatchResponse{}, batchdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return batchdomain.ListBatchResponse{}, batchdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return batchdomain.ListBatchResponse{}, batchdomain.ErrInvalidPageToken
		}
		cursor = &batchdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 20)

	items, err := s.repo.List(ctx, s.db, batchdomain.ListFilter{
		Status:    req.Status,
		CreatedBy: req.CreatedBy,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return batchdomain.ListBatchResponse{}, apperr.Persistence("list_batches", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *batchdomain.SignatureBatch) string {
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

	batches := make([]batchdomain.SignatureBatch, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		batches = append(batches, *item)
	}

	resp := batchdomain.ListBatchResponse{Batches: batches}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Summary(ctx context.Context, id snowflake.ID) (batchdomain.Summary, error) {
	batch, err := s.Get(ctx, id)
	if err != nil {
		return batchdomain.Summary{}, err
	}

	summary := batchdomain.Summary{
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		Status:      batch.Status,
		CountByKind: map[documentdomain.Kind]int{},
		TotalAmount: decimal.Zero,
	}
	for _, member := range batch.Members {
		header, err := s.documents.LoadHeader(ctx, s.db, member.Ref(), false)
		if err != nil {
			return batchdomain.Summary{}, apperr.Persistence("load_document", err)
		}
		if header == nil {
			continue
		}
		summary.DocumentCount++
		summary.CountByKind[member.Ref().Kind]++
		summary.TotalAmount = summary.TotalAmount.Add(header.TotalAmount)
	}
	return summary, nil
}

// ListEligible returns approved documents no pending batch holds. An empty
// kind lists both kinds.
func (s *Service) ListEligible(ctx context.Context, kind documentdomain.Kind) ([]documentdomain.Header, error) {
	kinds := []documentdomain.Kind{documentdomain.KindVoucher, documentdomain.KindForm}
	if kind != "" {
		if !kind.Valid() {
			return nil, documentdomain.ErrInvalidKind
		}
		kinds = []documentdomain.Kind{kind}
	}

	var out []documentdomain.Header
	for _, k := range kinds {
		headers, err := s.repo.ListEligible(ctx, s.db, k)
		if err != nil {
			return nil, apperr.Persistence("list_eligible", err)
		}
		out = append(out, headers...)
	}
	return out, nil
}

func dedupe(refs []documentdomain.Ref) []documentdomain.Ref {
	seen := make(map[documentdomain.Ref]struct{}, len(refs))
	out := make([]documentdomain.Ref, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
