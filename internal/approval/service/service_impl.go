package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/payflow/internal/apperr"
	approvaldomain "github.com/smallbiznis/payflow/internal/approval/domain"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	"github.com/smallbiznis/payflow/internal/clock"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/internal/notification"
	"github.com/smallbiznis/payflow/internal/observability/logger"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/observability/tracing"
	sequencedomain "github.com/smallbiznis/payflow/internal/sequence/domain"
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
	Clock     clock.Clock
	Documents documentdomain.Repository
	Allocator sequencedomain.Allocator
	Audit     auditdomain.Trail
	Publisher notification.Publisher
	Metrics   *metrics.WorkflowMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	documents documentdomain.Repository
	allocator sequencedomain.Allocator
	audit     auditdomain.Trail
	publisher notification.Publisher
	metrics   *metrics.WorkflowMetrics
	tracer    trace.Tracer
}

func NewService(p Params) approvaldomain.Service {
	log := p.Log.Named("approval.service")
	return &Service{
		db:        p.DB,
		log:       log,
		clock:     p.Clock,
		documents: p.Documents,
		allocator: p.Allocator,
		audit:     p.Audit,
		publisher: notification.Guard(p.Publisher, log),
		metrics:   p.Metrics,
		tracer:    tracing.Tracer("payflow/approval"),
	}
}

func (s *Service) Submit(ctx context.Context, req approvaldomain.SubmitRequest) (*approvaldomain.TransitionResult, error) {
	return s.transition(ctx, req.Ref, approvaldomain.Command{
		Action: auditdomain.ActionSubmit,
		Actor:  req.Actor,
	})
}

func (s *Service) Approve(ctx context.Context, req approvaldomain.ApproveRequest) (*approvaldomain.TransitionResult, error) {
	return s.transition(ctx, req.Ref, approvaldomain.Command{
		Action:         auditdomain.ActionApprove,
		Actor:          req.Actor,
		Comment:        req.Comment,
		RequiresLevel5: req.RequiresLevel5,
	})
}

func (s *Service) Reject(ctx context.Context, req approvaldomain.RejectRequest) (*approvaldomain.TransitionResult, error) {
	return s.transition(ctx, req.Ref, approvaldomain.Command{
		Action:  auditdomain.ActionReject,
		Actor:   req.Actor,
		Comment: req.Reason,
	})
}

func (s *Service) ReturnForRevision(ctx context.Context, req approvaldomain.ReturnRequest) (*approvaldomain.TransitionResult, error) {
	return s.transition(ctx, req.Ref, approvaldomain.Command{
		Action:  auditdomain.ActionReturn,
		Actor:   req.Actor,
		Comment: req.Comment,
	})
}

func (s *Service) AvailableActions(ctx context.Context, ref documentdomain.Ref, actor documentdomain.Actor) ([]auditdomain.Action, error) {
	if !ref.Kind.Valid() {
		return nil, documentdomain.ErrInvalidKind
	}
	if err := apperr.ValidateStruct(actor); err != nil {
		return nil, err
	}

	header, err := s.documents.LoadHeader(ctx, s.db, ref, false)
	if err != nil {
		return nil, apperr.Persistence("load_document", err)
	}
	if header == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}
	return approvaldomain.AvailableActions(approvaldomain.StateOf(header), actor), nil
}

// transition runs one command as a single unit of work. The first submit of
// an unnumbered document holds the numbering bucket of its payment date for
// the whole transaction.
func (s *Service) transition(ctx context.Context, ref documentdomain.Ref, cmd approvaldomain.Command) (result *approvaldomain.TransitionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, s.tracer, "approval."+strings.ToLower(string(cmd.Action)),
		attribute.String("document_kind", string(ref.Kind)),
		attribute.String("action", string(cmd.Action)),
		attribute.Int("actor_level", cmd.Actor.Level),
	)
	defer func() {
		if err != nil {
			s.metrics.RecordRejectedCommand(string(cmd.Action), err)
		}
		tracing.EndSpan(span, err)
	}()

	ctx = logger.ContextWithActor(ctx, cmd.Actor.ID, cmd.Actor.Level)
	ctx = logger.ContextWithDocument(ctx, ref.String())
	log := logger.WithContext(ctx, s.log).With(zap.String("action", string(cmd.Action)))

	if !ref.Kind.Valid() {
		return nil, documentdomain.ErrInvalidKind
	}
	if err := apperr.ValidateStruct(cmd.Actor); err != nil {
		return nil, err
	}

	preload, err := s.documents.LoadHeader(ctx, s.db, ref, false)
	if err != nil {
		return nil, apperr.Persistence("load_document", err)
	}
	if preload == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}

	numbering := cmd.Action == auditdomain.ActionSubmit && preload.DocumentNumber == nil

	var event *notification.Event
	run := func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, ev, err := s.apply(ctx, tx, ref, cmd, preload, numbering)
			if err != nil {
				return err
			}
			result, event = res, ev
			return nil
		})
	}

	if numbering {
		err = s.allocator.WithBucket(ctx, ref.Kind.Scope(), preload.PaymentDate, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		log.Info("transition refused", zap.String("code", apperr.Code(err)))
		return nil, err
	}

	s.metrics.RecordTransition(string(ref.Kind), string(cmd.Action), string(result.From), string(result.To))
	log.Info("document transitioned",
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
		zap.String("document_number", result.DocumentNumber),
	)

	if event != nil {
		s.publisher.Publish(context.WithoutCancel(ctx), *event)
	}
	return result, nil
}

func (s *Service) apply(
	ctx context.Context,
	tx *gorm.DB,
	ref documentdomain.Ref,
	cmd approvaldomain.Command,
	preload *documentdomain.Header,
	bucketHeld bool,
) (*approvaldomain.TransitionResult, *notification.Event, error) {
	header, err := s.documents.LoadHeader(ctx, tx, ref, true)
	if err != nil {
		return nil, nil, apperr.Persistence("load_document", err)
	}
	if header == nil {
		return nil, nil, documentdomain.ErrDocumentNotFound
	}

	outcome, err := approvaldomain.Evaluate(approvaldomain.StateOf(header), cmd)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	changes := map[string]any{
		"status":          outcome.To,
		"current_level":   outcome.Level,
		"requires_level5": nullableBool(outcome.RequiresLevel5),
		"updated_at":      now,
	}

	number := header.Number()
	if outcome.AllocateNumber {
		if !bucketHeld || !sameBucket(ref.Kind.Scope(), preload, header) {
			return nil, nil, approvaldomain.ErrNumberConflict
		}
		number, err = s.allocator.Next(ctx, tx, ref.Kind.Scope(), header.PaymentDate)
		if err != nil {
			return nil, nil, err
		}
		changes["document_number"] = number
	}

	ok, err := s.documents.UpdateHeader(ctx, tx, ref, header.Version, changes)
	if err != nil {
		return nil, nil, apperr.Persistence("update_document", err)
	}
	if !ok {
		return nil, nil, documentdomain.ErrVersionConflict
	}

	if err := s.audit.RecordTransition(ctx, tx, &auditdomain.ApprovalHistoryEntry{
		DocumentKind: string(ref.Kind),
		DocumentID:   ref.ID,
		ActorID:      strings.TrimSpace(cmd.Actor.ID),
		ActorLevel:   cmd.Actor.Level,
		Action:       cmd.Action,
		Comment:      cmd.Comment,
		StatusBefore: string(outcome.From),
		StatusAfter:  string(outcome.To),
		CreatedAt:    now,
	}); err != nil {
		return nil, nil, err
	}

	result := &approvaldomain.TransitionResult{
		Ref:            ref,
		DocumentNumber: number,
		From:           outcome.From,
		To:             outcome.To,
		CurrentLevel:   outcome.Level,
		RequiresLevel5: outcome.RequiresLevel5,
		Version:        header.Version + 1,
	}

	event := &notification.Event{
		Kind:           outcome.Notify.Event,
		DocumentKind:   string(ref.Kind),
		DocumentID:     ref.ID,
		DocumentNumber: number,
		Status:         string(outcome.To),
		RecipientLevel: outcome.Notify.Level,
		ActorID:        strings.TrimSpace(cmd.Actor.ID),
		ActorLevel:     cmd.Actor.Level,
		Comment:        strings.TrimSpace(cmd.Comment),
		OccurredAt:     now,
	}
	if outcome.Notify.ToCreator {
		event.RecipientUserID = header.CreatedBy
	}

	return result, event, nil
}

func sameBucket(scope sequencedomain.Scope, a, b *documentdomain.Header) bool {
	left, err := scope.Bucket(a.PaymentDate)
	if err != nil {
		return false
	}
	right, err := scope.Bucket(b.PaymentDate)
	if err != nil {
		return false
	}
	return left == right
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
