package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/apperr"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	"github.com/smallbiznis/payflow/internal/clock"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Trail {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) RecordTransition(ctx context.Context, tx *gorm.DB, entry *auditdomain.ApprovalHistoryEntry) error {
	if entry == nil || !entry.Action.Valid() || entry.DocumentID == 0 || strings.TrimSpace(entry.ActorID) == "" {
		return auditdomain.ErrInvalidEntry
	}
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	entry.Comment = strings.TrimSpace(entry.Comment)

	if err := s.repo.InsertEntry(ctx, s.conn(tx), entry); err != nil {
		s.log.Warn("failed to append history entry",
			zap.String("action", string(entry.Action)),
			zap.String("document", entry.DocumentKind+":"+entry.DocumentID.String()),
			zap.Error(err),
		)
		return apperr.Persistence("append_history", err)
	}
	return nil
}

func (s *Service) RecordBatchDecision(ctx context.Context, tx *gorm.DB, entry *auditdomain.AuditLog) error {
	if entry == nil || strings.TrimSpace(entry.Action) == "" {
		return auditdomain.ErrInvalidAction
	}
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	if entry.TargetType == "" {
		entry.TargetType = auditdomain.TargetBatch
	}

	if err := s.repo.Insert(ctx, s.conn(tx), entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		return apperr.Persistence("write_audit_log", err)
	}
	return nil
}

func (s *Service) AuditLog(ctx context.Context, tx *gorm.DB, actor documentdomain.Actor, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorID:    strings.TrimSpace(actor.ID),
		ActorLevel: actor.Level,
		Action:     action,
		TargetType: targetType,
		TargetID:   strings.TrimSpace(targetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.conn(tx), &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return apperr.Persistence("write_audit_log", err)
	}
	return nil
}

func (s *Service) History(ctx context.Context, ref documentdomain.Ref) ([]auditdomain.ApprovalHistoryEntry, error) {
	entries, err := s.repo.ListEntries(ctx, s.db, ref)
	if err != nil {
		return nil, apperr.Persistence("read_history", err)
	}
	return entries, nil
}

// CurrentChain returns the entries of the running approval chain: the latest
// SUBMIT and everything after it. Approvals made before a return for
// revision stay in History but no longer count.
func (s *Service) CurrentChain(ctx context.Context, ref documentdomain.Ref) ([]auditdomain.ApprovalHistoryEntry, error) {
	entries, err := s.History(ctx, ref)
	if err != nil {
		return nil, err
	}
	return CurrentChain(entries), nil
}

// CurrentChain cuts entries, ordered oldest first, at the latest SUBMIT.
func CurrentChain(entries []auditdomain.ApprovalHistoryEntry) []auditdomain.ApprovalHistoryEntry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == auditdomain.ActionSubmit {
			return entries[i:]
		}
	}
	return nil
}

func (s *Service) BatchHistory(ctx context.Context, batchID snowflake.ID) ([]auditdomain.ApprovalHistoryEntry, error) {
	entries, err := s.repo.ListEntriesByBatch(ctx, s.db, batchID)
	if err != nil {
		return nil, apperr.Persistence("read_history", err)
	}
	return entries, nil
}

func (s *Service) BatchLog(ctx context.Context, batchID snowflake.ID) ([]auditdomain.AuditLog, error) {
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TargetType: auditdomain.TargetBatch,
		TargetID:   batchID.String(),
	})
	if err != nil {
		return nil, apperr.Persistence("read_audit_log", err)
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if items[i] == nil {
			continue
		}
		logs = append(logs, *items[i])
	}
	return logs, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{
			ID:        id,
			CreatedAt: createdAt,
		}
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 50)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, apperr.Persistence("read_audit_log", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.AuditLog) string {
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

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: logs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
