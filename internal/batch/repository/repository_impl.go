package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/batch/domain"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, batch *domain.SignatureBatch) error {
	if batch == nil {
		return nil
	}
	if err := conn.WithContext(ctx).Omit(clause.Associations).Create(batch).Error; err != nil {
		return err
	}
	if len(batch.Members) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Create(&batch.Members).Error
}

func (r *repo) Load(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.SignatureBatch, error) {
	stmt := conn.WithContext(ctx)
	if forUpdate {
		stmt = db.ForUpdate(stmt)
	}

	var batch domain.SignatureBatch
	err := stmt.Where("id = ?", id).Take(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := conn.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("created_at asc, id asc").
		Find(&batch.Members).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, version int64, changes map[string]any) (bool, error) {
	values := make(map[string]any, len(changes)+1)
	for key, value := range changes {
		values[key] = value
	}
	values["version"] = version + 1

	res := conn.WithContext(ctx).
		Model(&domain.SignatureBatch{}).
		Where("id = ? AND version = ?", id, version).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) PendingMembership(ctx context.Context, conn *gorm.DB, ref documentdomain.Ref) ([]snowflake.ID, error) {
	var raw []int64
	err := conn.WithContext(ctx).
		Table("batch_members AS bm").
		Select("bm.batch_id").
		Joins("JOIN signature_batches AS sb ON sb.id = bm.batch_id").
		Where("bm.document_kind = ? AND bm.document_id = ? AND sb.status = ?", string(ref.Kind), ref.ID, domain.StatusPending).
		Scan(&raw).Error
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, snowflake.ID(id))
	}
	return ids, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.SignatureBatch, error) {
	var batches []*domain.SignatureBatch
	stmt := conn.WithContext(ctx).Model(&domain.SignatureBatch{})

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if createdBy := strings.TrimSpace(filter.CreatedBy); createdBy != "" {
		stmt = stmt.Where("created_by = ?", createdBy)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) ListEligible(ctx context.Context, conn *gorm.DB, kind documentdomain.Kind) ([]documentdomain.Header, error) {
	pending := conn.WithContext(ctx).
		Table("batch_members AS bm").
		Select("bm.document_id").
		Joins("JOIN signature_batches AS sb ON sb.id = bm.batch_id").
		Where("bm.document_kind = ? AND sb.status = ?", string(kind), domain.StatusPending)

	var headers []documentdomain.Header
	err := conn.WithContext(ctx).
		Table(kind.Table()).
		Where("status = ?", documentdomain.StatusApproved).
		Where("id NOT IN (?)", pending).
		Order("payment_date asc, id asc").
		Find(&headers).Error
	if err != nil {
		return nil, err
	}
	return headers, nil
}
