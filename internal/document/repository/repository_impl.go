package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, doc domain.Document) error {
	if doc == nil {
		return nil
	}
	return conn.WithContext(ctx).Create(doc).Error
}

func (r *repo) Load(ctx context.Context, conn *gorm.DB, ref domain.Ref) (domain.Document, error) {
	doc, err := domain.New(ref.Kind)
	if err != nil {
		return nil, err
	}
	err = conn.WithContext(ctx).Where("id = ?", ref.ID).Take(doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *repo) LoadHeader(ctx context.Context, conn *gorm.DB, ref domain.Ref, forUpdate bool) (*domain.Header, error) {
	table := ref.Kind.Table()
	if table == "" {
		return nil, fmt.Errorf("unknown document kind %q", ref.Kind)
	}

	stmt := conn.WithContext(ctx).Table(table)
	if forUpdate {
		stmt = db.ForUpdate(stmt)
	}

	var header domain.Header
	err := stmt.Where("id = ?", ref.ID).Take(&header).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &header, nil
}

func (r *repo) UpdateHeader(ctx context.Context, conn *gorm.DB, ref domain.Ref, version int64, changes map[string]any) (bool, error) {
	table := ref.Kind.Table()
	if table == "" {
		return false, fmt.Errorf("unknown document kind %q", ref.Kind)
	}

	values := make(map[string]any, len(changes)+1)
	for key, value := range changes {
		values[key] = value
	}
	values["version"] = version + 1

	res := conn.WithContext(ctx).
		Table(table).
		Where("id = ? AND version = ?", ref.ID, version).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Document, error) {
	stmt := applyFilter(conn.WithContext(ctx), filter)
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

	switch filter.Kind {
	case domain.KindVoucher:
		var rows []*domain.Voucher
		if err := stmt.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]domain.Document, 0, len(rows))
		for _, row := range rows {
			out = append(out, row)
		}
		return out, nil
	case domain.KindForm:
		var rows []*domain.Form
		if err := stmt.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]domain.Document, 0, len(rows))
		for _, row := range rows {
			out = append(out, row)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown document kind %q", filter.Kind)
	}
}

func applyFilter(stmt *gorm.DB, filter domain.ListFilter) *gorm.DB {
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if createdBy := strings.TrimSpace(filter.CreatedBy); createdBy != "" {
		stmt = stmt.Where("created_by = ?", createdBy)
	}
	if filter.PaymentDateFrom != nil {
		stmt = stmt.Where("payment_date >= ?", *filter.PaymentDateFrom)
	}
	if filter.PaymentDateTo != nil {
		stmt = stmt.Where("payment_date <= ?", *filter.PaymentDateTo)
	}
	return stmt
}

func (r *repo) Headers(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Header, error) {
	table := filter.Kind.Table()
	if table == "" {
		return nil, fmt.Errorf("unknown document kind %q", filter.Kind)
	}

	var rows []domain.Header
	err := applyFilter(conn.WithContext(ctx).Table(table), filter).
		Order("payment_date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertComment(ctx context.Context, conn *gorm.DB, comment *domain.Comment) error {
	return conn.WithContext(ctx).Create(comment).Error
}

func (r *repo) ListComments(ctx context.Context, conn *gorm.DB, ref domain.Ref, includeInternal bool) ([]domain.Comment, error) {
	stmt := conn.WithContext(ctx).
		Where("document_kind = ? AND document_id = ?", string(ref.Kind), ref.ID)
	if !includeInternal {
		stmt = stmt.Where("internal = ?", false)
	}

	var rows []domain.Comment
	if err := stmt.Order("created_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
