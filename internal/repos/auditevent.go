package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
)

type AuditEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, event *types.AuditEvent) error
	ListByEntity(ctx context.Context, tx *gorm.DB, entity string, limit int) ([]*types.AuditEvent, error)
	CountByEntitySince(ctx context.Context, tx *gorm.DB, entity string, since time.Time) (int64, error)
}

type auditEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditEventRepo(db *gorm.DB, baseLog *logger.Logger) AuditEventRepo {
	return &auditEventRepo{db: db, log: baseLog.With("repo", "AuditEventRepo")}
}

func (r *auditEventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.AuditEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(event).Error
}

func (r *auditEventRepo) ListByEntity(ctx context.Context, tx *gorm.DB, entity string, limit int) ([]*types.AuditEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AuditEvent
	if err := transaction.WithContext(ctx).
		Where("entity = ?", entity).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *auditEventRepo) CountByEntitySince(ctx context.Context, tx *gorm.DB, entity string, since time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.AuditEvent{}).
		Where("entity = ? AND created_at >= ?", entity, since).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
