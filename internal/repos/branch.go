package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
)

type BranchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, branches []*types.Branch) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Branch, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Branch, error)
	Exists(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type branchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBranchRepo(db *gorm.DB, baseLog *logger.Logger) BranchRepo {
	return &branchRepo{db: db, log: baseLog.With("repo", "BranchRepo")}
}

func (r *branchRepo) Create(ctx context.Context, tx *gorm.DB, branches []*types.Branch) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(branches) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&branches).Error
}

func (r *branchRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Branch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Branch
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *branchRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Branch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Branch
	if err := transaction.WithContext(ctx).
		Order("name ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *branchRepo) Exists(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.Branch{}).
		Where("id = ?", id).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
