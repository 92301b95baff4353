package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
)

type PolicyDefinitionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, def *types.PolicyDefinition) error
	GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.PolicyDefinition, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PolicyDefinition, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.PolicyDefinition, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type policyDefinitionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPolicyDefinitionRepo(db *gorm.DB, baseLog *logger.Logger) PolicyDefinitionRepo {
	return &policyDefinitionRepo{db: db, log: baseLog.With("repo", "PolicyDefinitionRepo")}
}

func (r *policyDefinitionRepo) Create(ctx context.Context, tx *gorm.DB, def *types.PolicyDefinition) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(def).Error
}

func (r *policyDefinitionRepo) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.PolicyDefinition, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var def types.PolicyDefinition
	err := transaction.WithContext(ctx).Where("code = ?", code).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *policyDefinitionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PolicyDefinition, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var def types.PolicyDefinition
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *policyDefinitionRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.PolicyDefinition, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.PolicyDefinition
	if err := transaction.WithContext(ctx).
		Order("name ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *policyDefinitionRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).Model(&types.PolicyDefinition{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
