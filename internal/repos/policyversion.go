package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
)

type PolicyVersionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, v *types.PolicyVersion) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PolicyVersion, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) error
	// TransitionStatus applies fields only while the row is still in
	// fromStatus, reporting whether a row matched. A false result means a
	// concurrent transition won; callers must not retry blindly.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatus string, fields map[string]interface{}) (bool, error)
	FindByStatus(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID, status string) (*types.PolicyVersion, error)
	MaxVersion(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID) (int, error)
	LatestApproved(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID) (*types.PolicyVersion, error)
	LatestApprovedAsOf(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID, asOf time.Time) (*types.PolicyVersion, error)
	LatestApprovedGlobalFor(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, branchID *uuid.UUID, asOf time.Time) (*types.PolicyVersion, error)
	LatestApprovedOverride(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, branchID uuid.UUID, asOf time.Time) (*types.PolicyVersion, error)
	ListSubmitted(ctx context.Context, tx *gorm.DB, limit int) ([]*types.PolicyVersion, error)
	CountSubmitted(ctx context.Context, tx *gorm.DB, policyID *uuid.UUID) (int64, error)
	History(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID, limit int) ([]*types.PolicyVersion, error)
	LastUpdatedAt(ctx context.Context, tx *gorm.DB, policyID uuid.UUID) (*time.Time, error)
}

type policyVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPolicyVersionRepo(db *gorm.DB, baseLog *logger.Logger) PolicyVersionRepo {
	return &policyVersionRepo{db: db, log: baseLog.With("repo", "PolicyVersionRepo")}
}

// laneScope narrows a query to one versioning lane: (policy, scope, branch).
// GLOBAL versions carry a NULL branch_id, overrides always carry a concrete one.
func laneScope(q *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID) *gorm.DB {
	q = q.Where("policy_id = ? AND scope = ?", policyID, scope)
	if branchID != nil {
		return q.Where("branch_id = ?", *branchID)
	}
	return q.Where("branch_id IS NULL")
}

func (r *policyVersionRepo) Create(ctx context.Context, tx *gorm.DB, v *types.PolicyVersion) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(v).Error
}

func (r *policyVersionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var v types.PolicyVersion
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *policyVersionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(fields) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.PolicyVersion{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *policyVersionRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatus string, fields map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	result := transaction.WithContext(ctx).
		Model(&types.PolicyVersion{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *policyVersionRepo) FindByStatus(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID, status string) (*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var v types.PolicyVersion
	err := laneScope(transaction.WithContext(ctx), policyID, scope, branchID).
		Where("status = ?", status).
		Order("version DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *policyVersionRepo) MaxVersion(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var max *int
	err := laneScope(transaction.WithContext(ctx).Model(&types.PolicyVersion{}), policyID, scope, branchID).
		Select("MAX(version)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *policyVersionRepo) LatestApproved(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID) (*types.PolicyVersion, error) {
	return r.FindByStatus(ctx, tx, policyID, scope, branchID, types.StatusApproved)
}

func (r *policyVersionRepo) LatestApprovedAsOf(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID, asOf time.Time) (*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var v types.PolicyVersion
	err := laneScope(transaction.WithContext(ctx), policyID, scope, branchID).
		Where("status = ? AND effective_at <= ?", types.StatusApproved, asOf).
		Order("version DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *policyVersionRepo) LatestApprovedGlobalFor(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, branchID *uuid.UUID, asOf time.Time) (*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("policy_id = ? AND scope = ? AND status = ? AND effective_at <= ?",
			policyID, types.ScopeGlobal, types.StatusApproved, asOf)
	if branchID != nil {
		targeted := transaction.WithContext(ctx).
			Model(&types.PolicyVersionBranch{}).
			Select("policy_version_id").
			Where("branch_id = ?", *branchID)
		q = q.Where("apply_to_all_branches = ? OR id IN (?)", true, targeted)
	} else {
		q = q.Where("apply_to_all_branches = ?", true)
	}

	var v types.PolicyVersion
	err := q.Order("version DESC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *policyVersionRepo) LatestApprovedOverride(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, branchID uuid.UUID, asOf time.Time) (*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var v types.PolicyVersion
	err := transaction.WithContext(ctx).
		Where("policy_id = ? AND scope = ? AND branch_id = ? AND status = ? AND effective_at <= ?",
			policyID, types.ScopeBranchOverride, branchID, types.StatusApproved, asOf).
		Order("version DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *policyVersionRepo) ListSubmitted(ctx context.Context, tx *gorm.DB, limit int) ([]*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.PolicyVersion
	if err := transaction.WithContext(ctx).
		Where("status = ?", types.StatusSubmitted).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *policyVersionRepo) CountSubmitted(ctx context.Context, tx *gorm.DB, policyID *uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Model(&types.PolicyVersion{}).
		Where("status = ?", types.StatusSubmitted)
	if policyID != nil {
		q = q.Where("policy_id = ?", *policyID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *policyVersionRepo) History(ctx context.Context, tx *gorm.DB, policyID uuid.UUID, scope string, branchID *uuid.UUID, limit int) ([]*types.PolicyVersion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.PolicyVersion
	if err := laneScope(transaction.WithContext(ctx), policyID, scope, branchID).
		Order("version DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *policyVersionRepo) LastUpdatedAt(ctx context.Context, tx *gorm.DB, policyID uuid.UUID) (*time.Time, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var v types.PolicyVersion
	err := transaction.WithContext(ctx).
		Where("policy_id = ?", policyID).
		Order("updated_at DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v.UpdatedAt, nil
}
