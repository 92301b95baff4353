package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
)

type PolicyVersionBranchRepo interface {
	// ReplaceForVersion swaps the full targeting set in one shot
	// (delete-then-recreate, never an incremental diff). Callers pass the
	// surrounding transaction so a partial replacement cannot be observed.
	ReplaceForVersion(ctx context.Context, tx *gorm.DB, versionID uuid.UUID, branchIDs []uuid.UUID) error
	DeleteForVersion(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) error
	ListBranchIDs(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) ([]uuid.UUID, error)
	CountForVersion(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) (int64, error)
}

type policyVersionBranchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPolicyVersionBranchRepo(db *gorm.DB, baseLog *logger.Logger) PolicyVersionBranchRepo {
	return &policyVersionBranchRepo{db: db, log: baseLog.With("repo", "PolicyVersionBranchRepo")}
}

func (r *policyVersionBranchRepo) ReplaceForVersion(ctx context.Context, tx *gorm.DB, versionID uuid.UUID, branchIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Where("policy_version_id = ?", versionID).
		Delete(&types.PolicyVersionBranch{}).Error; err != nil {
		return err
	}

	seen := make(map[uuid.UUID]bool, len(branchIDs))
	rows := make([]*types.PolicyVersionBranch, 0, len(branchIDs))
	for _, branchID := range branchIDs {
		if branchID == uuid.Nil || seen[branchID] {
			continue
		}
		seen[branchID] = true
		rows = append(rows, &types.PolicyVersionBranch{
			ID:              uuid.New(),
			PolicyVersionID: versionID,
			BranchID:        branchID,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *policyVersionBranchRepo) DeleteForVersion(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("policy_version_id = ?", versionID).
		Delete(&types.PolicyVersionBranch{}).Error
}

func (r *policyVersionBranchRepo) ListBranchIDs(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.PolicyVersionBranch
	if err := transaction.WithContext(ctx).
		Where("policy_version_id = ?", versionID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.BranchID)
	}
	return out, nil
}

func (r *policyVersionBranchRepo) CountForVersion(ctx context.Context, tx *gorm.DB, versionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.PolicyVersionBranch{}).
		Where("policy_version_id = ?", versionID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
