package types

import (
	"time"

	"github.com/google/uuid"
)

// PolicyVersionBranch targets a GLOBAL policy version at a specific branch.
// Rows exist only when the version has ApplyToAllBranches=false.
type PolicyVersionBranch struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PolicyVersionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_policy_version_branch;column:policy_version_id" json:"policy_version_id"`
	BranchID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_policy_version_branch;index;column:branch_id" json:"branch_id"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

func (PolicyVersionBranch) TableName() string { return "policy_version_branch" }
