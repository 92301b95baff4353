package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ScopeGlobal         = "GLOBAL"
	ScopeBranchOverride = "BRANCH_OVERRIDE"
)

const (
	StatusDraft     = "DRAFT"
	StatusSubmitted = "SUBMITTED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusRetired   = "RETIRED"
)

// PolicyVersion is the unit of governance: one versioned payload for a
// definition at GLOBAL or per-branch scope. Versions are append-only; a
// later edit always creates version+1 and never rewrites history.
type PolicyVersion struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PolicyID           uuid.UUID      `gorm:"type:uuid;not null;index;column:policy_id" json:"policy_id"`
	Scope              string         `gorm:"not null;index;column:scope" json:"scope"` // GLOBAL|BRANCH_OVERRIDE
	BranchID           *uuid.UUID     `gorm:"type:uuid;index;column:branch_id" json:"branch_id,omitempty"`
	Version            int            `gorm:"not null;column:version" json:"version"`
	Status             string         `gorm:"not null;index;column:status" json:"status"` // DRAFT|SUBMITTED|APPROVED|REJECTED|RETIRED
	Payload            datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Notes              string         `gorm:"column:notes" json:"notes"`
	EffectiveAt        time.Time      `gorm:"not null;index;column:effective_at" json:"effective_at"`
	// No column default: gorm drops zero-valued fields that carry a default
	// tag on insert, which would store false as true.
	ApplyToAllBranches bool       `gorm:"not null;column:apply_to_all_branches" json:"apply_to_all_branches"`
	CreatedByUserID    uuid.UUID  `gorm:"type:uuid;not null;column:created_by_user_id" json:"created_by_user_id"`
	SubmittedByUserID  *uuid.UUID `gorm:"type:uuid;column:submitted_by_user_id" json:"submitted_by_user_id,omitempty"`
	SubmittedAt        *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	ApprovedByUserID   *uuid.UUID `gorm:"type:uuid;column:approved_by_user_id" json:"approved_by_user_id,omitempty"`
	ApprovedAt         *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`
	ApprovalNote       string     `gorm:"column:approval_note" json:"approval_note"`
	RejectedByUserID   *uuid.UUID `gorm:"type:uuid;column:rejected_by_user_id" json:"rejected_by_user_id,omitempty"`
	RejectedAt         *time.Time `gorm:"column:rejected_at" json:"rejected_at,omitempty"`
	RejectionReason    string     `gorm:"column:rejection_reason" json:"rejection_reason"`
	CreatedAt          time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (PolicyVersion) TableName() string { return "policy_version" }
