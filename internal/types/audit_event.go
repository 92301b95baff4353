package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AuditEntityPolicyDefinition = "POLICY_DEFINITION"
	AuditEntityPolicyVersion    = "POLICY_VERSION"
)

// AuditEvent is one governance state transition as seen by the audit trail.
// Writes are best-effort from the governance side; a failed audit write never
// rolls back the transition itself.
type AuditEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BranchID    *uuid.UUID     `gorm:"type:uuid;index;column:branch_id" json:"branch_id,omitempty"`
	ActorUserID uuid.UUID      `gorm:"type:uuid;not null;index;column:actor_user_id" json:"actor_user_id"`
	Action      string         `gorm:"not null;index;column:action" json:"action"`
	Entity      string         `gorm:"not null;index;column:entity" json:"entity"`
	EntityID    string         `gorm:"not null;column:entity_id" json:"entity_id"`
	Meta        datatypes.JSON `gorm:"type:jsonb;column:meta" json:"meta"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_event" }
