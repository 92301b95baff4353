package types

import (
	"time"

	"github.com/google/uuid"
)

// PolicyDefinition is the administered registry entry for a governed setting
// (e.g. EXPORT_GUARDRAILS). Identity (Code) is immutable once created;
// definitions are never deleted in normal operation.
type PolicyDefinition struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code        string    `gorm:"uniqueIndex;not null;column:code" json:"code"`
	Name        string    `gorm:"not null;column:name" json:"name"`
	Type        string    `gorm:"not null;column:type" json:"type"`
	Description string    `gorm:"column:description" json:"description"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (PolicyDefinition) TableName() string { return "policy_definition" }
