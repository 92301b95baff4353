package types

import (
	"time"

	"github.com/google/uuid"
)

type Branch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;not null;column:code" json:"code"`
	Name      string    `gorm:"not null;column:name" json:"name"`
	City      string    `gorm:"column:city" json:"city"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Branch) TableName() string { return "branch" }
