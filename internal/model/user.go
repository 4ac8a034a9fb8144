package model

import (
	"time"
)

// User represents an account in the shared registry area. Users are never
// deleted as a side effect of tenant deletion; only their default tenant
// pointer is cleared when that tenant goes away.
type User struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Email           string    `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	Password        string    `json:"-" gorm:"type:varchar(255)"`
	DefaultTenantID *uint     `json:"default_tenant_id,omitempty" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
