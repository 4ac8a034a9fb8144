package model

import (
	"time"
)

// DeletionAuditRecord is the append-only, registry-level proof that a tenant
// deletion was attempted or completed. It is written before any tenant data
// is touched and lives outside the tenant schema, so it survives the schema's
// destruction. Rows are never updated or deleted.
type DeletionAuditRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	TenantID    uint      `json:"tenant_id" gorm:"index;not null"`
	TenantName  string    `json:"tenant_name" gorm:"type:varchar(100);not null"`
	TenantSlug  string    `json:"tenant_slug" gorm:"type:varchar(64);not null"`
	ActorID     uint      `json:"actor_id" gorm:"not null"`
	ActorEmail  string    `json:"actor_email" gorm:"type:varchar(100)"`
	MemberCount int       `json:"member_count"`
	Detail      string    `json:"detail,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time `json:"created_at"`
}
