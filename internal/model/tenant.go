package model

import (
	"time"
)

// TenantStatus is the lifecycle status of a tenant in the registry.
type TenantStatus string

const (
	StatusPending      TenantStatus = "pending"
	StatusProvisioning TenantStatus = "provisioning"
	StatusReady        TenantStatus = "ready"
	StatusFailed       TenantStatus = "failed"
	StatusDeleting     TenantStatus = "deleting"
	StatusDeleted      TenantStatus = "deleted"
)

// validTransitions is the full lifecycle graph. Every non-terminal status may
// additionally move to StatusFailed on an irrecoverable error; `failed` and
// `deleted` are terminal.
var validTransitions = map[TenantStatus][]TenantStatus{
	StatusPending:      {StatusProvisioning, StatusFailed},
	StatusProvisioning: {StatusReady, StatusFailed},
	StatusReady:        {StatusDeleting, StatusFailed},
	StatusDeleting:     {StatusDeleted, StatusFailed},
	StatusFailed:       {},
	StatusDeleted:      {},
}

// CanTransition reports whether moving from s to target is on the lifecycle graph.
func (s TenantStatus) CanTransition(target TenantStatus) bool {
	for _, next := range validTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s TenantStatus) Terminal() bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

// IsValid reports whether s is a known lifecycle status.
func (s TenantStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Tenant represents one organization in the registry. The registry row is the
// single source of truth for tenant identity and lifecycle status. It is never
// physically deleted, even after the tenant's schema is destroyed, so that
// audit records and job history stay resolvable.
type Tenant struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	Name          string       `json:"name" gorm:"type:varchar(100);not null"`
	Slug          string       `json:"slug" gorm:"type:varchar(64);uniqueIndex;not null"`
	SchemaName    string       `json:"schema_name" gorm:"type:varchar(64);uniqueIndex;not null"`
	Status        TenantStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	OwnerID       uint         `json:"owner_id" gorm:"index;not null"`
	RetentionDays int          `json:"retention_days" gorm:"default:30"`
	Settings      string       `json:"settings" gorm:"type:jsonb"`
	StatusReason  string       `json:"status_reason,omitempty" gorm:"type:text"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
