package model

import (
	"time"
)

// Role is a member's role within a tenant, drawn from a fixed, closed set.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanManageTenant reports whether the role may perform control-plane
// operations (settings updates, inviting members, requesting exports).
func (r Role) CanManageTenant() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Membership associates a user with a tenant and a role. A user may belong to
// several tenants; every tenant has at least one owner except while it is
// being deleted.
type Membership struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_membership_user_tenant;not null"`
	TenantID  uint      `json:"tenant_id" gorm:"uniqueIndex:idx_membership_user_tenant;not null"`
	Role      Role      `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	User   User   `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}
