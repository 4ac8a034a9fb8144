// Package registry is the durable record of which tenants exist, their schema
// name, membership, and lifecycle status. All status transitions go through
// its guarded state machine; it is the synchronization point that resolves
// concurrent provisioning/deletion races.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"tenant-service/internal/apperr"
	"tenant-service/internal/model"
)

// Registry provides access to the tenant registry tables. Registry rows live
// in the shared (tenant-independent) storage area, never inside a tenant
// schema.
type Registry struct {
	db *gorm.DB
}

// New creates a registry backed by db.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// DB exposes the underlying handle for job and audit persistence.
func (r *Registry) DB() *gorm.DB {
	return r.db
}

// Create inserts a new tenant row. Slug uniqueness is enforced by the unique
// index, not by a pre-check alone: a second concurrent writer fails at the
// constraint instead of silently overwriting.
func (r *Registry) Create(ctx context.Context, tenant *model.Tenant) error {
	tenant.Slug = strings.ToLower(tenant.Slug)
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		if isDuplicate(err) {
			return apperr.Newf(apperr.EConflict, "tenant slug %q already exists", tenant.Slug)
		}
		return apperr.Wrap("failed to create tenant", err)
	}
	return nil
}

// CreateWithOwner inserts a new tenant row together with its owner
// membership in one transaction. The creator becomes owner; the tenant also
// becomes the creator's default when they have none yet.
func (r *Registry) CreateWithOwner(ctx context.Context, tenant *model.Tenant, ownerID uint) error {
	tenant.Slug = strings.ToLower(tenant.Slug)
	tenant.OwnerID = ownerID

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			return err
		}

		var owner model.User
		if err := tx.First(&owner, ownerID).Error; err != nil {
			return err
		}
		makeDefault := owner.DefaultTenantID == nil

		membership := model.Membership{
			UserID:    ownerID,
			TenantID:  tenant.ID,
			Role:      model.RoleOwner,
			IsDefault: makeDefault,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		if makeDefault {
			if err := tx.Model(&owner).Update("default_tenant_id", tenant.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			return apperr.Newf(apperr.EConflict, "tenant slug %q already exists", tenant.Slug)
		}
		return apperr.Wrap("failed to create tenant", err)
	}
	return nil
}

// GetByID returns the tenant with the given id.
func (r *Registry) GetByID(ctx context.Context, id uint) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ENotFound, "tenant not found")
		}
		return nil, apperr.Wrap("failed to load tenant", err)
	}
	return &tenant, nil
}

// GetBySlug returns the tenant with the given slug. Comparison is
// case-insensitive; slugs are stored lowercase.
func (r *Registry) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.WithContext(ctx).Where("slug = ?", strings.ToLower(slug)).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ENotFound, "tenant not found")
		}
		return nil, apperr.Wrap("failed to load tenant", err)
	}
	return &tenant, nil
}

// Transition moves a tenant from one lifecycle status to another. The move
// must be on the lifecycle graph, and the update is a compare-and-swap on the
// expected current status: if another writer got there first, zero rows match
// and the call fails with the status actually observed.
func (r *Registry) Transition(ctx context.Context, id uint, from, to model.TenantStatus) (*model.Tenant, error) {
	if !from.IsValid() || !to.IsValid() {
		return nil, apperr.New(apperr.EInvalid, "unknown tenant status")
	}
	if !from.CanTransition(to) {
		return nil, apperr.Newf(apperr.EInvalidTransition, "cannot transition tenant from %s to %s", from, to)
	}

	result := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if result.Error != nil {
		return nil, apperr.Wrap("failed to transition tenant status", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race or wrong precondition; report what is actually there.
		tenant, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Newf(apperr.EInvalidTransition,
			"cannot transition tenant from %s to %s: tenant is %s", from, to, tenant.Status)
	}

	return r.GetByID(ctx, id)
}

// Fail marks a tenant failed from whatever non-terminal status it is in,
// recording the reason for operators. The caller-facing message never carries
// the reason.
func (r *Registry) Fail(ctx context.Context, id uint, reason string) error {
	result := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ? AND status NOT IN ?", id, []model.TenantStatus{model.StatusFailed, model.StatusDeleted}).
		Updates(map[string]interface{}{"status": model.StatusFailed, "status_reason": reason, "updated_at": time.Now()})
	if result.Error != nil {
		return apperr.Wrap("failed to mark tenant failed", result.Error)
	}
	return nil
}

// MarkDeleted finalizes a deletion: deleting -> deleted. The row itself stays
// so references remain resolvable.
func (r *Registry) MarkDeleted(ctx context.Context, id uint) (*model.Tenant, error) {
	return r.Transition(ctx, id, model.StatusDeleting, model.StatusDeleted)
}

// UpdateSettings patches the free-form settings document. Slug and schema
// name are immutable through this path.
func (r *Registry) UpdateSettings(ctx context.Context, id uint, settings string) (*model.Tenant, error) {
	tenant, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Status == model.StatusDeleted || tenant.Status == model.StatusDeleting {
		return nil, apperr.New(apperr.ETenantNotReady, "tenant is being deleted")
	}
	if err := r.db.WithContext(ctx).Model(tenant).Update("settings", settings).Error; err != nil {
		return nil, apperr.Wrap("failed to update tenant settings", err)
	}
	tenant.Settings = settings
	return tenant, nil
}

// AddMembership associates a user with a tenant. Duplicate memberships fail
// at the composite unique index.
func (r *Registry) AddMembership(ctx context.Context, m *model.Membership) error {
	if !m.Role.IsValid() {
		return apperr.Newf(apperr.EInvalid, "unknown role %q", m.Role)
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return apperr.New(apperr.EConflict, "user is already a member of this tenant")
		}
		return apperr.Wrap("failed to create membership", err)
	}
	return nil
}

// GetMembership returns the membership of a user in a tenant, or a not-found
// error when the user does not belong to it.
func (r *Registry) GetMembership(ctx context.Context, userID, tenantID uint) (*model.Membership, error) {
	var m model.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ENotFound, "membership not found")
		}
		return nil, apperr.Wrap("failed to load membership", err)
	}
	return &m, nil
}

// ListMembers returns all memberships of a tenant.
func (r *Registry) ListMembers(ctx context.Context, tenantID uint) ([]model.Membership, error) {
	var members []model.Membership
	err := r.db.WithContext(ctx).Preload("User").
		Where("tenant_id = ?", tenantID).
		Find(&members).Error
	if err != nil {
		return nil, apperr.Wrap("failed to list members", err)
	}
	return members, nil
}

// CountMembers returns the number of members of a tenant.
func (r *Registry) CountMembers(ctx context.Context, tenantID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap("failed to count members", err)
	}
	return int(count), nil
}

// ListForUser returns all memberships of a user together with their tenants.
func (r *Registry) ListForUser(ctx context.Context, userID uint) ([]model.Membership, error) {
	var members []model.Membership
	err := r.db.WithContext(ctx).Preload("Tenant").
		Where("user_id = ?", userID).
		Find(&members).Error
	if err != nil {
		return nil, apperr.Wrap("failed to list memberships", err)
	}
	return members, nil
}

// RemoveMembership removes a user from a tenant. The tenant owner cannot be
// removed; a tenant keeps at least one owner at all times except during
// deletion.
func (r *Registry) RemoveMembership(ctx context.Context, userID, tenantID uint) error {
	m, err := r.GetMembership(ctx, userID, tenantID)
	if err != nil {
		return err
	}
	if m.Role == model.RoleOwner {
		return apperr.New(apperr.EForbidden, "cannot remove the tenant owner")
	}
	if err := r.db.WithContext(ctx).Delete(&model.Membership{}, m.ID).Error; err != nil {
		return apperr.Wrap("failed to remove membership", err)
	}
	return nil
}

// RemoveAllMemberships drops every membership row of a tenant. Only the
// deletion job calls this, after the audit record has been written.
func (r *Registry) RemoveAllMemberships(ctx context.Context, tenantID uint) error {
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&model.Membership{}).Error
	if err != nil {
		return apperr.Wrap("failed to remove memberships", err)
	}
	return nil
}

// ClearDefaultTenant resets the default tenant pointer of every user who had
// the given tenant as their default. Users themselves are never deleted here.
func (r *Registry) ClearDefaultTenant(ctx context.Context, tenantID uint) error {
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("default_tenant_id = ?", tenantID).
		Update("default_tenant_id", nil).Error
	if err != nil {
		return apperr.Wrap("failed to clear default tenant pointers", err)
	}
	return nil
}

// SetDefaultTenant marks a tenant as the user's default. The user must be a
// member.
func (r *Registry) SetDefaultTenant(ctx context.Context, userID, tenantID uint) error {
	if _, err := r.GetMembership(ctx, userID, tenantID); err != nil {
		if apperr.ErrCode(err) == apperr.ENotFound {
			return apperr.New(apperr.EForbidden, "access denied to requested tenant")
		}
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Membership{}).Where("user_id = ?", userID).
			Update("is_default", false).Error; err != nil {
			return apperr.Wrap("failed to reset default memberships", err)
		}
		if err := tx.Model(&model.Membership{}).
			Where("user_id = ? AND tenant_id = ?", userID, tenantID).
			Update("is_default", true).Error; err != nil {
			return apperr.Wrap("failed to set default membership", err)
		}
		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("default_tenant_id", tenantID).Error; err != nil {
			return apperr.Wrap("failed to update user default tenant", err)
		}
		return nil
	})
}

// isDuplicate reports whether err is a unique constraint violation.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
