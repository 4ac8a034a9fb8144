package tenantctx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tenant-service/internal/apperr"
	"tenant-service/internal/model"
	"tenant-service/internal/registry"
)

func newTestResolver(t *testing.T) (*Resolver, *registry.Registry, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "resolver.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Tenant{}, &model.Membership{}))
	reg := registry.New(db)
	return NewResolver(reg), reg, db
}

func TestResolver_Resolve(t *testing.T) {
	resolver, reg, db := newTestResolver(t)
	ctx := context.Background()

	user := model.User{Email: "user@example.com"}
	require.NoError(t, db.Create(&user).Error)

	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, reg.Create(ctx, tenant))
	require.NoError(t, reg.AddMembership(ctx, &model.Membership{UserID: user.ID, TenantID: tenant.ID, Role: model.RoleAdmin}))

	rc, err := resolver.Resolve(ctx, user.ID, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, rc.TenantID)
	assert.Equal(t, "acme", rc.Slug)
	assert.Equal(t, "tenant_acme", rc.SchemaName)
	assert.Equal(t, model.RoleAdmin, rc.Role)
}

func TestResolver_Resolve_NoMembershipFailsClosed(t *testing.T) {
	resolver, reg, db := newTestResolver(t)
	ctx := context.Background()

	user := model.User{Email: "user@example.com"}
	require.NoError(t, db.Create(&user).Error)
	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, reg.Create(ctx, tenant))

	_, err := resolver.Resolve(ctx, user.ID, tenant.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.EForbidden, apperr.ErrCode(err))
}

func TestResolver_Resolve_NotReadyIsDistinct(t *testing.T) {
	resolver, reg, db := newTestResolver(t)
	ctx := context.Background()

	user := model.User{Email: "user@example.com"}
	require.NoError(t, db.Create(&user).Error)

	for _, status := range []model.TenantStatus{
		model.StatusPending, model.StatusProvisioning, model.StatusDeleting, model.StatusDeleted, model.StatusFailed,
	} {
		tenant := &model.Tenant{
			Name:       "Acme " + string(status),
			Slug:       "acme-" + string(status),
			SchemaName: "tenant_acme_" + string(status),
			Status:     status,
		}
		require.NoError(t, reg.Create(ctx, tenant))
		require.NoError(t, reg.AddMembership(ctx, &model.Membership{UserID: user.ID, TenantID: tenant.ID, Role: model.RoleMember}))

		_, err := resolver.Resolve(ctx, user.ID, tenant.ID)
		require.Error(t, err, string(status))
		assert.Equal(t, apperr.ETenantNotReady, apperr.ErrCode(err),
			"a member of a %s tenant gets not-ready, not forbidden", status)
	}
}

func TestResolver_ResolveDefault(t *testing.T) {
	resolver, reg, db := newTestResolver(t)
	ctx := context.Background()

	user := model.User{Email: "user@example.com"}
	require.NoError(t, db.Create(&user).Error)

	first := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, reg.Create(ctx, first))
	second := &model.Tenant{Name: "Beta", Slug: "beta", SchemaName: "tenant_beta", Status: model.StatusReady}
	require.NoError(t, reg.Create(ctx, second))

	require.NoError(t, reg.AddMembership(ctx, &model.Membership{UserID: user.ID, TenantID: first.ID, Role: model.RoleMember}))
	require.NoError(t, reg.AddMembership(ctx, &model.Membership{UserID: user.ID, TenantID: second.ID, Role: model.RoleOwner, IsDefault: true}))

	rc, err := resolver.ResolveDefault(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, rc.TenantID)
}

func TestResolver_ResolveDefault_NoneSet(t *testing.T) {
	resolver, reg, db := newTestResolver(t)
	ctx := context.Background()

	user := model.User{Email: "user@example.com"}
	require.NoError(t, db.Create(&user).Error)

	tenant := &model.Tenant{Name: "Acme", Slug: "acme", SchemaName: "tenant_acme", Status: model.StatusReady}
	require.NoError(t, reg.Create(ctx, tenant))
	require.NoError(t, reg.AddMembership(ctx, &model.Membership{UserID: user.ID, TenantID: tenant.ID, Role: model.RoleMember}))

	_, err := resolver.ResolveDefault(ctx, user.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.EForbidden, apperr.ErrCode(err))
}
