package tenantctx

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"tenant-service/internal/isolation"
)

// Scoped runs fn inside a transaction bound to the tenant in ctx. The
// transaction first binds the tenant id for the row-level policies and points
// search_path at the tenant's schema, using only the schema name resolved
// through the registry. There is no variant that accepts a caller-supplied
// tenant identifier.
func Scoped(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	rc, err := MustFromContext(ctx)
	if err != nil {
		return err
	}

	searchPath, err := isolation.SearchPathSQL(rc.SchemaName)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(isolation.BindSessionSQL(), strconv.FormatUint(uint64(rc.TenantID), 10)).Error; err != nil {
			return err
		}
		if err := tx.Exec(searchPath).Error; err != nil {
			return err
		}
		return fn(tx)
	})
}
