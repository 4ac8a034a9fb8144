package isolation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Verifier runs the isolation verification protocol against a live database.
// The four checks are the engine's functional test surface: they prove that
// the row-level policies actually hold, not just that they were declared.
type Verifier struct {
	db *gorm.DB
}

// NewVerifier creates a verifier backed by db. The connection must use the
// runtime application role, not a superuser, or the checks prove nothing.
func NewVerifier(db *gorm.DB) *Verifier {
	return &Verifier{db: db}
}

// bound runs fn inside a transaction bound to the given tenant id. An empty
// tenantID leaves the session unbound.
func (v *Verifier) bound(ctx context.Context, tenantID string, fn func(tx *gorm.DB) error) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID != "" {
			if err := tx.Exec(BindSessionSQL(), tenantID).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

// VerifyCrossTenantRead checks that a read issued while bound to tenant A
// against tenant B's data returns zero rows.
func (v *Verifier) VerifyCrossTenantRead(ctx context.Context, tenantA uint, schemaB, table string) error {
	if err := ValidateSchemaName(schemaB); err != nil {
		return err
	}
	var count int64
	err := v.bound(ctx, strconv.FormatUint(uint64(tenantA), 10), func(tx *gorm.DB) error {
		return tx.Raw(fmt.Sprintf(`SELECT count(*) FROM %s.%s`, schemaB, table)).Scan(&count).Error
	})
	if err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("cross-tenant read returned %d rows, want 0", count)
	}
	return nil
}

// VerifyCrossTenantWrite checks that an update issued while bound to tenant A
// against tenant B's data affects zero rows and leaves B's row count intact.
func (v *Verifier) VerifyCrossTenantWrite(ctx context.Context, tenantA, tenantB uint, schemaB, table string) error {
	if err := ValidateSchemaName(schemaB); err != nil {
		return err
	}

	before, err := v.countAs(ctx, tenantB, schemaB, table)
	if err != nil {
		return err
	}

	var affected int64
	err = v.bound(ctx, strconv.FormatUint(uint64(tenantA), 10), func(tx *gorm.DB) error {
		result := tx.Exec(fmt.Sprintf(`UPDATE %s.%s SET created_at = now()`, schemaB, table))
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected != 0 {
		return fmt.Errorf("cross-tenant write affected %d rows, want 0", affected)
	}

	after, err := v.countAs(ctx, tenantB, schemaB, table)
	if err != nil {
		return err
	}
	if before != after {
		return fmt.Errorf("tenant data changed under cross-tenant write: %d rows before, %d after", before, after)
	}
	return nil
}

// VerifyPolicyTamperRejected checks that disabling row security from within a
// session fails with a permission error instead of silently succeeding. With
// row_security = off and FORCE ROW LEVEL SECURITY in place, Postgres refuses
// queries from roles that cannot bypass RLS.
func (v *Verifier) VerifyPolicyTamperRejected(ctx context.Context, tenantID uint, schema, table string) error {
	if err := ValidateSchemaName(schema); err != nil {
		return err
	}
	var count int64
	err := v.bound(ctx, strconv.FormatUint(uint64(tenantID), 10), func(tx *gorm.DB) error {
		if err := tx.Exec(`SET LOCAL row_security = off`).Error; err != nil {
			return err
		}
		return tx.Raw(fmt.Sprintf(`SELECT count(*) FROM %s.%s`, schema, table)).Scan(&count).Error
	})
	if err == nil {
		return fmt.Errorf("disabling row security was not rejected")
	}
	if !isPermissionError(err) {
		return fmt.Errorf("disabling row security failed with unexpected error: %w", err)
	}
	return nil
}

// VerifyUnboundReadEmpty checks that reading tenant-scoped data without any
// bound tenant returns zero rows, never the union of all tenants' data.
func (v *Verifier) VerifyUnboundReadEmpty(ctx context.Context, schema, table string) error {
	if err := ValidateSchemaName(schema); err != nil {
		return err
	}
	var count int64
	err := v.bound(ctx, "", func(tx *gorm.DB) error {
		return tx.Raw(fmt.Sprintf(`SELECT count(*) FROM %s.%s`, schema, table)).Scan(&count).Error
	})
	if err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("unbound read returned %d rows, want 0", count)
	}
	return nil
}

func (v *Verifier) countAs(ctx context.Context, tenantID uint, schema, table string) (int64, error) {
	var count int64
	err := v.bound(ctx, strconv.FormatUint(uint64(tenantID), 10), func(tx *gorm.DB) error {
		return tx.Raw(fmt.Sprintf(`SELECT count(*) FROM %s.%s`, schema, table)).Scan(&count).Error
	})
	return count, err
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "insufficient privilege") ||
		strings.Contains(msg, "query would be affected by row-level security")
}
