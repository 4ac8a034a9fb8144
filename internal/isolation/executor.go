package isolation

import (
	"context"

	"gorm.io/gorm"

	"tenant-service/internal/apperr"
)

// SchemaExecutor runs schema DDL. The gorm implementation talks to Postgres;
// tests substitute a recording fake.
type SchemaExecutor interface {
	// ExecDDL runs the statements inside a single transaction. Either all of
	// them take effect or none do.
	ExecDDL(ctx context.Context, stmts []string) error
	// DropSchema destroys a tenant schema and everything in it. Safe to call
	// on a schema that does not exist.
	DropSchema(ctx context.Context, schema string) error
}

// GormExecutor is the production SchemaExecutor.
type GormExecutor struct {
	db *gorm.DB
}

// NewExecutor creates a SchemaExecutor backed by db.
func NewExecutor(db *gorm.DB) *GormExecutor {
	return &GormExecutor{db: db}
}

func (e *GormExecutor) ExecDDL(ctx context.Context, stmts []string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return apperr.Wrap("schema bootstrap statement failed", err)
			}
		}
		return nil
	})
}

func (e *GormExecutor) DropSchema(ctx context.Context, schema string) error {
	stmt, err := DropDDL(schema)
	if err != nil {
		return err
	}
	if err := e.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return apperr.Wrap("failed to drop tenant schema", err)
	}
	return nil
}
