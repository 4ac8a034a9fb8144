package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"tenant-service/internal/isolation"
)

// PartitionDumper reads the contents of a tenant-scoped relation for export.
type PartitionDumper interface {
	DumpTable(ctx context.Context, schema, table string, tenantID uint) ([]map[string]interface{}, error)
}

// GormDumper is the production dumper. Reads run inside a transaction bound
// to the tenant, so the row-level policies apply to the export path the same
// way they apply to everything else.
type GormDumper struct {
	db *gorm.DB
}

// NewDumper creates a dumper backed by db.
func NewDumper(db *gorm.DB) *GormDumper {
	return &GormDumper{db: db}
}

func (d *GormDumper) DumpTable(ctx context.Context, schema, table string, tenantID uint) ([]map[string]interface{}, error) {
	if err := isolation.ValidateSchemaName(schema); err != nil {
		return nil, err
	}
	if !knownTable(table) {
		return nil, fmt.Errorf("unknown relation %q", table)
	}

	var rows []map[string]interface{}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(isolation.BindSessionSQL(), strconv.FormatUint(uint64(tenantID), 10)).Error; err != nil {
			return err
		}
		return tx.Table(schema + "." + table).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func knownTable(table string) bool {
	for _, t := range isolation.BootstrapTables {
		if t == table {
			return true
		}
	}
	return false
}
