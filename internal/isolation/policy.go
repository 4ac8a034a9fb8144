// Package isolation defines the row-level access rule applied inside every
// tenant schema: a row is visible and mutable only when its tenant_id matches
// the tenant bound to the current session. It renders the bootstrap DDL for
// new tenant schemas and owns the allow-list that every schema name must pass
// before any DDL is issued.
package isolation

import (
	"fmt"
	"regexp"
	"strings"

	"tenant-service/internal/apperr"
)

// SchemaPrefix is prepended to every tenant schema name.
const SchemaPrefix = "tenant_"

// TenantSetting is the session variable the isolation policies compare
// against. It is set per transaction via set_config and read back with
// current_setting(..., true), which yields NULL (and therefore no visible
// rows) when no tenant is bound.
const TenantSetting = "app.current_tenant_id"

// PolicyName is the name of the isolation policy attached to every
// tenant-scoped relation.
const PolicyName = "tenant_isolation"

// schemaNamePattern is the strict allow-list every schema name must match
// before it may appear in DDL. Names never reach DDL by concatenating caller
// input; they are derived from the validated slug and re-checked here.
var schemaNamePattern = regexp.MustCompile(`^tenant_[a-z0-9_]{1,48}$`)

// BootstrapTables is the fixed set of relations created inside every new
// tenant schema. Each carries a tenant_id column the isolation policy keys on.
var BootstrapTables = []string{"projects", "invitations", "documents", "activity_entries"}

// ValidateSchemaName rejects any name outside the allow-listed pattern. This
// is the single gate in front of all schema-qualified DDL.
func ValidateSchemaName(name string) error {
	if !schemaNamePattern.MatchString(name) {
		return apperr.New(apperr.EInvalid, "invalid tenant schema name")
	}
	return nil
}

// SchemaNameForSlug derives the schema name for a validated slug. The
// derivation is deterministic and the result must still pass the allow-list.
func SchemaNameForSlug(slug string) (string, error) {
	name := SchemaPrefix + strings.ReplaceAll(strings.ToLower(slug), "-", "_")
	if err := ValidateSchemaName(name); err != nil {
		return "", err
	}
	return name, nil
}

// tableDDL holds the column definitions of the bootstrap relations. Every
// table gets id, tenant_id and created_at implicitly.
var tableDDL = map[string]string{
	"projects":         `name varchar(200) NOT NULL, description text, archived boolean NOT NULL DEFAULT false`,
	"invitations":      `email varchar(100) NOT NULL, role varchar(20) NOT NULL DEFAULT 'member', accepted_at timestamptz`,
	"documents":        `title varchar(200) NOT NULL, storage_key varchar(255), size_bytes bigint NOT NULL DEFAULT 0`,
	"activity_entries": `actor_id bigint, action varchar(100) NOT NULL, detail jsonb`,
}

// BootstrapDDL renders the ordered statements that create a tenant schema,
// its bootstrap relations, and the row-level policies that make cross-tenant
// rows structurally invisible. The schema name is validated before any
// statement is rendered; tenantID is the registry id the policies compare
// against.
func BootstrapDDL(schema string, tenantID uint) ([]string, error) {
	if err := ValidateSchemaName(schema); err != nil {
		return nil, err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA %s`, schema),
	}

	for _, table := range BootstrapTables {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE %s.%s (
	id bigserial PRIMARY KEY,
	tenant_id bigint NOT NULL DEFAULT %d,
	%s,
	created_at timestamptz NOT NULL DEFAULT now()
)`, schema, table, tenantID, tableDDL[table]))

		stmts = append(stmts, RLSEnableDDL(schema, table)...)
	}

	// The runtime role gets DML on the schema but cannot bypass row security:
	// schemas are created and owned by the DDL role, and tenant_app is
	// NOSUPERUSER NOBYPASSRLS, so an attempt to SET row_security = off fails
	// with a permission error instead of silently widening visibility.
	stmts = append(stmts,
		fmt.Sprintf(`GRANT USAGE ON SCHEMA %s TO tenant_app`, schema),
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA %s TO tenant_app`, schema),
		fmt.Sprintf(`GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA %s TO tenant_app`, schema),
	)

	return stmts, nil
}

// RLSEnableDDL renders the statements enabling and forcing row-level security
// on one relation and attaching the tenant isolation policy. FORCE applies
// the policy to the table owner as well.
func RLSEnableDDL(schema, table string) []string {
	qualified := schema + "." + table
	return []string{
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, qualified),
		fmt.Sprintf(`ALTER TABLE %s FORCE ROW LEVEL SECURITY`, qualified),
		fmt.Sprintf(
			`CREATE POLICY %s ON %s
	USING (tenant_id::text = current_setting('%s', true))
	WITH CHECK (tenant_id::text = current_setting('%s', true))`,
			PolicyName, qualified, TenantSetting, TenantSetting),
	}
}

// DropDDL renders the single atomic statement that destroys a tenant schema
// and everything in it. This one statement is what makes schema-per-tenant
// valuable: no per-row cleanup.
func DropDDL(schema string) (string, error) {
	if err := ValidateSchemaName(schema); err != nil {
		return "", err
	}
	return fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, schema), nil
}

// BindSessionSQL renders the statement binding a tenant to the current
// transaction. It is the only sanctioned way to set the tenant setting.
func BindSessionSQL() string {
	return fmt.Sprintf(`SELECT set_config('%s', ?, true)`, TenantSetting)
}

// SearchPathSQL renders the statement pointing the current transaction at a
// validated tenant schema.
func SearchPathSQL(schema string) (string, error) {
	if err := ValidateSchemaName(schema); err != nil {
		return "", err
	}
	return fmt.Sprintf(`SET LOCAL search_path TO %s`, schema), nil
}
