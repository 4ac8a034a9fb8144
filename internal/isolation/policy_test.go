package isolation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-service/internal/apperr"
)

func TestValidateSchemaName(t *testing.T) {
	valid := []string{
		"tenant_acme",
		"tenant_acme_corp",
		"tenant_a",
		"tenant_team_42",
	}
	for _, name := range valid {
		assert.NoError(t, ValidateSchemaName(name), name)
	}

	invalid := []string{
		"",
		"acme",
		"tenant_",
		"tenant_Acme",
		"tenant_acme-corp",
		"public",
		"tenant_acme; DROP SCHEMA public CASCADE",
		"tenant_acme\"",
		"tenant_" + strings.Repeat("a", 49),
	}
	for _, name := range invalid {
		err := ValidateSchemaName(name)
		require.Error(t, err, name)
		assert.Equal(t, apperr.EInvalid, apperr.ErrCode(err))
	}
}

func TestSchemaNameForSlug(t *testing.T) {
	name, err := SchemaNameForSlug("acme-corp")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme_corp", name)

	name, err = SchemaNameForSlug("Acme")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme", name)

	_, err = SchemaNameForSlug("acme corp")
	assert.Error(t, err, "spaces never reach DDL")

	_, err = SchemaNameForSlug("")
	assert.Error(t, err)
}

func TestBootstrapDDL(t *testing.T) {
	stmts, err := BootstrapDDL("tenant_acme", 7)
	require.NoError(t, err)

	joined := strings.Join(stmts, ";\n")

	assert.Equal(t, `CREATE SCHEMA tenant_acme`, stmts[0], "schema creation comes first")

	for _, table := range BootstrapTables {
		assert.Contains(t, joined, "CREATE TABLE tenant_acme."+table)
		assert.Contains(t, joined, "ALTER TABLE tenant_acme."+table+" ENABLE ROW LEVEL SECURITY")
		assert.Contains(t, joined, "ALTER TABLE tenant_acme."+table+" FORCE ROW LEVEL SECURITY")
		assert.Contains(t, joined, "CREATE POLICY tenant_isolation ON tenant_acme."+table)
	}

	// The policy compares the row's tenant_id against the session binding on
	// both read and write paths.
	assert.Contains(t, joined, `USING (tenant_id::text = current_setting('app.current_tenant_id', true))`)
	assert.Contains(t, joined, `WITH CHECK (tenant_id::text = current_setting('app.current_tenant_id', true))`)

	// Rows default to the owning tenant's id.
	assert.Contains(t, joined, "tenant_id bigint NOT NULL DEFAULT 7")

	// The runtime role gets DML, never ownership.
	assert.Contains(t, joined, "GRANT USAGE ON SCHEMA tenant_acme TO tenant_app")
	assert.Contains(t, joined, "GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA tenant_acme TO tenant_app")
}

func TestBootstrapDDL_RejectsInvalidSchema(t *testing.T) {
	_, err := BootstrapDDL("tenant_acme; DROP TABLE users", 1)
	require.Error(t, err)
	assert.Equal(t, apperr.EInvalid, apperr.ErrCode(err))
}

func TestDropDDL(t *testing.T) {
	stmt, err := DropDDL("tenant_acme")
	require.NoError(t, err)
	assert.Equal(t, `DROP SCHEMA IF EXISTS tenant_acme CASCADE`, stmt)

	_, err = DropDDL("public")
	assert.Error(t, err, "only allow-listed schemas may be dropped")
}

func TestBindSessionSQL(t *testing.T) {
	assert.Equal(t, `SELECT set_config('app.current_tenant_id', ?, true)`, BindSessionSQL())
}

func TestSearchPathSQL(t *testing.T) {
	stmt, err := SearchPathSQL("tenant_acme")
	require.NoError(t, err)
	assert.Equal(t, `SET LOCAL search_path TO tenant_acme`, stmt)

	_, err = SearchPathSQL("pg_catalog")
	assert.Error(t, err)
}
