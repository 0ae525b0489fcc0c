package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwire-data/migrator/domain/adapter"
)

func writeSpec(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadJobSpec_ParsesMinimalDocument(t *testing.T) {
	path := writeSpec(t, `
source:
  driver: postgres
  host: src.internal
  port: 5432
  database: legacy
  username: reader
target:
  driver: postgres
  host: dst.internal
  port: 5432
  database: warehouse
  username: writer
chunk_size: 50000
batch_size: 2000
validate_row_counts: true
tables:
  accounts:
    target_table: customers
    column_mapping:
      acct_id: customer_id
    transforms:
      acct_id: "acct_id | trim"
`)

	spec, err := LoadJobSpec(path)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), spec.ChunkSize)
	assert.Equal(t, 2000, spec.BatchSize)
	assert.True(t, spec.ValidateRowCounts)
	assert.Equal(t, "customers", spec.Tables["accounts"].TargetTable)
}

func TestLoadJobSpec_RejectsMissingFile(t *testing.T) {
	_, err := LoadJobSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadJobSpec_RejectsEmptyTables(t *testing.T) {
	path := writeSpec(t, `
source:
  driver: postgres
  host: src.internal
target:
  driver: postgres
  host: dst.internal
tables: {}
`)
	_, err := LoadJobSpec(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tables")
}

func TestTargetName_FallsBackToSourceName(t *testing.T) {
	m := TableMappings{"accounts": {TargetTable: "customers"}}
	assert.Equal(t, "customers", m.TargetName("accounts"))
	assert.Equal(t, "orders", m.TargetName("orders"))
}

func TestRemapColumn_AppliesColumnMappingOrPassesThrough(t *testing.T) {
	m := TableMappings{"accounts": {ColumnMapping: map[string]string{"acct_id": "customer_id"}}}
	assert.Equal(t, "customer_id", m.RemapColumn("accounts", "acct_id"))
	assert.Equal(t, "name", m.RemapColumn("accounts", "name"))
	assert.Equal(t, "name", m.RemapColumn("unmapped_table", "name"))
}

func TestTransform_ReturnsConfiguredExpression(t *testing.T) {
	m := TableMappings{"accounts": {Transforms: map[string]string{"acct_id": "acct_id | trim"}}}
	expr, ok := m.Transform("accounts", "acct_id")
	assert.True(t, ok)
	assert.Equal(t, "acct_id | trim", expr)

	_, ok = m.Transform("accounts", "name")
	assert.False(t, ok)
}

func TestValidateTarget_FailsOnUnsuppliedNotNullColumn(t *testing.T) {
	m := TableMappings{}
	source := &adapter.TableDescriptor{
		Name:    "accounts",
		Columns: []adapter.Column{{Name: "id"}},
	}
	target := &adapter.TableDescriptor{
		Name: "accounts",
		Columns: []adapter.Column{
			{Name: "id"},
			{Name: "email", Nullable: false, HasDefault: false},
		},
	}
	err := m.ValidateTarget("accounts", source, target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}

func TestValidateTarget_PassesWhenColumnHasDefaultOrIsNullable(t *testing.T) {
	m := TableMappings{}
	source := &adapter.TableDescriptor{
		Name:    "accounts",
		Columns: []adapter.Column{{Name: "id"}},
	}
	target := &adapter.TableDescriptor{
		Name: "accounts",
		Columns: []adapter.Column{
			{Name: "id"},
			{Name: "created_at", HasDefault: true},
			{Name: "nickname", Nullable: true},
		},
	}
	assert.NoError(t, m.ValidateTarget("accounts", source, target))
}

func TestValidateTarget_PassesWhenColumnMappingSuppliesIt(t *testing.T) {
	m := TableMappings{"accounts": {ColumnMapping: map[string]string{"acct_id": "customer_id"}}}
	source := &adapter.TableDescriptor{
		Name:    "accounts",
		Columns: []adapter.Column{{Name: "acct_id"}},
	}
	target := &adapter.TableDescriptor{
		Name: "accounts",
		Columns: []adapter.Column{
			{Name: "customer_id"},
		},
	}
	assert.NoError(t, m.ValidateTarget("accounts", source, target))
}
