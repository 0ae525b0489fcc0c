// Package mapping parses the table-mapping language and job spec of §6: a
// YAML document naming the source and target connection descriptors and,
// per source table, the target table name plus optional column remapping
// and transforms.
package mapping

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coldwire-data/migrator/domain/adapter"
)

// TableMapping is one entry of the table-mapping language.
type TableMapping struct {
	TargetTable   string            `yaml:"target_table" json:"target_table"`
	ColumnMapping map[string]string `yaml:"column_mapping,omitempty" json:"column_mapping,omitempty"`
	Transforms    map[string]string `yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// TableMappings is the full set of entries keyed by source table name.
// A source table absent from the map is passed through one-to-one.
type TableMappings map[string]TableMapping

// JobSpec is the YAML document consumed by `migrate plan <job.yaml>`.
type JobSpec struct {
	Source              adapter.ConnDescriptor `yaml:"source"`
	Target              adapter.ConnDescriptor `yaml:"target"`
	ChunkSize           int64                  `yaml:"chunk_size"`
	BatchSize           int                    `yaml:"batch_size"`
	FailureThresholdPct float64                `yaml:"failure_threshold_percent"`
	ValidateRowCounts   bool                   `yaml:"validate_row_counts"`
	Tables              TableMappings          `yaml:"tables"`
}

// LoadJobSpec reads and parses a job spec file.
func LoadJobSpec(path string) (*JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read job spec: %w", err)
	}
	var spec JobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("mapping: parse job spec: %w", err)
	}
	if len(spec.Tables) == 0 {
		return nil, fmt.Errorf("mapping: job spec names no tables")
	}
	return &spec, nil
}

// SourceTables returns the tables the planner should enumerate: explicit
// mapping keys take precedence, falling back to the adapter's full table
// discovery when the job spec maps none explicitly (e.g. a wildcard "copy
// everything" job — not part of the minimal table-mapping language of §6,
// but a natural extension since DiscoverTables already exists).
func (m TableMappings) SourceTables(ctx context.Context, src adapter.Adapter) ([]string, error) {
	if len(m) > 0 {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		return names, nil
	}
	return src.DiscoverTables(ctx)
}

// TargetName resolves the target table for a source table: the explicit
// target_table when mapped, otherwise the identical name (§6: "missing
// entries mean map one-to-one with identical names").
func (m TableMappings) TargetName(sourceTable string) string {
	if entry, ok := m[sourceTable]; ok && entry.TargetTable != "" {
		return entry.TargetTable
	}
	return sourceTable
}

// ValidateTarget enforces the planner-time rule of §6: a target column that
// is NOT NULL without a default, and that no source column (directly or via
// column_mapping) supplies, is a planner-time error for sourceTable.
func (m TableMappings) ValidateTarget(sourceTable string, sourceDesc, targetDesc *adapter.TableDescriptor) error {
	supplied := make(map[string]bool, len(sourceDesc.Columns))
	for _, col := range sourceDesc.Columns {
		supplied[m.RemapColumn(sourceTable, col.Name)] = true
	}

	for _, col := range targetDesc.Columns {
		if col.Nullable || col.HasDefault || supplied[col.Name] {
			continue
		}
		return fmt.Errorf("mapping: target column %s.%s is NOT NULL without a default and is not supplied by table %s",
			targetDesc.Name, col.Name, sourceTable)
	}
	return nil
}

// Transform returns the opaque transform expression configured for a
// source column, if any.
func (m TableMappings) Transform(sourceTable, sourceColumn string) (string, bool) {
	entry, ok := m[sourceTable]
	if !ok {
		return "", false
	}
	expr, ok := entry.Transforms[sourceColumn]
	return expr, ok
}

// RemapColumn returns the target column name for a source column, applying
// column_mapping when present.
func (m TableMappings) RemapColumn(sourceTable, sourceColumn string) string {
	entry, ok := m[sourceTable]
	if !ok {
		return sourceColumn
	}
	if tgt, ok := entry.ColumnMapping[sourceColumn]; ok {
		return tgt
	}
	return sourceColumn
}
