// Package planner turns a job spec into the initial set of chunks,
// deterministically and without executing any data movement (§4.3).
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/mapping"
	"github.com/coldwire-data/migrator/pkg/logger"
)

const defaultChunkSize int64 = 100_000

// Planner decomposes a job into tables and chunks (§4.3) and writes the
// result atomically through the catalog repository.
type Planner struct {
	catalog   *catalog.Repository
	newSource func(ctx context.Context, desc adapter.ConnDescriptor, log *slog.Logger) (adapter.Adapter, error)
	log       *slog.Logger
}

// New constructs a Planner. newSource is injected so tests can supply a fake
// adapter without a live database.
func New(repo *catalog.Repository, newSource func(ctx context.Context, desc adapter.ConnDescriptor, log *slog.Logger) (adapter.Adapter, error), log *slog.Logger) *Planner {
	return &Planner{catalog: repo, newSource: newSource, log: log.With(logger.Scope("planner"))}
}

// Plan enumerates tables, discovers each table's pk column, decides chunk
// boundaries, and writes the initial catalog rows for jobID. chunkSize of
// zero selects the default of 100,000 rows (§4.3).
func (p *Planner) Plan(ctx context.Context, jobID string, source, target adapter.ConnDescriptor, mappings mapping.TableMappings, chunkSize int64) error {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	src, err := p.newSource(ctx, source, p.log)
	if err != nil {
		return fmt.Errorf("planner: open source adapter: %w", err)
	}
	defer src.Close()

	tgt, err := p.newSource(ctx, target, p.log)
	if err != nil {
		return fmt.Errorf("planner: open target adapter: %w", err)
	}
	defer tgt.Close()

	tableNames, err := mappings.SourceTables(ctx, src)
	if err != nil {
		return fmt.Errorf("planner: discover tables: %w", err)
	}

	specs := make([]catalog.TableSpec, 0, len(tableNames))
	anyPlannable := false

	for _, name := range tableNames {
		spec, err := p.planTable(ctx, src, tgt, name, mappings, chunkSize)
		if err != nil {
			p.log.Warn("table failed to plan", logger.Error(err), slog.String("table", name))
			specs = append(specs, catalog.TableSpec{Name: name, TargetName: mappings.TargetName(name), FailureReason: err.Error()})
			continue
		}
		anyPlannable = true
		specs = append(specs, spec)
	}

	if !anyPlannable {
		p.log.Error("every table failed to plan; job will be marked failed", slog.String("job_id", jobID))
	}

	if err := p.catalog.InsertTablesAndChunks(ctx, jobID, specs); err != nil {
		return fmt.Errorf("planner: write plan: %w", err)
	}
	if !anyPlannable {
		return p.catalog.FailJob(ctx, jobID, "no table in the job spec could be planned")
	}
	return nil
}

func (p *Planner) planTable(ctx context.Context, src, tgt adapter.Adapter, name string, mappings mapping.TableMappings, chunkSize int64) (catalog.TableSpec, error) {
	desc, err := src.DescribeTable(ctx, name)
	if err != nil {
		return catalog.TableSpec{}, fmt.Errorf("describe table: %w", err)
	}

	targetName := mappings.TargetName(name)
	targetDesc, err := tgt.DescribeTable(ctx, targetName)
	if err != nil {
		return catalog.TableSpec{}, fmt.Errorf("describe target table %s: %w", targetName, err)
	}
	if err := mappings.ValidateTarget(name, desc, targetDesc); err != nil {
		return catalog.TableSpec{}, err
	}

	if err := requireIntegerPK(desc); err != nil {
		// §4.3: "if the table lacks a single-column integer-orderable
		// primary key, the planner fails the table with a recorded
		// reason and continues" — PlannerPrerequisite (§7).
		return catalog.TableSpec{}, err
	}

	spec := catalog.TableSpec{
		Name:             name,
		TargetName:       mappings.TargetName(name),
		PKColumn:         desc.PKColumn,
		RowCountEstimate: desc.RowCountEstimate,
	}

	if desc.RowCountEstimate <= 0 {
		// §4.3 step 2: empty table — skip chunk creation entirely rather
		// than a sentinel chunk, so job counters are never inflated.
		return spec, nil
	}

	lo, hi, err := src.PKBounds(ctx, name, desc.PKColumn)
	if err != nil {
		return catalog.TableSpec{}, fmt.Errorf("pk bounds: %w", err)
	}
	if hi < lo {
		return spec, nil
	}

	spec.Chunks = BuildChunks(lo, hi, desc.RowCountEstimate, chunkSize)
	return spec, nil
}

func requireIntegerPK(desc *adapter.TableDescriptor) error {
	if desc.PKColumn == "" {
		return fmt.Errorf("planner: table %s has no single-column primary key", desc.Name)
	}
	for _, c := range desc.Columns {
		if c.Name != desc.PKColumn {
			continue
		}
		if !isIntegerType(c.DBType) {
			return fmt.Errorf("planner: table %s primary key %s is not integer-orderable (type %s)", desc.Name, c.Name, c.DBType)
		}
		return nil
	}
	return fmt.Errorf("planner: table %s primary key column %s not found among its columns", desc.Name, desc.PKColumn)
}

func isIntegerType(dbType string) bool {
	switch dbType {
	case "int2", "int4", "int8", "smallint", "integer", "bigint",
		"int", "tinyint", "mediumint", "serial", "bigserial":
		return true
	default:
		return false
	}
}

// BuildChunks splits [minPk, maxPk] into ceil(rowCount/chunkSize) ranges of
// approximately equal pk width. Boundaries are half-open [lo, hi) except
// the last, which is [lo, maxPk] inclusive (§4.3), so every row belongs to
// exactly one chunk and the chunks cover [minPk, maxPk] with no gaps or
// overlaps (§8 chunk coverage).
//
// Chunk.PKEnd is stored as the inclusive upper bound the adapter scans
// (ScanRange takes a closed [lo, hi] range); the half-open math below
// computes boundaries as exclusive and then subtracts one for every chunk
// but the last, which keeps adjacent chunks from double-counting the
// boundary row.
func BuildChunks(minPk, maxPk, rowCount, chunkSize int64) []catalog.ChunkSpec {
	if maxPk < minPk || rowCount <= 0 || chunkSize <= 0 {
		return nil
	}

	numChunks := (rowCount + chunkSize - 1) / chunkSize
	if numChunks < 1 {
		numChunks = 1
	}

	span := maxPk - minPk + 1
	width := span / numChunks
	if width < 1 {
		width = 1
		numChunks = span
	}

	chunks := make([]catalog.ChunkSpec, 0, numChunks)
	lo := minPk
	for i := int64(0); i < numChunks; i++ {
		var hi int64
		if i == numChunks-1 {
			hi = maxPk
		} else {
			hi = lo + width - 1
			if hi > maxPk {
				hi = maxPk
			}
		}
		chunks = append(chunks, catalog.ChunkSpec{PKStart: lo, PKEnd: hi})
		lo = hi + 1
		if lo > maxPk {
			break
		}
	}
	return chunks
}
