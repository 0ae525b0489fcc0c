package worker

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/mapping"
)

// transformer applies column remapping and the opaque per-column transform
// expressions of the table-mapping language (§6). Transform expressions are
// compiled once per chunk (executeChunk builds a new transformer) and reused
// across every row of that chunk.
type transformer struct {
	sourceTable string
	mappings    mapping.TableMappings
	programs    map[string]*vm.Program
}

func newTransformer(sourceTable string, mappings mapping.TableMappings) (*transformer, error) {
	t := &transformer{sourceTable: sourceTable, mappings: mappings, programs: map[string]*vm.Program{}}

	// Compile every transform configured for this table up front so a bad
	// expression fails the chunk immediately rather than mid-stream.
	if entry, ok := mappings[sourceTable]; ok {
		for col, exprStr := range entry.Transforms {
			program, err := expr.Compile(exprStr, expr.AllowUndefinedVariables())
			if err != nil {
				return nil, &adapter.Error{Kind: adapter.KindTypeMismatch, Table: sourceTable,
					Message: fmt.Sprintf("invalid transform for column %s", col), Cause: err}
			}
			t.programs[col] = program
		}
	}
	return t, nil
}

// apply remaps column names and evaluates configured transforms, returning
// the row shaped for the target table's BulkInsert.
func (t *transformer) apply(row adapter.Row) (adapter.Row, error) {
	out := make(adapter.Row, len(row))
	for col, val := range row {
		if program, ok := t.programs[col]; ok {
			result, err := expr.Run(program, map[string]any{"value": val, "row": map[string]any(row)})
			if err != nil {
				return nil, &adapter.Error{Kind: adapter.KindTypeMismatch, Table: t.sourceTable,
					Message: fmt.Sprintf("transform failed for column %s", col), Cause: err}
			}
			val = result
		}
		out[t.mappings.RemapColumn(t.sourceTable, col)] = val
	}
	return out, nil
}
