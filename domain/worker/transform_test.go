package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/mapping"
)

func TestTransformer_RemapsColumnsPassthroughWhenUnmapped(t *testing.T) {
	mappings := mapping.TableMappings{
		"users": mapping.TableMapping{
			TargetTable:   "customers",
			ColumnMapping: map[string]string{"id": "customer_id"},
		},
	}
	tf, err := newTransformer("users", mappings)
	require.NoError(t, err)

	out, err := tf.apply(adapter.Row{"id": 1, "email": "a@example.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, out["customer_id"])
	assert.Equal(t, "a@example.com", out["email"])
	_, hasOldKey := out["id"]
	assert.False(t, hasOldKey)
}

func TestTransformer_AppliesExpression(t *testing.T) {
	mappings := mapping.TableMappings{
		"users": mapping.TableMapping{
			Transforms: map[string]string{"email": "upper(value)"},
		},
	}
	tf, err := newTransformer("users", mappings)
	require.NoError(t, err)

	out, err := tf.apply(adapter.Row{"email": "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "A@EXAMPLE.COM", out["email"])
}

func TestTransformer_RejectsInvalidExpressionAtConstruction(t *testing.T) {
	mappings := mapping.TableMappings{
		"users": mapping.TableMapping{
			Transforms: map[string]string{"email": "this is not valid ((("},
		},
	}
	_, err := newTransformer("users", mappings)
	assert.Error(t, err)
}

func TestTransformer_NoMappingPassesThrough(t *testing.T) {
	tf, err := newTransformer("users", mapping.TableMappings{})
	require.NoError(t, err)

	out, err := tf.apply(adapter.Row{"id": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, out["id"])
}
