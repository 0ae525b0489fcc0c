package worker

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/coldwire-data/migrator/domain/adapter"
)

// checksumAccumulator folds a per-row FNV-1a hash into an order-independent
// total (§4.5 step 7 supplement): rows are summed rather than concatenated
// so the result is stable across engines that do not guarantee the same
// physical scan order for an identical pk range.
type checksumAccumulator struct {
	total uint64
}

func (c *checksumAccumulator) add(row adapter.Row) {
	c.total += hashRow(row)
}

func (c *checksumAccumulator) checksum() string {
	return fmt.Sprintf("%016x", c.total)
}

func hashRow(row adapter.Row) uint64 {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		fmt.Fprintf(h, "%v", row[k])
		h.Write([]byte{0})
	}
	return h.Sum64()
}
