package batchctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDecide_GrowthMatchesScenario reproduces §8 scenario 4: batch 5,000,
// avg_latency 60ms (target 200ms) → new batch 7,500.
func TestDecide_GrowthMatchesScenario(t *testing.T) {
	d := Decide(5000, 60, 200)
	assert.Equal(t, 5000, d.OldBatch)
	assert.Equal(t, 7500, d.NewBatch)
	assert.Contains(t, d.Reason, "below target")
}

func TestDecide_ShrinksAboveThreshold(t *testing.T) {
	d := Decide(10000, 500, 200) // 500 > 1.5*200=300
	assert.Equal(t, 5000, d.NewBatch)
	assert.Contains(t, d.Reason, "above target")
}

func TestDecide_UnchangedWithinBand(t *testing.T) {
	d := Decide(5000, 250, 200) // between 100 and 300
	assert.Equal(t, 5000, d.NewBatch)
	assert.Contains(t, d.Reason, "within target")
}

func TestDecide_GrowthCapsAtMax(t *testing.T) {
	d := Decide(49000, 10, 200)
	assert.Equal(t, MaxBatch, d.NewBatch)
}

func TestDecide_ShrinkFloorsAtMin(t *testing.T) {
	d := Decide(600, 10000, 200)
	assert.Equal(t, MinBatch, d.NewBatch)
}

func TestDecide_NoOpWhenAlreadyAtMax(t *testing.T) {
	d := Decide(MaxBatch, 1, 200)
	assert.Equal(t, MaxBatch, d.NewBatch)
	assert.Equal(t, MaxBatch, d.OldBatch)
}
