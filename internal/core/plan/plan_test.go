package plan

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

func mkUnits(n int) []domain.Unit {
	units := make([]domain.Unit, n)
	for i := range units {
		units[i] = domain.Unit{ID: fmt.Sprintf("u%d", i+1)}
	}
	return units
}

func TestPartition_SevenByThree(t *testing.T) {
	batches := Partition(mkUnits(7), 3)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)

	assert.Equal(t, "u1", batches[0][0].ID)
	assert.Equal(t, "u4", batches[1][0].ID)
	assert.Equal(t, "u7", batches[2][0].ID)
}

func TestPartition_ExactMultiple(t *testing.T) {
	batches := Partition(mkUnits(6), 3)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
}

func TestPartition_SizeLargerThanInput(t *testing.T) {
	batches := Partition(mkUnits(2), 5)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestPartition_NonPositiveSize(t *testing.T) {
	batches := Partition(mkUnits(4), 0)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 4)
}

func TestPartition_Empty(t *testing.T) {
	assert.Nil(t, Partition(nil, 3))
}

func TestUnitBudget_FlatDivision(t *testing.T) {
	assert.Equal(t, 10*time.Minute, UnitBudget(30*time.Minute, 3))
	assert.Equal(t, 30*time.Minute, UnitBudget(30*time.Minute, 1))
}

func TestUnitBudget_IgnoresActualBatchSize(t *testing.T) {
	// A trailing batch with a single unit still gets timeout/batchSize.
	assert.Equal(t, 10*time.Minute, UnitBudget(30*time.Minute, 3))
}

func TestUnitBudget_NonPositiveBatchSize(t *testing.T) {
	assert.Equal(t, time.Minute, UnitBudget(time.Minute, 0))
}

func TestShouldContinue(t *testing.T) {
	tests := []struct {
		name       string
		successful int
		failed     int
		threshold  float64
		want       bool
	}{
		{"all pass", 3, 0, 0.5, true},
		{"one of three fails", 2, 1, 0.5, true},
		{"two of three fail", 1, 2, 0.5, false},
		{"exactly at threshold", 1, 1, 0.5, true},
		{"zero threshold tolerates nothing", 2, 1, 0, false},
		{"empty batch", 0, 0, 0.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := domain.BatchResult{
				Size:       tt.successful + tt.failed,
				Successful: make([]domain.UnitResult, tt.successful),
				Failed:     make([]domain.UnitResult, tt.failed),
			}
			assert.Equal(t, tt.want, ShouldContinue(result, tt.threshold))
		})
	}
}
