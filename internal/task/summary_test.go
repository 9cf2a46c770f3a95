package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	results := []TaskResult{
		{Seq: 1, Succeeded: true},
		{Seq: 2, Category: CategoryAuthFailure},
		{Seq: 3, Category: CategoryAuthFailure},
		{Seq: 4, Category: CategoryTransientFailure},
		{Seq: 5, Succeeded: true},
		{Seq: 6, Category: "Bogus"},
		{Seq: 7},
	}

	summary := Collect(results, 3*time.Second)

	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 5, summary.Failed)
	assert.Equal(t, 2, summary.ByCategory[CategoryNone])
	assert.Equal(t, 2, summary.ByCategory[CategoryAuthFailure])
	assert.Equal(t, 1, summary.ByCategory[CategoryTransientFailure])
	assert.Equal(t, 2, summary.ByCategory[CategoryUnknown])
	assert.Equal(t, summary.Total, summary.CategoryTotal())
	assert.Equal(t, 3*time.Second, summary.Elapsed)
}

func TestCollect_Empty(t *testing.T) {
	summary := Collect(nil, 0)

	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, summary.CategoryTotal())
	assert.Equal(t, float64(0), summary.SuccessRate())
}

func TestFailureBreakdown_SortedAndComplete(t *testing.T) {
	summary := Collect([]TaskResult{{Category: CategoryUnknown}, {Category: CategoryAuthFailure}}, 0)

	breakdown := summary.FailureBreakdown()

	assert.Len(t, breakdown, len(FailureCategories))
	for i := 1; i < len(breakdown); i++ {
		assert.Less(t, string(breakdown[i-1].Category), string(breakdown[i].Category))
	}
	assert.Equal(t, CategoryCount{Category: CategoryAuthFailure, Count: 1}, breakdown[0])
	assert.Equal(t, CategoryCount{Category: CategoryInvalidIdentity, Count: 0}, breakdown[1])
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "0.0%", FormatRate(0, 0))
	assert.Equal(t, "0.0%", FormatRate(0, 5))
	assert.Equal(t, "100.0%", FormatRate(4, 4))
	assert.Equal(t, "66.7%", FormatRate(2, 3))
}
