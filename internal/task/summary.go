package task

import (
	"fmt"
	"sort"
	"time"
)

// RunSummary aggregates the results of a run. It is derived from the results
// and can be recomputed from them at any time.
type RunSummary struct {
	Total      int                   `json:"total"`
	Succeeded  int                   `json:"succeeded"`
	Failed     int                   `json:"failed"`
	ByCategory map[ErrorCategory]int `json:"byCategory"`
	Elapsed    time.Duration         `json:"elapsedNs"`
}

// Collect tallies results. Successes are counted under CategoryNone so that the
// category counts always add up to Total.
func Collect(results []TaskResult, elapsed time.Duration) RunSummary {
	summary := RunSummary{
		Total:      len(results),
		ByCategory: make(map[ErrorCategory]int, len(FailureCategories)+1),
		Elapsed:    elapsed,
	}
	for _, r := range results {
		if r.Succeeded {
			summary.Succeeded++
			summary.ByCategory[CategoryNone]++
			continue
		}
		category := r.Category
		if category == CategoryNone || !category.IsValid() {
			category = CategoryUnknown
		}
		summary.Failed++
		summary.ByCategory[category]++
	}
	return summary
}

// CategoryTotal returns the sum of all category counts.
func (s RunSummary) CategoryTotal() int {
	total := 0
	for _, count := range s.ByCategory {
		total += count
	}
	return total
}

// SuccessRate returns the success percentage, defined as 0 when Total is 0.
func (s RunSummary) SuccessRate() float64 {
	return successRate(s.Succeeded, s.Total)
}

// FailureBreakdown returns the count of every failure category sorted by
// category name, including categories with no failures.
func (s RunSummary) FailureBreakdown() []CategoryCount {
	breakdown := make([]CategoryCount, 0, len(FailureCategories))
	for _, c := range FailureCategories {
		breakdown = append(breakdown, CategoryCount{Category: c, Count: s.ByCategory[c]})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		return breakdown[i].Category < breakdown[j].Category
	})
	return breakdown
}

// CategoryCount pairs a category with its count.
type CategoryCount struct {
	Category ErrorCategory `json:"category"`
	Count    int           `json:"count"`
}

// FormatRate renders succeeded/total as a percentage with one decimal place.
// A zero total renders as "0.0%".
func FormatRate(succeeded, total int) string {
	return fmt.Sprintf("%.1f%%", successRate(succeeded, total))
}

func successRate(succeeded, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(succeeded) / float64(total) * 100
}
