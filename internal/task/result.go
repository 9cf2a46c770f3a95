package task

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// TaskResult is the outcome of executing one WorkItem. It is created once and
// never modified.
type TaskResult struct {
	ItemID      uuid.UUID     `json:"itemId"`
	Seq         int           `json:"seq"`
	IdentityRef string        `json:"identityRef"`
	Succeeded   bool          `json:"succeeded"`
	Message     string        `json:"message"`
	Category    ErrorCategory `json:"category,omitempty"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"durationNs"`
}

func newResult(item WorkItem, startedAt time.Time) TaskResult {
	return TaskResult{
		ItemID:      item.ID,
		Seq:         item.Seq,
		IdentityRef: item.Ref(),
		StartedAt:   startedAt,
	}
}

func (r TaskResult) succeed(res *ExecutionResult) TaskResult {
	r.Succeeded = true
	r.Category = CategoryNone
	r.Message = res.Message
	r.Attempts = res.Attempts
	return r.complete()
}

func (r TaskResult) fail(category ErrorCategory, message string, attempts int) TaskResult {
	if category == CategoryNone || !category.IsValid() {
		category = CategoryUnknown
	}
	r.Succeeded = false
	r.Category = category
	r.Message = message
	r.Attempts = attempts
	return r.complete()
}

func (r TaskResult) complete() TaskResult {
	r.CompletedAt = time.Now().UTC()
	if !r.StartedAt.IsZero() {
		r.Duration = r.CompletedAt.Sub(r.StartedAt)
	}
	return r
}

// SortResults orders results by submission sequence.
func SortResults(results []TaskResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Seq < results[j].Seq
	})
}
