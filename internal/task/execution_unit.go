package task

import (
	"context"
)

// ExecutionUnit performs the work for a single item. A unit is built for exactly
// one WorkItem and must not share mutable state with any other unit.
type ExecutionUnit interface {
	// Execute performs the task's work and returns the result
	Execute(ctx context.Context, item WorkItem) (*ExecutionResult, error)
}

// ExecutionResult represents the outcome of a successful execution.
// Failures are reported through the returned error, preferably a *Error.
type ExecutionResult struct {
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts"`
}

// UnitBuilder returns a fresh ExecutionUnit for one item.
type UnitBuilder func(ctx context.Context, item WorkItem) (ExecutionUnit, error)

// ExecutionUnitFunc adapts a function to ExecutionUnit.
type ExecutionUnitFunc func(ctx context.Context, item WorkItem) (*ExecutionResult, error)

func (f ExecutionUnitFunc) Execute(ctx context.Context, item WorkItem) (*ExecutionResult, error) {
	return f(ctx, item)
}
