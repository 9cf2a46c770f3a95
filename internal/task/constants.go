package task

// Action represents the operation a run performs for every identity
type Action string

const (
	ActionValidate Action = "validate"
	ActionDispatch Action = "dispatch"
	ActionStatus   Action = "status"
)

// Actions lists every supported action in display order.
var Actions = []Action{ActionValidate, ActionDispatch, ActionStatus}

// ParseAction returns the Action named by s.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", ErrUnknownAction
}

// RequiresNetwork reports whether the action talks to remote endpoints.
func (a Action) RequiresNetwork() bool {
	return a == ActionDispatch || a == ActionStatus
}

// ErrorCategory classifies why a task failed. The zero value means the task succeeded.
type ErrorCategory string

const (
	CategoryNone             ErrorCategory = ""
	CategoryInvalidIdentity  ErrorCategory = "InvalidIdentity"
	CategoryAuthFailure      ErrorCategory = "AuthFailure"
	CategoryOperationFailure ErrorCategory = "OperationFailure"
	CategoryTransientFailure ErrorCategory = "TransientFailure"
	CategoryUnknown          ErrorCategory = "Unknown"
)

// FailureCategories is the closed set of failure categories, sorted by name.
var FailureCategories = []ErrorCategory{
	CategoryAuthFailure,
	CategoryInvalidIdentity,
	CategoryOperationFailure,
	CategoryTransientFailure,
	CategoryUnknown,
}

// IsValid reports whether c is None or one of FailureCategories.
func (c ErrorCategory) IsValid() bool {
	if c == CategoryNone {
		return true
	}
	for _, fc := range FailureCategories {
		if c == fc {
			return true
		}
	}
	return false
}

// MaxConcurrency is the hard ceiling on concurrently running tasks.
const MaxConcurrency = 20

// MaxIdentityLength bounds the accepted identity size in bytes.
const MaxIdentityLength = 4096
