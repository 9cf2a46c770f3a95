// Package fallback implements the ordered "try each parameter until one works"
// policy used by network executors.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/OpenNSW/batchrun/internal/task"
)

// Verdict classifies the outcome of a single attempt.
type Verdict int

const (
	// Succeeded stops the policy with success.
	Succeeded Verdict = iota
	// NextFallback means the current parameter is invalid or stale.
	NextFallback
	// TransportFailed covers timeouts, connection errors and overloaded servers.
	TransportFailed
	// SessionRejected means the identity itself was refused.
	SessionRejected
	// RefreshSession means the session tokens are stale and the same parameter
	// may succeed after a refresh.
	RefreshSession
)

func (v Verdict) String() string {
	switch v {
	case Succeeded:
		return "succeeded"
	case NextFallback:
		return "next_fallback"
	case TransportFailed:
		return "transport_failed"
	case SessionRejected:
		return "session_rejected"
	case RefreshSession:
		return "refresh_session"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Outcome is returned by a single attempt.
type Outcome struct {
	Verdict Verdict
	Message string
	Err     error
}

func (o Outcome) describe() string {
	switch {
	case o.Message != "" && o.Err != nil:
		return fmt.Sprintf("%s: %v", o.Message, o.Err)
	case o.Err != nil:
		return o.Err.Error()
	default:
		return o.Message
	}
}

// TryFunc performs one attempt with param.
type TryFunc[P any] func(ctx context.Context, param P) Outcome

// Policy tunes session refresh handling and attempt reporting.
type Policy struct {
	// MaxRefreshes bounds RefreshSession retries across the whole attempt.
	MaxRefreshes int
	// Refresh obtains new session tokens. A nil Refresh turns RefreshSession
	// into SessionRejected.
	Refresh func(ctx context.Context) error
	// Backoff builds the retry schedule for a refresh that fails with a
	// TransientFailure. Nil means a single refresh try.
	Backoff func() backoff.BackOff
	// OnAttempt, if set, is called after every attempt.
	OnAttempt func(index int, outcome Outcome)
}

// Result is the final outcome of Attempt.
type Result struct {
	Succeeded bool
	Message   string
	Category  task.ErrorCategory
	Attempts  int
	Index     int // index of the parameter that produced the result, -1 if none
}

// Err converts a failed Result into a *task.Error, or returns nil on success.
func (r Result) Err() error {
	if r.Succeeded {
		return nil
	}
	return &task.Error{Category: r.Category, Message: r.Message, Attempts: r.Attempts}
}

// Attempt tries params in order following the verdict of each attempt:
// success and session rejection stop immediately, NextFallback and
// TransportFailed move on, RefreshSession retries the same parameter after a
// refresh. Exhausting the list is an OperationFailure unless the last attempt
// failed at the transport level, which is a TransientFailure.
func Attempt[P any](ctx context.Context, params []P, try TryFunc[P], policy Policy) Result {
	if len(params) == 0 {
		return Result{
			Category: task.CategoryOperationFailure,
			Message:  "no fallbacks configured",
			Index:    -1,
		}
	}

	attempts := 0
	refreshes := 0
	var last Outcome

	for i := 0; i < len(params); i++ {
		if err := ctx.Err(); err != nil {
			return Result{
				Category: task.CategoryTransientFailure,
				Message:  fmt.Sprintf("stopped before fallback %d: %v", i+1, err),
				Attempts: attempts,
				Index:    i - 1,
			}
		}

		attempts++
		last = try(ctx, params[i])
		if policy.OnAttempt != nil {
			policy.OnAttempt(i, last)
		}

		switch last.Verdict {
		case Succeeded:
			return Result{Succeeded: true, Message: last.describe(), Attempts: attempts, Index: i}

		case SessionRejected:
			return Result{
				Category: task.CategoryAuthFailure,
				Message:  last.describe(),
				Attempts: attempts,
				Index:    i,
			}

		case RefreshSession:
			if policy.Refresh == nil || refreshes >= policy.MaxRefreshes {
				return Result{
					Category: task.CategoryAuthFailure,
					Message:  fmt.Sprintf("session still rejected after %d refreshes: %s", refreshes, last.describe()),
					Attempts: attempts,
					Index:    i,
				}
			}
			refreshes++
			if err := refreshSession(ctx, policy); err != nil {
				category := task.CategoryOf(err)
				if ctx.Err() != nil {
					category = task.CategoryTransientFailure
				}
				return Result{
					Category: category,
					Message:  "session refresh failed: " + err.Error(),
					Attempts: attempts,
					Index:    i,
				}
			}
			slog.DebugContext(ctx, "retrying fallback with refreshed session",
				"fallback", i+1,
				"refresh", refreshes)
			i-- // retry the same parameter

		case NextFallback, TransportFailed:
			slog.DebugContext(ctx, "fallback attempt failed",
				"fallback", i+1,
				"of", len(params),
				"verdict", last.Verdict.String(),
				"message", last.describe())

		default:
			return Result{
				Category: task.CategoryUnknown,
				Message:  fmt.Sprintf("unclassified attempt outcome %s: %s", last.Verdict, last.describe()),
				Attempts: attempts,
				Index:    i,
			}
		}
	}

	if last.Verdict == TransportFailed {
		return Result{
			Category: task.CategoryTransientFailure,
			Message:  fmt.Sprintf("all %d fallbacks failed, last: %s", len(params), last.describe()),
			Attempts: attempts,
			Index:    len(params) - 1,
		}
	}
	return Result{
		Category: task.CategoryOperationFailure,
		Message:  fmt.Sprintf("all %d fallbacks rejected, last: %s", len(params), last.describe()),
		Attempts: attempts,
		Index:    len(params) - 1,
	}
}

// refreshSession calls policy.Refresh, retrying transient failures on the
// policy's backoff schedule until it returns backoff.Stop.
func refreshSession(ctx context.Context, policy Policy) error {
	var schedule backoff.BackOff = &backoff.StopBackOff{}
	if policy.Backoff != nil {
		schedule = policy.Backoff()
	}
	tries := 0
	return backoff.RetryNotify(func() error {
		tries++
		err := policy.Refresh(ctx)
		if err != nil && task.CategoryOf(err) != task.CategoryTransientFailure {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(schedule, ctx), func(err error, wait time.Duration) {
		slog.DebugContext(ctx, "session refresh failed, retrying",
			"try", tries,
			"wait", wait,
			"error", err)
	})
}
