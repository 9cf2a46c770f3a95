package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Observer receives pool activity. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveResult(result TaskResult)
	WorkerStarted()
	WorkerFinished()
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Concurrency    int
	MaxConcurrency int           // ceiling; values outside (0, MaxConcurrency] use MaxConcurrency
	Deadline       time.Duration // zero means no global deadline
	Validator      *IdentityValidator
}

// PoolOption customises a Pool.
type PoolOption func(*Pool)

// WithRateLimiter throttles the start of each task.
func WithRateLimiter(limiter *rate.Limiter) PoolOption {
	return func(p *Pool) {
		p.limiter = limiter
	}
}

// WithObserver attaches an Observer.
func WithObserver(observer Observer) PoolOption {
	return func(p *Pool) {
		p.observer = observer
	}
}

// WithResultHandler registers fn to be called for each result as it completes.
// Calls are made sequentially from a single goroutine.
func WithResultHandler(fn func(TaskResult)) PoolOption {
	return func(p *Pool) {
		p.onResult = fn
	}
}

// Pool runs work items with bounded concurrency. Every item gets its own
// ExecutionUnit from the builder; failures never abort the batch.
type Pool struct {
	concurrency int
	deadline    time.Duration
	validator   *IdentityValidator
	build       UnitBuilder
	limiter     *rate.Limiter
	observer    Observer
	onResult    func(TaskResult)
}

// ClampConcurrency bounds n to [1, ceiling]. A ceiling outside (0, MaxConcurrency]
// is replaced by MaxConcurrency.
func ClampConcurrency(n, ceiling int) int {
	if ceiling <= 0 || ceiling > MaxConcurrency {
		ceiling = MaxConcurrency
	}
	if n < 1 {
		return 1
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

// NewPool creates a Pool that builds units with build.
func NewPool(cfg PoolConfig, build UnitBuilder, opts ...PoolOption) *Pool {
	p := &Pool{
		concurrency: ClampConcurrency(cfg.Concurrency, cfg.MaxConcurrency),
		deadline:    cfg.Deadline,
		validator:   cfg.Validator,
		build:       build,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Concurrency returns the effective (clamped) concurrency.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

type indexedResult struct {
	index  int
	result TaskResult
}

// Run executes every item and returns exactly one result per item, in completion
// order. If ctx ends or the deadline passes first, unfinished items are reported
// as TransientFailure.
func (p *Pool) Run(ctx context.Context, items []WorkItem) []TaskResult {
	n := len(items)
	results := make([]TaskResult, 0, n)
	if n == 0 {
		return results
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.deadline)
	}
	defer cancel()

	// Buffered to n so workers never block once the collector has stopped reading.
	resultsCh := make(chan indexedResult, n)

	go func() {
		g := new(errgroup.Group)
		g.SetLimit(p.concurrency)
		for i, item := range items {
			if runCtx.Err() != nil {
				break
			}
			i, item := i, item
			g.Go(func() error {
				resultsCh <- indexedResult{index: i, result: p.runOne(runCtx, item)}
				return nil // Don't fail the whole group
			})
		}
		_ = g.Wait()
	}()

	seen := make([]bool, n)
	record := func(r indexedResult) {
		if seen[r.index] {
			return
		}
		seen[r.index] = true
		results = append(results, r.result)
		p.emit(r.result)
	}

	for len(results) < n {
		select {
		case r := <-resultsCh:
			record(r)
		case <-runCtx.Done():
			// keep whatever already finished, then fill the rest
		drain:
			for {
				select {
				case r := <-resultsCh:
					record(r)
				default:
					break drain
				}
			}
			reason := "run cancelled"
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				reason = "deadline exceeded"
			}
			missing := 0
			for i, item := range items {
				if seen[i] {
					continue
				}
				missing++
				record(indexedResult{
					index:  i,
					result: newResult(item, time.Time{}).fail(CategoryTransientFailure, reason, 0),
				})
			}
			if missing > 0 {
				slog.WarnContext(ctx, "run ended before all tasks completed",
					"reason", reason,
					"missing", missing,
					"total", n)
			}
			return results
		}
	}

	return results
}

func (p *Pool) emit(result TaskResult) {
	if p.observer != nil {
		p.observer.ObserveResult(result)
	}
	if p.onResult != nil {
		p.onResult(result)
	}
}

// runOne executes a single item, converting every error and panic into a result.
func (p *Pool) runOne(ctx context.Context, item WorkItem) (result TaskResult) {
	startedAt := time.Now().UTC()
	result = newResult(item, startedAt)

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "task panicked",
				"seq", item.Seq,
				"identityRef", item.Ref(),
				"panic", r,
				"stack", string(debug.Stack()))
			result = newResult(item, startedAt).fail(CategoryUnknown, fmt.Sprintf("panic: %v", r), 0)
		}
	}()

	if err := p.validator.Validate(item.Identity); err != nil {
		return result.fail(CategoryOf(err), err.Error(), 0)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return result.fail(CategoryTransientFailure, "rate limit wait: "+err.Error(), 0)
		}
	}
	if err := ctx.Err(); err != nil {
		return result.fail(CategoryTransientFailure, err.Error(), 0)
	}

	if p.observer != nil {
		p.observer.WorkerStarted()
		defer p.observer.WorkerFinished()
	}

	unit, err := p.build(ctx, item)
	if err != nil {
		return result.fail(CategoryOf(err), "failed to build executor: "+err.Error(), 0)
	}

	res, err := unit.Execute(ctx, item)
	if err != nil {
		slog.DebugContext(ctx, "task failed",
			"seq", item.Seq,
			"identityRef", item.Ref(),
			"category", CategoryOf(err),
			"error", err)
		return result.fail(CategoryOf(err), err.Error(), AttemptsOf(err))
	}
	if res == nil {
		res = &ExecutionResult{}
	}
	return result.succeed(res)
}
