package plugin

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/OpenNSW/batchrun/internal/task"
)

const (
	DefaultAttemptTimeout = 30 * time.Second
	MaxAttemptTimeout     = 40 * time.Second
	DefaultMaxBodyBytes   = 64 << 10
	DefaultRefreshBackoff = 500 * time.Millisecond
)

// Config holds the settings shared by network executors.
type Config struct {
	Endpoints      []string
	AttemptTimeout time.Duration
	MaxRefreshes   int
	RefreshBackoff time.Duration
	MaxBodyBytes   int64
	TokenURL       string // empty uses the identity as a bearer token
}

// AttemptObserver is notified of every fallback attempt.
type AttemptObserver interface {
	ObserveAttempt(action, verdict string)
}

// TaskFactory creates a new executor for every work item.
type TaskFactory interface {
	// Check reports whether action can run against target with this configuration.
	Check(action task.Action, target task.Target) error
	BuildExecutor(ctx context.Context, action task.Action, target task.Target) (task.ExecutionUnit, error)
}

// FactoryOption customises a factory.
type FactoryOption func(*taskFactory)

// WithAttemptObserver reports every attempt to observer.
func WithAttemptObserver(observer AttemptObserver) FactoryOption {
	return func(f *taskFactory) {
		f.observer = observer
	}
}

// WithSessionSource overrides the session source derived from Config.TokenURL.
func WithSessionSource(source SessionSource) FactoryOption {
	return func(f *taskFactory) {
		f.session = source
	}
}

type taskFactory struct {
	config   Config
	session  SessionSource
	observer AttemptObserver
}

// NewTaskFactory creates a new TaskFactory instance
func NewTaskFactory(cfg Config, opts ...FactoryOption) TaskFactory {
	cfg.AttemptTimeout = clampAttemptTimeout(cfg.AttemptTimeout)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RefreshBackoff <= 0 {
		cfg.RefreshBackoff = DefaultRefreshBackoff
	}
	if cfg.MaxRefreshes < 0 {
		cfg.MaxRefreshes = 0
	}
	f := &taskFactory{config: cfg}
	if cfg.TokenURL != "" {
		f.session = TokenExchange{URL: cfg.TokenURL, MaxBodyBytes: cfg.MaxBodyBytes}
	} else {
		f.session = StaticBearer{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func clampAttemptTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultAttemptTimeout
	}
	return min(d, MaxAttemptTimeout)
}

func (f *taskFactory) Check(action task.Action, target task.Target) error {
	switch action {
	case task.ActionValidate:
		return nil
	case task.ActionDispatch, task.ActionStatus:
		if target.Descriptor == "" {
			return task.ErrMissingTarget
		}
		if len(f.config.Endpoints) == 0 {
			return fmt.Errorf("action %s requires at least one endpoint", action)
		}
		for _, endpoint := range f.config.Endpoints {
			u, err := url.Parse(endpoint)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid endpoint %q: must be an absolute http(s) URL", endpoint)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", task.ErrUnknownAction, action)
	}
}

func (f *taskFactory) BuildExecutor(_ context.Context, action task.Action, target task.Target) (task.ExecutionUnit, error) {
	switch action {
	case task.ActionValidate:
		return ValidateTask{}, nil
	case task.ActionDispatch, task.ActionStatus:
		return NewHTTPTask(action, target, f.config, f.session, f.observer)
	default:
		return nil, fmt.Errorf("%w: %s", task.ErrUnknownAction, action)
	}
}

// Builder binds the factory to one action and target for use by a task.Pool.
func Builder(f TaskFactory, action task.Action, target task.Target) task.UnitBuilder {
	return func(ctx context.Context, _ task.WorkItem) (task.ExecutionUnit, error) {
		return f.BuildExecutor(ctx, action, target)
	}
}
