package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/OpenNSW/batchrun/internal/config"
	"github.com/OpenNSW/batchrun/internal/report"
	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/internal/task/persistence"
	"github.com/OpenNSW/batchrun/internal/task/plugin"
)

// RunRequest describes one batch run.
type RunRequest struct {
	Action      task.Action `json:"action"`
	Target      task.Target `json:"target"`
	Identities  []string    `json:"identities"`
	Concurrency int         `json:"concurrency"` // zero uses the configured default
}

// RunOptions controls the side outputs of a run.
type RunOptions struct {
	// ResultsPath overrides the configured JSON Lines result log location.
	ResultsPath string
	// OnResult is called once per completed item, from a single goroutine.
	OnResult func(result task.TaskResult, done, total int)
}

// RunOutcome is everything a finished run produced. LogErr, PersistErr and
// ArchiveErr report side-output failures that did not stop the run.
type RunOutcome struct {
	RunID       uuid.UUID         `json:"runId"`
	Action      task.Action       `json:"action"`
	Concurrency int               `json:"concurrency"`
	Summary     task.RunSummary   `json:"summary"`
	Results     []task.TaskResult `json:"results"`
	StartedAt   time.Time         `json:"startedAt"`
	LogPath     string            `json:"logPath,omitempty"`
	ArchiveURL  string            `json:"archiveUrl,omitempty"`
	LogErr      error             `json:"-"`
	PersistErr  error             `json:"-"`
	ArchiveErr  error             `json:"-"`
}

// ResultArchiver uploads a finished result log.
type ResultArchiver interface {
	Archive(ctx context.Context, runID uuid.UUID, path string) (string, error)
}

// ObserverProvider returns a pool observer for an action.
type ObserverProvider interface {
	ForAction(action task.Action) task.Observer
}

// RunManager validates run requests and drives them through the worker pool.
type RunManager interface {
	// Execute runs req to completion. Only invalid input is returned as an error;
	// per-item failures are reported in the outcome.
	Execute(ctx context.Context, req RunRequest, opts RunOptions) (*RunOutcome, error)
}

// Option customises a run manager.
type Option func(*runManager)

// WithStore persists every run to store.
func WithStore(store persistence.RunStoreInterface) Option {
	return func(m *runManager) {
		m.store = store
	}
}

// WithArchiver uploads every result log through archiver.
func WithArchiver(archiver ResultArchiver) Option {
	return func(m *runManager) {
		m.archiver = archiver
	}
}

// WithObservers reports pool activity to provider.
func WithObservers(provider ObserverProvider) Option {
	return func(m *runManager) {
		m.observers = provider
	}
}

type runManager struct {
	factory   plugin.TaskFactory
	cfg       config.RunnerConfig
	validator *task.IdentityValidator
	limiter   *rate.Limiter
	store     persistence.RunStoreInterface
	archiver  ResultArchiver
	observers ObserverProvider
}

// NewRunManager creates a RunManager that builds executors from factory.
func NewRunManager(factory plugin.TaskFactory, cfg config.RunnerConfig, opts ...Option) (RunManager, error) {
	if factory == nil {
		return nil, fmt.Errorf("task factory cannot be nil")
	}
	validator, err := task.NewIdentityValidator(cfg.IdentityPattern)
	if err != nil {
		return nil, err
	}

	m := &runManager{
		factory:   factory,
		cfg:       cfg,
		validator: validator,
	}
	if cfg.RateLimit > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *runManager) Execute(ctx context.Context, req RunRequest, opts RunOptions) (*RunOutcome, error) {
	if len(req.Identities) == 0 {
		return nil, task.ErrNoIdentities
	}
	action, err := task.ParseAction(string(req.Action))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", task.ErrUnknownAction, req.Action)
	}
	if err := m.factory.Check(action, req.Target); err != nil {
		return nil, err
	}

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = m.cfg.Concurrency
	}

	runID := uuid.New()
	items := task.NewWorkItems(req.Identities, req.Target)
	total := len(items)

	poolOpts := []task.PoolOption{}
	if m.limiter != nil {
		poolOpts = append(poolOpts, task.WithRateLimiter(m.limiter))
	}
	if m.observers != nil {
		poolOpts = append(poolOpts, task.WithObserver(m.observers.ForAction(action)))
	}
	if opts.OnResult != nil {
		done := 0
		poolOpts = append(poolOpts, task.WithResultHandler(func(r task.TaskResult) {
			done++
			opts.OnResult(r, done, total)
		}))
	}

	pool := task.NewPool(task.PoolConfig{
		Concurrency:    concurrency,
		MaxConcurrency: m.cfg.MaxConcurrency,
		Deadline:       m.cfg.Deadline,
		Validator:      m.validator,
	}, plugin.Builder(m.factory, action, req.Target), poolOpts...)

	slog.InfoContext(ctx, "run started",
		"runID", runID,
		"action", action,
		"items", total,
		"concurrency", pool.Concurrency())

	startedAt := time.Now().UTC()
	results := pool.Run(ctx, items)
	elapsed := time.Since(startedAt)
	task.SortResults(results)
	summary := task.Collect(results, elapsed)

	outcome := &RunOutcome{
		RunID:       runID,
		Action:      action,
		Concurrency: pool.Concurrency(),
		Summary:     summary,
		Results:     results,
		StartedAt:   startedAt,
	}

	slog.InfoContext(ctx, "run finished",
		"runID", runID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed", elapsed)

	// side outputs must not be skipped because the caller's context ended
	sideCtx := context.WithoutCancel(ctx)
	m.writeResultLog(sideCtx, outcome, opts.ResultsPath)
	m.archive(sideCtx, outcome)
	m.persist(sideCtx, outcome, req.Target)

	return outcome, nil
}

func (m *runManager) writeResultLog(ctx context.Context, outcome *RunOutcome, path string) {
	if path == "" {
		path = m.cfg.ResultsFile
	}
	temporary := false
	if path == "" && m.archiver != nil {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("batchrun-%s.jsonl", outcome.RunID))
		temporary = true
	}
	if path == "" {
		return
	}

	log, err := report.CreateResultLog(path)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create result log", "path", path, "error", err)
		outcome.LogErr = err
		return
	}
	writeErr := log.WriteAll(outcome.Results)
	closeErr := log.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		slog.ErrorContext(ctx, "failed to write result log", "path", path, "error", err)
		outcome.LogErr = err
		return
	}
	outcome.LogPath = path
	if temporary {
		// only kept long enough to upload
		outcome.LogPath = ""
		m.archiveFrom(ctx, outcome, path)
		if err := os.Remove(path); err != nil {
			slog.WarnContext(ctx, "failed to remove temporary result log", "path", path, "error", err)
		}
	}
}

func (m *runManager) archive(ctx context.Context, outcome *RunOutcome) {
	if m.archiver == nil || outcome.LogPath == "" {
		return
	}
	m.archiveFrom(ctx, outcome, outcome.LogPath)
}

func (m *runManager) archiveFrom(ctx context.Context, outcome *RunOutcome, path string) {
	url, err := m.archiver.Archive(ctx, outcome.RunID, path)
	if err != nil {
		slog.ErrorContext(ctx, "failed to archive result log", "runID", outcome.RunID, "error", err)
		outcome.ArchiveErr = err
		return
	}
	outcome.ArchiveURL = url
}

func (m *runManager) persist(ctx context.Context, outcome *RunOutcome, target task.Target) {
	if m.store == nil {
		return
	}
	run := &persistence.RunRecord{
		ID:          outcome.RunID,
		Action:      string(outcome.Action),
		Target:      target.Descriptor,
		Concurrency: outcome.Concurrency,
		Total:       outcome.Summary.Total,
		Succeeded:   outcome.Summary.Succeeded,
		Failed:      outcome.Summary.Failed,
		ElapsedMs:   outcome.Summary.Elapsed.Milliseconds(),
		ArchiveURL:  outcome.ArchiveURL,
		StartedAt:   outcome.StartedAt,
		CompletedAt: outcome.StartedAt.Add(outcome.Summary.Elapsed),
	}
	if err := m.store.SaveRun(ctx, run, outcome.Results); err != nil {
		slog.ErrorContext(ctx, "failed to persist run", "runID", outcome.RunID, "error", err)
		outcome.PersistErr = err
	}
}
