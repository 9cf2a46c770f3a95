package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/utils"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// RunRecord represents one execution of the worker pool.
type RunRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Action      string    `gorm:"type:varchar(32);not null" json:"action"`
	Target      string    `gorm:"type:varchar(512)" json:"target"`
	Concurrency int       `gorm:"not null" json:"concurrency"`
	Total       int       `gorm:"not null" json:"total"`
	Succeeded   int       `gorm:"not null" json:"succeeded"`
	Failed      int       `gorm:"not null" json:"failed"`
	ElapsedMs   int64     `gorm:"not null" json:"elapsedMs"`
	ArchiveURL  string    `gorm:"type:varchar(1024)" json:"archiveUrl,omitempty"`
	StartedAt   time.Time `gorm:"index;not null" json:"startedAt"`
	CompletedAt time.Time `gorm:"not null" json:"completedAt"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for RunRecord
func (RunRecord) TableName() string {
	return "batch_runs"
}

// ResultRecord is the stored form of a task.TaskResult. Identities are never
// stored, only their reference.
type ResultRecord struct {
	ItemID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID       uuid.UUID `gorm:"type:uuid;index;not null"`
	Seq         int       `gorm:"not null"`
	IdentityRef string    `gorm:"type:varchar(32);not null"`
	Succeeded   bool      `gorm:"not null"`
	Message     string    `gorm:"type:text"`
	Category    string    `gorm:"type:varchar(32)"`
	Attempts    int       `gorm:"not null"`
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
}

// TableName returns the table name for ResultRecord
func (ResultRecord) TableName() string {
	return "batch_results"
}

// NewResultRecord converts a task result for storage.
func NewResultRecord(runID uuid.UUID, r task.TaskResult) ResultRecord {
	return ResultRecord{
		ItemID:      r.ItemID,
		RunID:       runID,
		Seq:         r.Seq,
		IdentityRef: r.IdentityRef,
		Succeeded:   r.Succeeded,
		Message:     r.Message,
		Category:    string(r.Category),
		Attempts:    r.Attempts,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration.Milliseconds(),
	}
}

// TaskResult converts the record back to a task result.
func (r ResultRecord) TaskResult() task.TaskResult {
	return task.TaskResult{
		ItemID:      r.ItemID,
		Seq:         r.Seq,
		IdentityRef: r.IdentityRef,
		Succeeded:   r.Succeeded,
		Message:     r.Message,
		Category:    task.ErrorCategory(r.Category),
		Attempts:    r.Attempts,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    time.Duration(r.DurationMs) * time.Millisecond,
	}
}

// RunStoreInterface is the run history used by the run manager and the API.
type RunStoreInterface interface {
	SaveRun(ctx context.Context, run *RunRecord, results []task.TaskResult) error
	GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error)
	ListRuns(ctx context.Context, offset, limit *int) ([]RunRecord, int64, error)
	GetResults(ctx context.Context, runID uuid.UUID) ([]task.TaskResult, error)
}

// RunStore handles database operations for run history
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a RunStore on db and migrates its tables.
func NewRunStore(db *gorm.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if err := db.AutoMigrate(&RunRecord{}, &ResultRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &RunStore{db: db}, nil
}

const resultBatchSize = 100

// SaveRun stores the run and all of its results in one transaction.
func (s *RunStore) SaveRun(ctx context.Context, run *RunRecord, results []task.TaskResult) error {
	if run == nil || run.ID == uuid.Nil {
		return fmt.Errorf("run record requires an ID")
	}
	records := make([]ResultRecord, 0, len(results))
	for _, r := range results {
		records = append(records, NewResultRecord(run.ID, r))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, resultBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert results: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run by its ID
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	var run RunRecord
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns returns a page of runs, newest first, and the total number of runs.
func (s *RunStore) ListRuns(ctx context.Context, offset, limit *int) ([]RunRecord, int64, error) {
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&RunRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	var runs []RunRecord
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, total, nil
}

// GetResults retrieves the results of a run in submission order
func (s *RunStore) GetResults(ctx context.Context, runID uuid.UUID) ([]task.TaskResult, error) {
	var records []ResultRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	results := make([]task.TaskResult, 0, len(records))
	for _, r := range records {
		results = append(results, r.TaskResult())
	}
	return results, nil
}
