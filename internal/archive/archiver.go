package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const resultLogContentType = "application/x-ndjson"

// Archiver uploads run result logs to a StorageDriver.
type Archiver struct {
	Driver    StorageDriver
	URLExpiry time.Duration
}

func NewArchiver(driver StorageDriver, urlExpiry time.Duration) *Archiver {
	return &Archiver{Driver: driver, URLExpiry: urlExpiry}
}

// Key returns the storage key of a run's result log.
func Key(runID uuid.UUID) string {
	return fmt.Sprintf("runs/%s.jsonl", runID)
}

// Archive stores the result log at path and returns a URL for it. The stored
// object is removed again when no URL can be produced.
func (a *Archiver) Archive(ctx context.Context, runID uuid.UUID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open result log: %w", err)
	}
	defer f.Close()

	key := Key(runID)
	if err := a.Driver.Save(ctx, key, f, resultLogContentType); err != nil {
		return "", fmt.Errorf("storage driver failed: %w", err)
	}

	url, err := a.Driver.GenerateURL(ctx, key, a.URLExpiry)
	if err != nil {
		if delErr := a.Driver.Delete(ctx, key); delErr != nil {
			slog.WarnContext(ctx, "failed to cleanup orphaned result log", "key", key, "error", delErr)
		}
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	slog.InfoContext(ctx, "result log archived", "runID", runID, "key", key)
	return url, nil
}

// Open streams an archived result log back.
func (a *Archiver) Open(ctx context.Context, runID uuid.UUID) (io.ReadCloser, string, error) {
	return a.Driver.Get(ctx, Key(runID))
}
