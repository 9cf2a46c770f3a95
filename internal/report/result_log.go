package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/OpenNSW/batchrun/internal/task"
)

// ResultLog writes one JSON encoded TaskResult per line.
type ResultLog struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	path string
}

// CreateResultLog creates (or truncates) the log at path.
func CreateResultLog(path string) (*ResultLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create result log directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create result log: %w", err)
	}
	w := bufio.NewWriter(f)
	return &ResultLog{f: f, w: w, enc: json.NewEncoder(w), path: path}, nil
}

func (l *ResultLog) Path() string {
	return l.path
}

// Write appends result to the log.
func (l *ResultLog) Write(result task.TaskResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(result)
}

// WriteAll appends every result in order.
func (l *ResultLog) WriteAll(results []task.TaskResult) error {
	for _, r := range results {
		if err := l.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered lines and closes the file.
func (l *ResultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return fmt.Errorf("failed to flush result log: %w", err)
	}
	return l.f.Close()
}

// ReadResults decodes a result log.
func ReadResults(r io.Reader) ([]task.TaskResult, error) {
	var results []task.TaskResult
	dec := json.NewDecoder(r)
	for {
		var result task.TaskResult
		err := dec.Decode(&result)
		if err == io.EOF {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid result log entry %d: %w", len(results)+1, err)
		}
		results = append(results, result)
	}
}
