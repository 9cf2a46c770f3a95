package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/OpenNSW/batchrun/internal/task"
)

func TestReporter_Line(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)

	r.Line(task.TaskResult{IdentityRef: "0a1b2c3d4e5f", Succeeded: true, Message: "HTTP 202: queued"}, 1, 3)
	r.Line(task.TaskResult{IdentityRef: "ffeeddccbbaa", Category: task.CategoryAuthFailure, Message: "HTTP 403"}, 2, 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"[1/3] OK 0a1b2c3d4e5f HTTP 202: queued",
		"[2/3] FAIL ffeeddccbbaa AuthFailure HTTP 403",
	}, lines, "colour is disabled for non-terminal writers")
}

func TestReporter_Summary(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, true)
	summary := task.Collect([]task.TaskResult{
		{Succeeded: true},
		{Succeeded: true},
		{Category: task.CategoryTransientFailure},
	}, 1500*time.Millisecond)

	r.Summary(summary)

	out := buf.String()
	assert.Contains(t, out, "Total:         3")
	assert.Contains(t, out, "Success rate:  66.7%")
	assert.Contains(t, out, "Elapsed:       1.5s")
	assert.Contains(t, out, "TransientFailure   1")
	assert.Contains(t, out, "InvalidIdentity    0", "zero-count categories are listed")
	assert.Less(t, strings.Index(out, "AuthFailure"), strings.Index(out, "Unknown"), "categories sorted by name")
}

func TestReporter_SummaryEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf, true).Summary(task.Collect(nil, 0))
	assert.Contains(t, buf.String(), "Success rate:  0.0%")
}
