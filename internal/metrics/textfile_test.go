package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportmailer/internal/runner"
)

func summary() *runner.Summary {
	start := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	return &runner.Summary{
		RunID:     "run-1",
		Window:    runner.NewWindow(start, 24*time.Hour),
		Started:   start,
		Finished:  start.Add(90 * time.Second),
		Phase:     runner.Done,
		Generated: 3,
		Sent:      2,
		Failures:  []error{errors.New("c.docx: send failed")},
	}
}

func TestObserveWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "reportmailer.prom")
	m := NewTextfile(path)

	require.NoError(t, m.Observe(summary()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "reportmailer_reports_generated 3")
	assert.Contains(t, text, "reportmailer_documents_sent 2")
	assert.Contains(t, text, "reportmailer_failures 1")
	assert.Contains(t, text, "reportmailer_last_run_success 0")
	assert.Contains(t, text, `reportmailer_last_run_phase{phase="done"} 1`)
	assert.Contains(t, text, "reportmailer_last_run_duration_seconds 90")
}

func TestObserveReplacesPreviousRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportmailer.prom")
	m := NewTextfile(path)

	first := summary()
	first.Phase = runner.Init
	first.Aborted = errors.New("authenticate: portal: authentication failed")
	require.NoError(t, m.Observe(first))

	second := summary()
	second.Failures = nil
	require.NoError(t, m.Observe(second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reportmailer_last_run_success 1")
	assert.Contains(t, string(data), "reportmailer_failures 0")
	assert.False(t, strings.Contains(string(data), `phase="init"`))
	assert.Contains(t, string(data), `phase="done"`)
}

func TestGatherer(t *testing.T) {
	m := NewTextfile(filepath.Join(t.TempDir(), "x.prom"))
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "reportmailer_documents_sent")
	assert.Contains(t, names, "reportmailer_last_run_timestamp_seconds")
}
