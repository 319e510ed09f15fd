package runlog

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnsureCreatesFileOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := New(fs, "/out/daily_export_log.txt", quietLogger())

	require.NoError(t, l.Ensure())
	l.Info("first")
	require.NoError(t, l.Ensure())

	data, err := afero.ReadFile(fs, "/out/daily_export_log.txt")
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(data))
}

func TestLinesAreAppended(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/log.txt", []byte("previous run\n"), 0o644))

	l := New(fs, "/out/log.txt", quietLogger())
	l.Rule()
	l.Banner("STARTING EMAIL PROCESS")
	l.Banner("STARTING REPORT GENERATION PROCESS", "2026-10-19 06:00:00")
	l.Info("REPORTS GENERATED: %d", 3)
	l.Warning("item %s already deleted", "abc")
	l.Error("send failed: %v", "timeout")
	l.Blank()

	data, err := afero.ReadFile(fs, "/out/log.txt")
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")

	assert.Equal(t, "previous run", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "-----"))
	assert.Equal(t, "--- STARTING EMAIL PROCESS ---", lines[2])
	assert.Equal(t, "--- STARTING REPORT GENERATION PROCESS --- 2026-10-19 06:00:00", lines[3])
	assert.Equal(t, "REPORTS GENERATED: 3", lines[4])
	assert.Equal(t, ">> WARNING: item abc already deleted", lines[5])
	assert.Equal(t, ">> ERROR: send failed: timeout", lines[6])
	assert.Equal(t, "", lines[7])
}

func TestEnsureFailsOnReadOnlyFs(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	l := New(fs, "/out/log.txt", quietLogger())

	assert.Error(t, l.Ensure())
}
