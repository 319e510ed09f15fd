package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportmailer/internal/runner"
)

func newLedger(t *testing.T) (*Ledger, afero.Fs) {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	fs := afero.NewMemMapFs()
	return NewLedger(db, fs), fs
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM deliveries`).Scan(&n))
	assert.Zero(t, n)
}

func TestRecordDelivery(t *testing.T) {
	l, fs := newLedger(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	require.NoError(t, afero.WriteFile(fs, "/out/r1.docx", []byte("report one"), 0o644))

	require.NoError(t, l.RecordDelivery(ctx, runner.Delivery{
		RunID: "run-1", Path: "/out/r1.docx", File: "r1.docx", Size: 10, Recipient: "jane@example.org", At: at,
	}))
	require.NoError(t, l.RecordDelivery(ctx, runner.Delivery{
		RunID: "run-1", Path: "/out/missing.docx", File: "missing.docx", At: at, Err: errors.New("no recipient"),
	}))

	recs, err := l.Deliveries(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "r1.docx", recs[0].File)
	assert.Equal(t, int64(10), recs[0].Size)
	assert.Equal(t, "jane@example.org", recs[0].Recipient)
	assert.Equal(t, Digest([]byte("report one")), recs[0].Digest)
	assert.Len(t, recs[0].Digest, 64)
	assert.True(t, at.Equal(recs[0].AttemptedAt))
	assert.Empty(t, recs[0].Error)

	assert.Empty(t, recs[1].Digest)
	assert.Equal(t, "no recipient", recs[1].Error)

	none, err := l.Deliveries(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAlreadySent(t *testing.T) {
	l, fs := newLedger(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, "/out/a.docx", []byte("same"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/b.docx", []byte("same"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/c.docx", []byte("different"), 0o644))

	sent, err := l.AlreadySent(ctx, "/out/a.docx")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, l.RecordDelivery(ctx, runner.Delivery{RunID: "run-1", Path: "/out/a.docx", File: "a.docx", At: time.Now()}))

	sent, err = l.AlreadySent(ctx, "/out/b.docx")
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = l.AlreadySent(ctx, "/out/c.docx")
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = l.AlreadySent(ctx, "/out/gone.docx")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestRecordRunUpserts(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	sum := &runner.Summary{
		RunID:   "run-1",
		Window:  runner.NewWindow(start, 24*time.Hour),
		Started: start,
		Phase:   runner.DownloadAndCleanup,
	}
	require.NoError(t, l.RecordRun(ctx, sum))

	sum.Phase = runner.Done
	sum.Finished = start.Add(time.Minute)
	sum.Generated, sum.Sent = 2, 1
	sum.Failures = []error{errors.New("b.docx: send failed")}
	require.NoError(t, l.RecordRun(ctx, sum))

	var (
		count, generated, sent, failures int
		phase, errText, windowStart      string
	)
	require.NoError(t, l.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, l.db.QueryRow(
		`SELECT phase, generated, sent, failures, error, window_start FROM runs WHERE id = ?`, "run-1",
	).Scan(&phase, &generated, &sent, &failures, &errText, &windowStart))
	assert.Equal(t, "done", phase)
	assert.Equal(t, 2, generated)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failures)
	assert.Contains(t, errText, "send failed")
	assert.Equal(t, "2026-10-18T06:00:00Z", windowStart)
}

func TestVersion(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := Version(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}
