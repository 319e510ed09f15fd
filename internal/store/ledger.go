package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"

	"github.com/reportmailer/internal/runner"
)

const timeLayout = time.RFC3339Nano

// Ledger records runs and deliveries. Attachments are identified by their
// BLAKE2b-256 digest so a report mailed twice can be spotted.
type Ledger struct {
	db *sql.DB
	fs afero.Fs
}

func NewLedger(db *sql.DB, fs afero.Fs) *Ledger {
	return &Ledger{db: db, fs: fs}
}

// DeliveryRecord is a stored delivery attempt.
type DeliveryRecord struct {
	RunID       string
	File        string
	Size        int64
	Recipient   string
	Digest      string
	AttemptedAt time.Time
	Error       string
}

func (l *Ledger) RecordDelivery(ctx context.Context, d runner.Delivery) error {
	var errText string
	if d.Err != nil {
		errText = d.Err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO deliveries (run_id, file, size, recipient, digest, attempted_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.File, d.Size, d.Recipient, l.digest(d.Path), d.At.UTC().Format(timeLayout), errText,
	)
	if err != nil {
		return fmt.Errorf("record delivery of %s: %w", d.File, err)
	}
	return nil
}

func (l *Ledger) RecordRun(ctx context.Context, sum *runner.Summary) error {
	var errText string
	if err := sum.Err(); err != nil {
		errText = err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, window_start, window_end, phase, generated, sent, failures, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   finished_at = excluded.finished_at,
		   phase = excluded.phase,
		   generated = excluded.generated,
		   sent = excluded.sent,
		   failures = excluded.failures,
		   error = excluded.error`,
		sum.RunID,
		sum.Started.UTC().Format(timeLayout),
		sum.Finished.UTC().Format(timeLayout),
		sum.Window.Start.UTC().Format(timeLayout),
		sum.Window.End.UTC().Format(timeLayout),
		sum.Phase.String(),
		sum.Generated,
		sum.Sent,
		len(sum.Failures),
		errText,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", sum.RunID, err)
	}
	return nil
}

// Deliveries returns the attempts recorded for a run, oldest first.
func (l *Ledger) Deliveries(ctx context.Context, runID string) ([]DeliveryRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, file, size, recipient, digest, attempted_at, error
		 FROM deliveries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			rec DeliveryRecord
			at  string
		)
		if err := rows.Scan(&rec.RunID, &rec.File, &rec.Size, &rec.Recipient, &rec.Digest, &at, &rec.Error); err != nil {
			return nil, err
		}
		rec.AttemptedAt, _ = time.Parse(timeLayout, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AlreadySent reports whether the attachment at path was delivered
// successfully in an earlier attempt.
func (l *Ledger) AlreadySent(ctx context.Context, path string) (bool, error) {
	digest := l.digest(path)
	if digest == "" {
		return false, nil
	}
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE digest = ? AND error = ''`, digest).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up digest: %w", err)
	}
	return n > 0, nil
}

// digest hashes the file at path. Unreadable files have no digest.
func (l *Ledger) digest(path string) string {
	if path == "" {
		return ""
	}
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return ""
	}
	return Digest(data)
}

// Digest is the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
