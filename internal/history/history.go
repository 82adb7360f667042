// Package history records decoded readings into a SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/groutine"
	"github.com/srg/igrill/internal/snapshot"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	device_id   TEXT    NOT NULL,
	key         TEXT    NOT NULL,
	value       REAL    NOT NULL,
	unit        TEXT    NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_device_key_time ON readings (device_id, key, recorded_at);
`

var (
	// ErrQueueFull is returned by Enqueue when the writer falls behind.
	ErrQueueFull = errors.New("history queue full")
	ErrClosed    = errors.New("history closed")
)

// Sample is one stored reading.
type Sample struct {
	DeviceID   string    `json:"device_id" yaml:"device_id"`
	Key        string    `json:"key" yaml:"key"`
	Value      float64   `json:"value" yaml:"value"`
	Unit       string    `json:"unit" yaml:"unit"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Recorder writes samples asynchronously through a bounded queue.
type Recorder struct {
	db     *sql.DB
	logger *logrus.Logger

	mu      sync.RWMutex
	closed  bool
	q       chan []Sample
	pending atomic.Int64
	done    chan struct{}
}

// Open creates or opens the database at path and starts the writer.
func Open(path string, queueSize int, logger *logrus.Logger) (*Recorder, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// One connection keeps :memory: databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	r := &Recorder{
		db:     db,
		logger: logger,
		q:      make(chan []Sample, queueSize),
		done:   make(chan struct{}),
	}
	groutine.Go(context.Background(), "history-writer", r.writer)
	return r, nil
}

func (r *Recorder) writer(ctx context.Context) {
	defer close(r.done)
	for batch := range r.q {
		if err := r.insert(ctx, batch); err != nil {
			r.logger.WithError(err).WithField("samples", len(batch)).Warn("Failed to record history")
		}
		r.pending.Add(-1)
	}
}

func (r *Recorder) insert(ctx context.Context, batch []Sample) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (device_id, key, value, unit, recorded_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.ExecContext(ctx, s.DeviceID, s.Key, s.Value, s.Unit, s.RecordedAt.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Enqueue hands samples to the writer without blocking.
func (r *Recorder) Enqueue(samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	r.pending.Add(1)
	select {
	case r.q <- samples:
		return nil
	default:
		r.pending.Add(-1)
		return ErrQueueFull
	}
}

// Listener returns a snapshot listener that records every reading written
// by a merge or replace.
func (r *Recorder) Listener() snapshot.Listener {
	return func(u snapshot.Update) {
		if u.Kind != snapshot.KindMerge && u.Kind != snapshot.KindReplace {
			return
		}
		samples := make([]Sample, 0, len(u.Keys))
		for _, key := range u.Keys {
			reading, ok := u.Snapshot.Get(key)
			if !ok {
				continue
			}
			at := reading.UpdatedAt
			if at.IsZero() {
				at = u.Snapshot.UpdatedAt
			}
			samples = append(samples, Sample{
				DeviceID:   u.DeviceID,
				Key:        key,
				Value:      reading.Value,
				Unit:       reading.Unit,
				RecordedAt: at,
			})
		}
		if err := r.Enqueue(samples); err != nil {
			r.logger.WithField("address", u.DeviceID).WithError(err).Warn("Dropping history samples")
		}
	}
}

// Latest returns the most recent sample of every key recorded for deviceID.
func (r *Recorder) Latest(ctx context.Context, deviceID string) ([]Sample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.device_id, r.key, r.value, r.unit, r.recorded_at
		FROM readings r
		JOIN (
			SELECT key, MAX(recorded_at) AS at FROM readings WHERE device_id = ? GROUP BY key
		) latest ON latest.key = r.key AND latest.at = r.recorded_at
		WHERE r.device_id = ?
		ORDER BY r.key`, deviceID, deviceID)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

// Range returns the samples of key recorded at or after since, oldest first.
func (r *Recorder) Range(ctx context.Context, deviceID, key string, since time.Time) ([]Sample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, key, value, unit, recorded_at
		FROM readings
		WHERE device_id = ? AND key = ? AND recorded_at >= ?
		ORDER BY recorded_at`, deviceID, key, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]Sample, error) {
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		var at int64
		if err := rows.Scan(&s.DeviceID, &s.Key, &s.Value, &s.Unit, &at); err != nil {
			return nil, err
		}
		s.RecordedAt = time.UnixMilli(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Flush waits until every sample queued so far has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close drains the queue and closes the database. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.q)
	r.mu.Unlock()

	<-r.done
	return r.db.Close()
}
