// Package journal persists observer events to SQLite so operators can
// inspect recent speaker activity after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/rtpobserver/internal/events"
	"github.com/clawinfra/rtpobserver/internal/observer"
)

// Entry is one journaled event. ProducerID and Volume are set for the
// events that carry them.
type Entry struct {
	ID         int64
	ObserverID string
	Event      string
	ProducerID string
	Volume     *int8
	RecordedAt time.Time
}

// Source is an observer whose monitoring stream can be journaled.
type Source interface {
	ID() string
	Observer() *events.Emitter[observer.Event]
}

// Journal records observer events.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the journal database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: wal mode: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger.With("component", "journal"),
		now:    time.Now,
	}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			observer_id TEXT NOT NULL,
			event       TEXT NOT NULL,
			producer_id TEXT NOT NULL DEFAULT '',
			volume      INTEGER,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_observer ON events(observer_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_recorded ON events(recorded_at)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach journals every monitoring event of src until the returned
// function is called or src closes.
func (j *Journal) Attach(src Source) (detach func()) {
	id := src.ID()
	var offs []func()
	for _, name := range []string{
		observer.EventClose,
		observer.EventPause,
		observer.EventResume,
		observer.EventAddProducer,
		observer.EventRemoveProducer,
		observer.EventVolumes,
		observer.EventSilence,
	} {
		offs = append(offs, src.Observer().On(name, func(e observer.Event) {
			if err := j.Record(context.Background(), id, name, e); err != nil {
				j.logger.Warn("failed to journal event", "observer", id, "event", name, "error", err)
			}
		}))
	}

	detach = func() {
		for _, off := range offs {
			off()
		}
	}
	src.Observer().Once(observer.EventClose, func(observer.Event) { detach() })
	return detach
}

// Record stores one event. A volumes event is stored as one row per entry.
func (j *Journal) Record(ctx context.Context, observerID, event string, e observer.Event) error {
	at := j.now().UnixNano()

	if event == observer.EventVolumes {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, v := range e.Volumes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO events(observer_id, event, producer_id, volume, recorded_at) VALUES(?, ?, ?, ?, ?)`,
				observerID, event, v.Producer.ID(), int64(v.Volume), at,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	producerID := ""
	if e.Producer != nil {
		producerID = e.Producer.ID()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events(observer_id, event, producer_id, volume, recorded_at) VALUES(?, ?, ?, NULL, ?)`,
		observerID, event, producerID, at,
	)
	return err
}

// Recent returns up to limit entries for observerID, newest first.
func (j *Journal) Recent(ctx context.Context, observerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, observer_id, event, producer_id, volume, recorded_at
		 FROM events WHERE observer_id = ? ORDER BY id DESC LIMIT ?`,
		observerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			volume sql.NullInt64
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.ObserverID, &e.Event, &e.ProducerID, &volume, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if volume.Valid {
			v := int8(volume.Int64)
			e.Volume = &v
		}
		e.RecordedAt = time.Unix(0, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries recorded before the cutoff and returns how many
// were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE recorded_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of journaled entries.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}
