package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-voice/internal/config"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionPersistent = "persistent"
)

// Entry is one journaled synthesis request. Input text is never stored.
type Entry struct {
	ID        int64
	RequestID string
	Format    string
	Stream    bool
	Chars     int
	Bytes     int
	Fallback  bool
	Latency   time.Duration
	Error     string
	CreatedAt time.Time
}

// Stats aggregates the journal.
type Stats struct {
	Total     int
	Fallbacks int
	Failures  int
}

// Store is a SQLite-backed synthesis journal. In ephemeral mode every
// method is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS synthesis_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL UNIQUE,
    format TEXT NOT NULL,
    stream INTEGER NOT NULL,
    chars INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    fallback INTEGER NOT NULL,
    latency_ms INTEGER NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_synthesis_created ON synthesis_requests(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) enabled() bool {
	return s != nil && s.db != nil && s.cfg.RetentionMode != RetentionEphemeral
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends an entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if !s.enabled() {
		return nil
	}
	if e.RequestID == "" {
		return errors.New("journal entry requires a request id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO synthesis_requests(request_id, format, stream, chars, bytes, fallback, latency_ms, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Format, e.Stream, e.Chars, e.Bytes, e.Fallback,
		e.Latency.Milliseconds(), errText, e.CreatedAt.UTC().UnixNano())
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, format, stream, chars, bytes, fallback, latency_ms, error, created_at
		 FROM synthesis_requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var latencyMS, created int64
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Format, &e.Stream, &e.Chars, &e.Bytes,
			&e.Fallback, &latencyMS, &errText, &created); err != nil {
			return nil, err
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		e.Error = errText.String
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats counts all journaled requests.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if !s.enabled() {
		return st, nil
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(fallback), 0),
		        COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM synthesis_requests`).Scan(&st.Total, &st.Fallbacks, &st.Failures)
	return st, err
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() || s.cfg.RetentionMode != RetentionPersistent {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM synthesis_requests WHERE created_at < ?`, cutoff.UTC().UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEvents > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM synthesis_requests WHERE id IN (
			SELECT id FROM synthesis_requests ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEvents)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
