package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	_ "modernc.org/sqlite"
)

// Timeline event types.
const (
	TypeTranscript   = "transcript"
	TypeTranslation  = "translation"
	TypeCaptureEnded = "capture.ended"
)

var ErrEphemeral = errors.New("event store is ephemeral")

// Event is one entry on a capture session's timeline.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Session is a recorded capture session.
type Session struct {
	ID             string    `json:"id"`
	SourceLanguage string    `json:"source_language"`
	CreatedAt      time.Time `json:"created_at"`
	Events         int       `json:"events"`
}

// Store wraps the SQLite-backed capture timeline.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config. Ephemeral mode
// returns a store that records nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS capture_sessions (
    session_id TEXT PRIMARY KEY,
    source_language TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS timeline_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES capture_sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_timeline_session_created ON timeline_events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Persistent reports whether the store records anything.
func (s *Store) Persistent() bool {
	return s.db != nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartSession records a capture session. Re-recording an existing session
// updates its source language.
func (s *Store) StartSession(ctx context.Context, sessionID, sourceLanguage string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capture_sessions(session_id, source_language, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET source_language=excluded.source_language`,
		sessionID, sourceLanguage, s.clock().UTC())
	return err
}

// Append writes an event onto its session's timeline.
func (s *Store) Append(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.SessionID == "" {
		return errors.New("event requires a session id")
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timeline_events(session_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?)`,
		evt.SessionID, evt.Type, []byte(evt.Payload), evt.CreatedAt.UTC())
	return err
}

// AppendJSON marshals v as the payload of a new event.
func (s *Store) AppendJSON(ctx context.Context, sessionID, eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return s.Append(ctx, Event{SessionID: sessionID, Type: eventType, Payload: payload})
}

// ListSessionEvents retrieves up to limit events for a session, oldest first.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, ErrEphemeral
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM timeline_events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if s.db == nil {
		return nil, ErrEphemeral
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, COALESCE(s.source_language, ''), s.created_at, COUNT(e.id)
		 FROM capture_sessions s LEFT JOIN timeline_events e ON e.session_id = s.session_id
		 GROUP BY s.session_id ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var created string
		if err := rows.Scan(&sess.ID, &sess.SourceLanguage, &created, &sess.Events); err != nil {
			return nil, err
		}
		sess.CreatedAt = parseTime(created)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999 -0700 MST"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Prune applies configured retention. In session mode only the newest
// MaxSessions sessions are kept; RetentionDays applies to both modes.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
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
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM timeline_events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM capture_sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.RetentionMode == "session" && s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM capture_sessions WHERE session_id IN (
			SELECT session_id FROM capture_sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}
