package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register driver
)

const createTurnsTable = `
CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);`

// SQLiteConfig holds settings for the sqlite journal.
type SQLiteConfig struct {
	// Path is the database file (default: ~/.tourmate/sessions.db).
	Path string `yaml:"path"`
}

// SQLiteJournal implements Journal on a local SQLite database shared by
// every session on the machine.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteJournal opens (and if needed creates) the database at
// cfg.Path.
func NewSQLiteJournal(cfg SQLiteConfig) (*SQLiteJournal, error) {
	path := cfg.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".tourmate", "sessions.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; concurrent commits queue on the pool.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", createTurnsTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialise database: %w", err)
		}
	}

	return &SQLiteJournal{db: db, now: time.Now}, nil
}

func (j *SQLiteJournal) checkOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	return nil
}

// AppendPair inserts both turns in one transaction.
func (j *SQLiteJournal) AppendPair(ctx context.Context, sessionID string, pair [2]Turn) error {
	if err := j.checkOpen(); err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append pair: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := j.now().UnixMilli()
	for _, t := range pair {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO turns (session_id, seq, id, role, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, t.Seq, t.ID, string(t.Role), t.Text, created,
		); err != nil {
			return fmt.Errorf("append pair: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append pair: %w", err)
	}
	return nil
}

// Reset deletes the session's rows.
func (j *SQLiteJournal) Reset(ctx context.Context, sessionID string) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if _, err := j.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// Load reads every recorded turn ordered by Seq.
func (j *SQLiteJournal) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, role, text, seq FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.ID, &role, &t.Text, &t.Seq); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, ErrSessionNotFound
	}
	return turns, nil
}

// Sessions lists journaled session IDs, most recently written first.
func (j *SQLiteJournal) Sessions(ctx context.Context) ([]string, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id FROM turns GROUP BY session_id ORDER BY MAX(created_at) DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks the database connection.
func (j *SQLiteJournal) Ping(ctx context.Context) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	return j.db.PingContext(ctx)
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
