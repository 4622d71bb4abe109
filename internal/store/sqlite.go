package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_round INTEGER NOT NULL DEFAULT 0,
		rounds_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS clients (
		client_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		notes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id, created_at);

	CREATE TABLE IF NOT EXISTS session_notes (
		note_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_session ON session_notes(session_id, created_at);

	CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		round_number INTEGER NOT NULL,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_events(user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession stores a new session aggregate with version 1.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	roundsJSON, err := json.Marshal(session.Rounds)
	if err != nil {
		return fmt.Errorf("marshal rounds: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, client_id, user_id, status, current_round, rounds_json, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		session.SessionID, session.ClientID, session.UserID,
		session.Status, session.CurrentRound, string(roundsJSON),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	session.Version = 1
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, client_id, user_id, status, current_round,
		       rounds_json, version, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.Session
	var roundsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.SessionID, &session.ClientID, &session.UserID,
		&session.Status, &session.CurrentRound,
		&roundsJSON, &session.Version, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(roundsJSON), &session.Rounds); err != nil {
		return nil, fmt.Errorf("unmarshal rounds: %w", err)
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// SaveSession persists the session aggregate under optimistic locking: the
// update only lands if the stored version still equals expectedVersion.
// SQLITE_BUSY errors are retried with backoff; a version mismatch is not.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session, expectedVersion int64) error {
	roundsJSON, err := json.Marshal(session.Rounds)
	if err != nil {
		return fmt.Errorf("marshal rounds: %w", err)
	}

	query := `
	UPDATE sessions SET
		status = ?, current_round = ?, rounds_json = ?,
		version = version + 1, updated_at = ?
	WHERE session_id = ? AND version = ?`

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		result, execErr := s.db.ExecContext(ctx, query,
			session.Status, session.CurrentRound, string(roundsJSON),
			time.Now().Unix(), session.SessionID, expectedVersion,
		)
		if execErr != nil {
			if shared.IsSQLiteConflictError(execErr) && attempt < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<attempt)
				slog.Debug("SaveSession hit SQLITE_BUSY, retrying",
					"session_id", session.SessionID, "attempt", attempt+1, "delay", delay)
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("update session: %w", execErr)
		}

		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("get rows affected: %w", raErr)
		}
		if rows == 0 {
			slog.Warn("SaveSession version check failed",
				"session_id", session.SessionID, "expected_version", expectedVersion)
			return ErrVersionConflict
		}
		session.Version = expectedVersion + 1
		return nil
	}
	return fmt.Errorf("update session: retries exhausted")
}

// CreateClient stores a new client record.
func (s *SQLiteStore) CreateClient(ctx context.Context, client *domain.Client) error {
	query := `
	INSERT INTO clients (client_id, user_id, name, email, notes, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		client.ClientID, client.UserID, client.Name, client.Email, client.Notes,
		client.CreatedAt.Unix(), client.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *SQLiteStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	query := `
		SELECT client_id, user_id, name, email, notes, created_at, updated_at
		FROM clients WHERE client_id = ?`

	row := s.db.QueryRowContext(ctx, query, clientID)

	var client domain.Client
	var email, notes sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&client.ClientID, &client.UserID, &client.Name, &email, &notes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client row: %w", err)
	}

	client.Email = email.String
	client.Notes = notes.String
	client.CreatedAt = time.Unix(createdAt, 0)
	client.UpdatedAt = time.Unix(updatedAt, 0)
	return &client, nil
}

// ListClients returns all clients owned by a user, newest first.
func (s *SQLiteStore) ListClients(ctx context.Context, userID string) ([]*domain.Client, error) {
	query := `
		SELECT client_id, user_id, name, email, notes, created_at, updated_at
		FROM clients WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close clients rows", "error", closeErr)
		}
	}()

	var clients []*domain.Client
	for rows.Next() {
		var client domain.Client
		var email, notes sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(&client.ClientID, &client.UserID, &client.Name, &email, &notes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan client row: %w", err)
		}
		client.Email = email.String
		client.Notes = notes.String
		client.CreatedAt = time.Unix(createdAt, 0)
		client.UpdatedAt = time.Unix(updatedAt, 0)
		clients = append(clients, &client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}

// UpdateClient updates name/email/notes of an existing client.
func (s *SQLiteStore) UpdateClient(ctx context.Context, client *domain.Client) error {
	query := `UPDATE clients SET name = ?, email = ?, notes = ?, updated_at = ? WHERE client_id = ?`
	result, err := s.db.ExecContext(ctx, query,
		client.Name, client.Email, client.Notes, time.Now().Unix(), client.ClientID)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClient removes a client record.
func (s *SQLiteStore) DeleteClient(ctx context.Context, clientID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSessionNote attaches a note to a session.
func (s *SQLiteStore) AddSessionNote(ctx context.Context, note *domain.SessionNote) error {
	query := `
	INSERT INTO session_notes (note_id, session_id, user_id, body, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		note.NoteID, note.SessionID, note.UserID, note.Body, note.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert session note: %w", err)
	}
	return nil
}

// ListSessionNotes returns a session's notes in creation order.
func (s *SQLiteStore) ListSessionNotes(ctx context.Context, sessionID string) ([]*domain.SessionNote, error) {
	query := `
		SELECT note_id, session_id, user_id, body, created_at
		FROM session_notes WHERE session_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session notes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session notes rows", "error", closeErr)
		}
	}()

	var notes []*domain.SessionNote
	for rows.Next() {
		var note domain.SessionNote
		var createdAt int64
		if err := rows.Scan(&note.NoteID, &note.SessionID, &note.UserID, &note.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session note row: %w", err)
		}
		note.CreatedAt = time.Unix(createdAt, 0)
		notes = append(notes, &note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session notes: %w", err)
	}
	return notes, nil
}

// RecordUsage stores one usage event.
func (s *SQLiteStore) RecordUsage(ctx context.Context, event *domain.UsageEvent) error {
	query := `
	INSERT INTO usage_events (user_id, session_id, round_number, occurred_at)
	VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		event.UserID, event.SessionID, event.RoundNumber, event.OccurredAt.Unix())
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// CountUsage returns the number of usage events recorded for a user.
func (s *SQLiteStore) CountUsage(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage events: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
