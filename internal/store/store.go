// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/gavrielSorek/innerview-server/internal/domain"
)

// ErrVersionConflict is returned by SaveSession when the session was modified
// since it was loaded. Callers retry the whole read-validate-write sequence.
var ErrVersionConflict = errors.New("session version conflict")

// ErrNotFound is returned by mutations against a missing record.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting sessions, clients, notes
// and usage events.
type Repository interface {
	// CreateSession stores a new session aggregate with version 1.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID, or nil if it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession persists the full session aggregate only if the stored
	// version still equals expectedVersion (optimistic locking). On success
	// the session's Version is advanced.
	SaveSession(ctx context.Context, session *domain.Session, expectedVersion int64) error

	// CreateClient stores a new client record.
	CreateClient(ctx context.Context, client *domain.Client) error

	// GetClient retrieves a client by ID, or nil if it does not exist.
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)

	// ListClients returns all clients owned by a user, newest first.
	ListClients(ctx context.Context, userID string) ([]*domain.Client, error)

	// UpdateClient updates name/email/notes of an existing client.
	UpdateClient(ctx context.Context, client *domain.Client) error

	// DeleteClient removes a client record.
	DeleteClient(ctx context.Context, clientID string) error

	// AddSessionNote attaches a note to a session.
	AddSessionNote(ctx context.Context, note *domain.SessionNote) error

	// ListSessionNotes returns a session's notes in creation order.
	ListSessionNotes(ctx context.Context, sessionID string) ([]*domain.SessionNote, error)

	// RecordUsage stores one usage event.
	RecordUsage(ctx context.Context, event *domain.UsageEvent) error

	// CountUsage returns the number of usage events recorded for a user.
	CountUsage(ctx context.Context, userID string) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
