package domain

import "time"

// Client is a therapist's client record.
type Client struct {
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionNote is a free-text note attached to a diagnostic session.
type SessionNote struct {
	NoteID    string    `json:"note_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageEvent records one billable unit of work: a successfully processed
// analysis round.
type UsageEvent struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	RoundNumber int       `json:"round_number"`
	OccurredAt  time.Time `json:"occurred_at"`
}
