package workflow

import (
	"errors"
	"fmt"

	"github.com/gavrielSorek/innerview-server/internal/domain"
)

// ErrInvalidRound is returned when a caller references a round number outside
// 1..TotalRounds.
var ErrInvalidRound = fmt.Errorf("round number must be between 1 and %d", domain.TotalRounds)

// ProgressionError means the caller violated an ordering or gating invariant.
// It is always recoverable by resolving the named round first; the core never
// retries it.
type ProgressionError struct {
	// Requested is the round the caller asked to process.
	Requested int
	// Unresolved is the prerequisite round blocking the request.
	Unresolved int
	// Reason explains why the prerequisite round is unresolved.
	Reason string
}

func (e *ProgressionError) Error() string {
	return fmt.Sprintf("round %d cannot be processed: round %d %s", e.Requested, e.Unresolved, e.Reason)
}

// SessionNotFoundError means the caller referenced a nonexistent session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// RoundNotFoundError means feedback was submitted for a round that has never
// been processed.
type RoundNotFoundError struct {
	SessionID   string
	RoundNumber int
}

func (e *RoundNotFoundError) Error() string {
	return fmt.Sprintf("round %d not found in session %s", e.RoundNumber, e.SessionID)
}

// IncompleteSessionError means a report was requested before all ten rounds
// were approved.
type IncompleteSessionError struct {
	Approved int
}

func (e *IncompleteSessionError) Error() string {
	return fmt.Sprintf("report requires %d approved rounds, session has %d", domain.TotalRounds, e.Approved)
}

// IsParseError reports whether err is an analysis shape mismatch.
func IsParseError(err error) bool {
	var pe *domain.AnalysisParseError
	return errors.As(err, &pe)
}
