package workflow

import (
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
)

// ApplyFeedback records a therapist decision on an existing round. Rejection
// flags the round for reprocessing; it never rolls back CurrentRound.
// Approval clears a pending reprocessing flag, since the therapist's decision
// supersedes an earlier rejection.
func ApplyFeedback(session *domain.Session, roundNumber int, feedback string, approved bool, now time.Time) error {
	round := session.RoundByNumber(roundNumber)
	if round == nil {
		return &RoundNotFoundError{SessionID: session.SessionID, RoundNumber: roundNumber}
	}

	round.TherapistFeedback = feedback
	round.TherapistApproved = approved
	ts := now
	round.ApprovalTimestamp = &ts
	round.RequiresReprocessing = !approved

	if session.IsComplete() {
		session.Status = domain.StatusCompleted
	}
	return nil
}
