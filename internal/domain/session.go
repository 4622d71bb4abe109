// Package domain contains core domain types for the InnerView diagnostic
// workflow: sessions, rounds, analysis payloads and compiled reports.
package domain

import (
	"time"
)

// TotalRounds is the fixed number of diagnostic rounds in a session.
const TotalRounds = 10

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Diagnostic rounds are 1..6; treatment rounds are 7..10.
const (
	FirstTreatmentRound = 7
	LastDiagnosticRound = 6
)

// roundLabels maps round numbers to their fixed stage names.
var roundLabels = [TotalRounds + 1]string{
	"",
	"Visible",
	"Conscious",
	"Subconscious",
	"Hidden",
	"Shadow",
	"Root",
	"Voice Dialogue",
	"Mask Analysis",
	"Integration",
	"Treatment Recommendations",
}

// RoundLabel returns the stage name for a round number, or "" if out of range.
func RoundLabel(n int) string {
	if n < 1 || n > TotalRounds {
		return ""
	}
	return roundLabels[n]
}

// ValidationResult is the verdict of running all applicable laws against one
// round's analysis. Violations fail the round; warnings do not.
type ValidationResult struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}

// Round is one diagnostic stage's outcome within a session.
type Round struct {
	RoundNumber          int              `json:"round_number"`
	Analysis             *RoundAnalysis   `json:"analysis"`
	QAValidation         ValidationResult `json:"qa_validation"`
	TherapistApproved    bool             `json:"therapist_approved"`
	TherapistFeedback    string           `json:"therapist_feedback,omitempty"`
	RequiresReprocessing bool             `json:"requires_reprocessing"`
	Timestamp            time.Time        `json:"timestamp"`
	ApprovalTimestamp    *time.Time       `json:"approval_timestamp,omitempty"`
}

// Session is one diagnostic run. Rounds are kept ordered by round number and
// form a prefix-complete set: round n is only ever present when rounds 1..n-1
// are present (a round may be reprocessed in place).
type Session struct {
	SessionID    string    `json:"session_id"`
	ClientID     string    `json:"client_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	CurrentRound int       `json:"current_round"`
	Rounds       []*Round  `json:"rounds"`
	Version      int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoundByNumber returns the round with the given number, or nil.
func (s *Session) RoundByNumber(n int) *Round {
	for _, r := range s.Rounds {
		if r.RoundNumber == n {
			return r
		}
	}
	return nil
}

// HasRound reports whether round n has been processed at least once.
func (s *Session) HasRound(n int) bool {
	return s.RoundByNumber(n) != nil
}

// ApprovedCount returns how many rounds carry therapist approval.
func (s *Session) ApprovedCount() int {
	count := 0
	for _, r := range s.Rounds {
		if r.TherapistApproved {
			count++
		}
	}
	return count
}

// PutRound inserts or replaces the round record for round.RoundNumber,
// keeping the list ordered by round number and advancing CurrentRound when a
// new round is appended. CurrentRound never decreases.
func (s *Session) PutRound(round *Round) {
	for i, r := range s.Rounds {
		if r.RoundNumber == round.RoundNumber {
			s.Rounds[i] = round
			return
		}
	}
	s.Rounds = append(s.Rounds, round)
	// Rounds are processed in order, but keep the invariant explicit.
	for i := len(s.Rounds) - 1; i > 0; i-- {
		if s.Rounds[i-1].RoundNumber > s.Rounds[i].RoundNumber {
			s.Rounds[i-1], s.Rounds[i] = s.Rounds[i], s.Rounds[i-1]
		}
	}
	if round.RoundNumber > s.CurrentRound {
		s.CurrentRound = round.RoundNumber
	}
}

// IsComplete reports whether all ten rounds exist and carry approval.
func (s *Session) IsComplete() bool {
	return s.ApprovedCount() == TotalRounds
}

// Clone returns a deep copy of the session. The workflow mutates a copy so a
// failed save never leaves a half-updated aggregate behind.
func (s *Session) Clone() *Session {
	out := *s
	out.Rounds = make([]*Round, len(s.Rounds))
	for i, r := range s.Rounds {
		rc := *r
		if r.Analysis != nil {
			ac := r.Analysis.Clone()
			rc.Analysis = ac
		}
		if r.ApprovalTimestamp != nil {
			ts := *r.ApprovalTimestamp
			rc.ApprovalTimestamp = &ts
		}
		rc.QAValidation.Violations = append([]string(nil), r.QAValidation.Violations...)
		rc.QAValidation.Warnings = append([]string(nil), r.QAValidation.Warnings...)
		out.Rounds[i] = &rc
	}
	return &out
}
