package workflow

import (
	"testing"
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/laws"
)

func testRegistry(t *testing.T) *laws.Registry {
	t.Helper()
	reg, err := laws.Default()
	if err != nil {
		t.Fatalf("load default laws: %v", err)
	}
	return reg
}

type roundOption func(*domain.Round)

func failedQA() roundOption {
	return func(r *domain.Round) {
		r.QAValidation = domain.ValidationResult{
			Passed:     false,
			Violations: []string{"violation"},
			Warnings:   []string{},
		}
	}
}

func flaggedForReprocessing() roundOption {
	return func(r *domain.Round) { r.RequiresReprocessing = true }
}

func approved() roundOption {
	return func(r *domain.Round) { r.TherapistApproved = true }
}

func withAnalysis(a *domain.RoundAnalysis) roundOption {
	return func(r *domain.Round) { r.Analysis = a }
}

// sessionWithRounds builds a session holding rounds 1..n, each QA-passing
// unless an option on that round says otherwise. perRound maps a round number
// to its options.
func sessionWithRounds(n int, perRound map[int][]roundOption) *domain.Session {
	s := &domain.Session{
		SessionID: "sess-test",
		ClientID:  "client-test",
		UserID:    "user-test",
		Status:    domain.StatusActive,
		Version:   1,
	}
	for i := 1; i <= n; i++ {
		r := &domain.Round{
			RoundNumber: i,
			Analysis:    &domain.RoundAnalysis{},
			QAValidation: domain.ValidationResult{
				Passed:     true,
				Violations: []string{},
				Warnings:   []string{},
			},
			Timestamp: time.Now(),
		}
		for _, opt := range perRound[i] {
			opt(r)
		}
		s.PutRound(r)
	}
	return s
}
