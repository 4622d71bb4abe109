// Package workflow implements the multi-round diagnostic engine: round
// progression control, law-based QA validation, the therapist approval gate,
// and report compilation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/events"
	"github.com/gavrielSorek/innerview-server/internal/gateway"
	"github.com/gavrielSorek/innerview-server/internal/laws"
	"github.com/gavrielSorek/innerview-server/internal/store"
	"github.com/google/uuid"
)

// saveAttempts bounds how often a read-validate-write sequence is retried
// after a version conflict before the conflict is surfaced.
const saveAttempts = 2

// Publisher receives round-lifecycle events. The events hub implements it.
type Publisher interface {
	Publish(event events.Event)
}

// noopPublisher drops events; used when no hub is wired.
type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}

// Service orchestrates the diagnostic workflow over one session at a time.
// Round processing and feedback submission for the same session are
// serialized through a per-session mutex, and every mutation goes through
// optimistic locking on the session aggregate.
type Service struct {
	repo           store.Repository
	analyzer       gateway.Analyzer
	registry       *laws.Registry
	validator      *Validator
	publisher      Publisher
	gatewayTimeout time.Duration
	sessionLocks   sync.Map // sessionID -> *sync.Mutex
	now            func() time.Time
}

// NewService creates the workflow service. publisher may be nil.
func NewService(repo store.Repository, analyzer gateway.Analyzer, registry *laws.Registry, publisher Publisher, gatewayTimeout time.Duration) *Service {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 60 * time.Second
	}
	return &Service{
		repo:           repo,
		analyzer:       analyzer,
		registry:       registry,
		validator:      NewValidator(registry),
		publisher:      publisher,
		gatewayTimeout: gatewayTimeout,
		now:            time.Now,
	}
}

func (s *Service) lockSession(sessionID string) func() {
	lock, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateSession starts a new diagnostic run for a client.
func (s *Service) CreateSession(ctx context.Context, clientID, userID string) (*domain.Session, error) {
	now := s.now()
	session := &domain.Session{
		SessionID: uuid.NewString(),
		ClientID:  clientID,
		UserID:    userID,
		Status:    domain.StatusActive,
		Rounds:    []*domain.Round{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "session_id", session.SessionID, "client_id", clientID, "user_id", userID)
	return session, nil
}

// ProcessRequest carries the caller-supplied inputs for one round.
type ProcessRequest struct {
	ImageRef          string
	AdditionalContext string
}

// ProcessResult is returned by ProcessRound on success. The round always
// awaits therapist approval afterwards, law violations included: violations
// are data for the therapist, not errors.
type ProcessResult struct {
	RoundNumber      int                     `json:"round_number"`
	RoundLabel       string                  `json:"round_label"`
	Analysis         *domain.RoundAnalysis   `json:"analysis"`
	Validation       domain.ValidationResult `json:"validation"`
	RequiresApproval bool                    `json:"requires_approval"`
}

// ProcessRound runs one round end to end: progression check, AI analysis,
// parse, QA validation, then an optimistically locked write of the round
// record. If the gateway call times out or fails, the session is left
// untouched. Reprocessing an existing round resets the approval state.
func (s *Service) ProcessRound(ctx context.Context, sessionID string, roundNumber int, req ProcessRequest) (*ProcessResult, error) {
	if roundNumber < 1 || roundNumber > domain.TotalRounds {
		return nil, ErrInvalidRound
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := CheckProgression(s.registry, session, roundNumber); err != nil {
		return nil, err
	}

	// The gateway call is the sole suspension point, bounded by a timeout.
	// It happens once; a later version conflict retries only the
	// read-validate-write sequence, never the AI call.
	raw, err := s.callGateway(ctx, session, roundNumber, req)
	if err != nil {
		return nil, err
	}

	analysis, err := domain.ParseAnalysis(raw)
	if err != nil {
		return nil, err
	}

	validation := s.validator.Validate(roundNumber, analysis)
	round := &domain.Round{
		RoundNumber:  roundNumber,
		Analysis:     analysis,
		QAValidation: validation,
		Timestamp:    s.now(),
	}

	for attempt := 0; ; attempt++ {
		updated := session.Clone()
		updated.PutRound(round)
		saveErr := s.repo.SaveSession(ctx, updated, session.Version)
		if saveErr == nil {
			break
		}
		if !errors.Is(saveErr, store.ErrVersionConflict) || attempt+1 >= saveAttempts {
			return nil, fmt.Errorf("save session %s: %w", sessionID, saveErr)
		}
		slog.Warn("session version conflict, retrying round write",
			"session_id", sessionID, "round", roundNumber)
		session, err = s.loadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := CheckProgression(s.registry, session, roundNumber); err != nil {
			return nil, err
		}
	}

	s.recordUsage(ctx, session.UserID, sessionID, roundNumber)
	passed := validation.Passed
	s.publisher.Publish(events.Event{
		Type:        events.TypeRoundProcessed,
		SessionID:   sessionID,
		RoundNumber: roundNumber,
		Passed:      &passed,
		At:          s.now(),
	})

	slog.Info("round processed",
		"session_id", sessionID, "round", roundNumber,
		"passed", validation.Passed,
		"violations", len(validation.Violations),
		"warnings", len(validation.Warnings))

	return &ProcessResult{
		RoundNumber:      roundNumber,
		RoundLabel:       domain.RoundLabel(roundNumber),
		Analysis:         analysis,
		Validation:       validation,
		RequiresApproval: true,
	}, nil
}

func (s *Service) callGateway(ctx context.Context, session *domain.Session, roundNumber int, req ProcessRequest) ([]byte, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	prior := make([]gateway.PriorRound, 0, len(session.Rounds))
	for _, r := range session.Rounds {
		if r.RoundNumber >= roundNumber {
			continue
		}
		prior = append(prior, gateway.PriorRound{
			RoundNumber: r.RoundNumber,
			RoundLabel:  domain.RoundLabel(r.RoundNumber),
			Passed:      r.QAValidation.Passed,
			Analysis:    r.Analysis,
		})
	}

	raw, err := s.analyzer.AnalyzeRound(gctx, gateway.AnalysisRequest{
		SessionID:         session.SessionID,
		ClientID:          session.ClientID,
		RoundNumber:       roundNumber,
		RoundLabel:        domain.RoundLabel(roundNumber),
		ImageRef:          req.ImageRef,
		AdditionalContext: req.AdditionalContext,
		PriorRounds:       prior,
	})
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			if gerr.Kind == gateway.KindMalformedOutput {
				// Garbage output is a parse condition, not a transport failure.
				return nil, &domain.AnalysisParseError{Reason: gerr.Error()}
			}
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &gateway.Error{Kind: gateway.KindTimeout, Err: err}
		}
		return nil, &gateway.Error{Kind: gateway.KindUnreachable, Err: err}
	}
	return raw, nil
}

func (s *Service) recordUsage(ctx context.Context, userID, sessionID string, roundNumber int) {
	event := &domain.UsageEvent{
		UserID:      userID,
		SessionID:   sessionID,
		RoundNumber: roundNumber,
		OccurredAt:  s.now(),
	}
	if err := s.repo.RecordUsage(ctx, event); err != nil {
		// Metering failures never fail the round.
		slog.Error("failed to record usage event",
			"session_id", sessionID, "round", roundNumber, "error", err)
	}
}

// SubmitFeedback records a therapist decision for an existing round.
func (s *Service) SubmitFeedback(ctx context.Context, sessionID string, roundNumber int, feedback string, approved bool) (string, error) {
	if roundNumber < 1 || roundNumber > domain.TotalRounds {
		return "", ErrInvalidRound
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		session, err := s.loadSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
		updated := session.Clone()
		if err := ApplyFeedback(updated, roundNumber, feedback, approved, s.now()); err != nil {
			return "", err
		}
		saveErr := s.repo.SaveSession(ctx, updated, session.Version)
		if saveErr == nil {
			break
		}
		if !errors.Is(saveErr, store.ErrVersionConflict) || attempt+1 >= saveAttempts {
			return "", fmt.Errorf("save session %s: %w", sessionID, saveErr)
		}
		slog.Warn("session version conflict, retrying feedback write",
			"session_id", sessionID, "round", roundNumber)
	}

	s.publisher.Publish(events.Event{
		Type:        events.TypeFeedbackSubmitted,
		SessionID:   sessionID,
		RoundNumber: roundNumber,
		Approved:    &approved,
		At:          s.now(),
	})

	slog.Info("feedback submitted",
		"session_id", sessionID, "round", roundNumber, "approved", approved)

	if approved {
		return fmt.Sprintf("round %d approved", roundNumber), nil
	}
	return fmt.Sprintf("round %d flagged for reprocessing", roundNumber), nil
}

// Status is the session progress snapshot the API exposes.
type Status struct {
	Status          string `json:"status"`
	CurrentRound    int    `json:"current_round"`
	CompletedRounds int    `json:"completed_rounds"`
	TotalRounds     int    `json:"total_rounds"`
	IsComplete      bool   `json:"is_complete"`
}

// GetStatus returns the session's progress snapshot.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (*Status, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Status:          session.Status,
		CurrentRound:    session.CurrentRound,
		CompletedRounds: session.ApprovedCount(),
		TotalRounds:     domain.TotalRounds,
		IsComplete:      session.IsComplete(),
	}, nil
}

// GenerateReport compiles the final report once all ten rounds are approved.
func (s *Service) GenerateReport(ctx context.Context, sessionID string) (*domain.Report, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report, err := CompileReport(session, s.now())
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.Event{
		Type:      events.TypeReportGenerated,
		SessionID: sessionID,
		At:        s.now(),
	})
	slog.Info("report generated", "session_id", sessionID)
	return report, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return session, nil
}
