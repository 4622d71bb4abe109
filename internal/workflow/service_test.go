package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/events"
	"github.com/gavrielSorek/innerview-server/internal/gateway"
	"github.com/gavrielSorek/innerview-server/internal/store"
)

type fakeRepo struct {
	mu            sync.Mutex
	sessions      map[string]*domain.Session
	usage         []*domain.UsageEvent
	conflictsLeft int // SaveSession fails with ErrVersionConflict this many times
	saveCalls     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*domain.Session)}
}

func (f *fakeRepo) CreateSession(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.Version = 1
	f.sessions[session.SessionID] = session.Clone()
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[sessionID]
	if s == nil {
		return nil, nil
	}
	return s.Clone(), nil
}

func (f *fakeRepo) SaveSession(_ context.Context, session *domain.Session, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return store.ErrVersionConflict
	}
	stored := f.sessions[session.SessionID]
	if stored == nil || stored.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	saved := session.Clone()
	saved.Version = expectedVersion + 1
	f.sessions[session.SessionID] = saved
	session.Version = saved.Version
	return nil
}

func (f *fakeRepo) RecordUsage(_ context.Context, event *domain.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, event)
	return nil
}

func (f *fakeRepo) CountUsage(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, e := range f.usage {
		if e.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) CreateClient(_ context.Context, _ *domain.Client) error        { return nil }
func (f *fakeRepo) GetClient(_ context.Context, _ string) (*domain.Client, error) { return nil, nil }
func (f *fakeRepo) ListClients(_ context.Context, _ string) ([]*domain.Client, error) {
	return nil, nil
}
func (f *fakeRepo) UpdateClient(_ context.Context, _ *domain.Client) error        { return nil }
func (f *fakeRepo) DeleteClient(_ context.Context, _ string) error                { return nil }
func (f *fakeRepo) AddSessionNote(_ context.Context, _ *domain.SessionNote) error { return nil }
func (f *fakeRepo) ListSessionNotes(_ context.Context, _ string) ([]*domain.SessionNote, error) {
	return nil, nil
}
func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	analyze func(req gateway.AnalysisRequest) (json.RawMessage, error)
}

func (f *fakeAnalyzer) AnalyzeRound(_ context.Context, req gateway.AnalysisRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.analyze(req)
}

func (f *fakeAnalyzer) Close() error { return nil }

func cleanAnalysis(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(&domain.RoundAnalysis{
		GraphologicalSigns: []domain.GraphologicalSign{
			{Description: "steady baseline", Justification: "j", TherapeuticRelevance: "r"},
		},
	})
	if err != nil {
		t.Fatalf("marshal analysis: %v", err)
	}
	return raw
}

func newTestService(t *testing.T, repo *fakeRepo, analyzer *fakeAnalyzer) *Service {
	t.Helper()
	return NewService(repo, analyzer, testRegistry(t), nil, time.Second)
}

func seedSession(t *testing.T, repo *fakeRepo, rounds int, perRound map[int][]roundOption) *domain.Session {
	t.Helper()
	s := sessionWithRounds(rounds, perRound)
	if err := repo.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestProcessRound_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 0, nil)

	result, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{ImageRef: "img-1"})
	if err != nil {
		t.Fatalf("ProcessRound returned error: %v", err)
	}
	if !result.RequiresApproval {
		t.Error("Every processed round must await approval")
	}
	if !result.Validation.Passed {
		t.Errorf("Expected clean analysis to pass QA, got %v", result.Validation.Violations)
	}

	stored, _ := repo.GetSession(context.Background(), "sess-test")
	round := stored.RoundByNumber(1)
	if round == nil {
		t.Fatal("Round 1 not stored")
	}
	if round.TherapistApproved || round.RequiresReprocessing {
		t.Error("Fresh round must start unapproved and unflagged")
	}
	if stored.CurrentRound != 1 {
		t.Errorf("Expected current round 1, got %d", stored.CurrentRound)
	}
	if count, _ := repo.CountUsage(context.Background(), "user-test"); count != 1 {
		t.Errorf("Expected 1 usage event, got %d", count)
	}
}

func TestProcessRound_InvalidRoundNumber(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeAnalyzer{})

	for _, n := range []int{0, -1, 11} {
		if _, err := svc.ProcessRound(context.Background(), "sess-test", n, ProcessRequest{}); !errors.Is(err, ErrInvalidRound) {
			t.Errorf("Round %d: expected ErrInvalidRound, got %v", n, err)
		}
	}
}

func TestProcessRound_SessionNotFound(t *testing.T) {
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, newFakeRepo(), analyzer)

	_, err := svc.ProcessRound(context.Background(), "nope", 1, ProcessRequest{})
	var notFound *SessionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected SessionNotFoundError, got %v", err)
	}
	if analyzer.calls != 0 {
		t.Error("Gateway must not be called for a missing session")
	}
}

func TestProcessRound_ProgressionBlocksBeforeGateway(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 1, nil)

	_, err := svc.ProcessRound(context.Background(), "sess-test", 3, ProcessRequest{})
	var progression *ProgressionError
	if !errors.As(err, &progression) {
		t.Fatalf("Expected ProgressionError, got %v", err)
	}
	if analyzer.calls != 0 {
		t.Error("Gateway must not be called when progression fails")
	}
}

func TestProcessRound_ParseErrorLeavesSessionUntouched(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return json.RawMessage(`["not", "an", "object"]`), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 0, nil)

	_, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{})
	var parseErr *domain.AnalysisParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected AnalysisParseError, got %v", err)
	}

	stored, _ := repo.GetSession(context.Background(), "sess-test")
	if stored.HasRound(1) {
		t.Error("No round may be stored when parsing fails")
	}
	if count, _ := repo.CountUsage(context.Background(), "user-test"); count != 0 {
		t.Error("No usage may be metered for a failed round")
	}
}

func TestProcessRound_MalformedGatewayOutputIsParseError(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return nil, &gateway.Error{Kind: gateway.KindMalformedOutput}
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 0, nil)

	_, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{})
	var parseErr *domain.AnalysisParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Malformed gateway output must surface as AnalysisParseError, got %v", err)
	}
}

func TestProcessRound_GatewayTimeoutLeavesSessionUntouched(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return nil, &gateway.Error{Kind: gateway.KindTimeout, Err: context.DeadlineExceeded}
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 0, nil)

	_, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{})
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != gateway.KindTimeout {
		t.Fatalf("Expected timeout gateway error, got %v", err)
	}

	stored, _ := repo.GetSession(context.Background(), "sess-test")
	if len(stored.Rounds) != 0 {
		t.Error("Session must keep its prior consistent state after a gateway timeout")
	}
}

func TestProcessRound_VersionConflictRetriesOnce(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 0, nil)
	repo.conflictsLeft = 1

	if _, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{}); err != nil {
		t.Fatalf("One conflict must be absorbed by the retry, got %v", err)
	}
	if repo.saveCalls != 2 {
		t.Errorf("Expected 2 save attempts, got %d", repo.saveCalls)
	}
	if analyzer.calls != 1 {
		t.Errorf("Retry must not re-invoke the gateway, got %d calls", analyzer.calls)
	}

	stored, _ := repo.GetSession(context.Background(), "sess-test")
	if !stored.HasRound(1) {
		t.Error("Round must be stored after the retried save")
	}
}

func TestProcessRound_VersionConflictExhaustsRetries(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 0, nil)
	repo.conflictsLeft = 2

	_, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("Exhausted retries must surface the conflict, got %v", err)
	}
}

func TestProcessRound_ReprocessingResetsApprovalState(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 3, map[int][]roundOption{3: {approved()}})

	if _, err := svc.SubmitFeedback(context.Background(), "sess-test", 3, "rework the shadow layer", false); err != nil {
		t.Fatalf("SubmitFeedback returned error: %v", err)
	}

	stored, _ := repo.GetSession(context.Background(), "sess-test")
	round := stored.RoundByNumber(3)
	if !round.RequiresReprocessing || round.TherapistApproved {
		t.Fatalf("Rejection must flag reprocessing and drop approval, got %+v", round)
	}

	// The rejected round blocks the treatment gate even though 1..6 exist.
	seedFull := sessionWithRounds(6, map[int][]roundOption{3: {flaggedForReprocessing()}})
	seedFull.SessionID = "sess-blocked"
	if err := repo.CreateSession(context.Background(), seedFull); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := svc.ProcessRound(context.Background(), "sess-blocked", 7, ProcessRequest{})
	var progression *ProgressionError
	if !errors.As(err, &progression) {
		t.Fatalf("Expected ProgressionError for flagged diagnostic round, got %v", err)
	}
	if progression.Unresolved != 3 {
		t.Errorf("Expected round 3 to block, got %d", progression.Unresolved)
	}

	// Reprocessing round 3 clears the flag and the stale approval.
	if _, err := svc.ProcessRound(context.Background(), "sess-test", 3, ProcessRequest{}); err != nil {
		t.Fatalf("Reprocessing returned error: %v", err)
	}
	stored, _ = repo.GetSession(context.Background(), "sess-test")
	round = stored.RoundByNumber(3)
	if round.RequiresReprocessing {
		t.Error("Reprocessing must clear the reprocessing flag")
	}
	if round.TherapistApproved {
		t.Error("Reprocessing must reset approval, pending a fresh decision")
	}
	if stored.CurrentRound != 3 {
		t.Errorf("Reprocessing must not change current round, got %d", stored.CurrentRound)
	}
}

func TestSubmitFeedback_RoundNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeAnalyzer{})
	seedSession(t, repo, 2, nil)

	_, err := svc.SubmitFeedback(context.Background(), "sess-test", 5, "", true)
	var notFound *RoundNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected RoundNotFoundError, got %v", err)
	}
	if notFound.RoundNumber != 5 {
		t.Errorf("Expected round 5 in error, got %d", notFound.RoundNumber)
	}
}

func TestSubmitFeedback_ApprovalCompletesSession(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeAnalyzer{})
	perRound := map[int][]roundOption{}
	for n := 1; n < 10; n++ {
		perRound[n] = []roundOption{approved()}
	}
	seedSession(t, repo, 10, perRound)

	msg, err := svc.SubmitFeedback(context.Background(), "sess-test", 10, "solid synthesis", true)
	if err != nil {
		t.Fatalf("SubmitFeedback returned error: %v", err)
	}
	if msg == "" {
		t.Error("Expected a confirmation message")
	}

	stored, _ := repo.GetSession(context.Background(), "sess-test")
	if stored.Status != domain.StatusCompleted {
		t.Errorf("Approving the final round must complete the session, got %q", stored.Status)
	}
	round := stored.RoundByNumber(10)
	if round.ApprovalTimestamp == nil {
		t.Error("Approval timestamp must be set")
	}
	if round.TherapistFeedback != "solid synthesis" {
		t.Errorf("Feedback not stored, got %q", round.TherapistFeedback)
	}
}

func TestGetStatus(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeAnalyzer{})
	seedSession(t, repo, 4, map[int][]roundOption{
		1: {approved()}, 2: {approved()},
	})

	status, err := svc.GetStatus(context.Background(), "sess-test")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if status.CurrentRound != 4 {
		t.Errorf("Expected current round 4, got %d", status.CurrentRound)
	}
	if status.CompletedRounds != 2 {
		t.Errorf("Expected 2 completed rounds, got %d", status.CompletedRounds)
	}
	if status.TotalRounds != domain.TotalRounds {
		t.Errorf("Expected total rounds %d, got %d", domain.TotalRounds, status.TotalRounds)
	}
	if status.IsComplete {
		t.Error("Session must not be complete")
	}
}

func TestGenerateReport_ViaService(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeAnalyzer{})
	perRound := map[int][]roundOption{}
	for n := 1; n <= 9; n++ {
		perRound[n] = []roundOption{approved()}
	}
	seedSession(t, repo, 10, perRound)

	_, err := svc.GenerateReport(context.Background(), "sess-test")
	var incomplete *IncompleteSessionError
	if !errors.As(err, &incomplete) {
		t.Fatalf("Expected IncompleteSessionError, got %v", err)
	}
	if incomplete.Approved != 9 {
		t.Errorf("Expected 9 in error, got %d", incomplete.Approved)
	}

	if _, err := svc.SubmitFeedback(context.Background(), "sess-test", 10, "", true); err != nil {
		t.Fatalf("SubmitFeedback returned error: %v", err)
	}
	report, err := svc.GenerateReport(context.Background(), "sess-test")
	if err != nil {
		t.Fatalf("GenerateReport returned error: %v", err)
	}
	if report.SessionID != "sess-test" {
		t.Errorf("Unexpected report session id %q", report.SessionID)
	}
}

func TestProcessRound_PublishesEvent(t *testing.T) {
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{analyze: func(_ gateway.AnalysisRequest) (json.RawMessage, error) {
		return cleanAnalysis(t), nil
	}}
	hub := events.NewHub()
	svc := NewService(repo, analyzer, testRegistry(t), hub, time.Second)
	seedSession(t, repo, 0, nil)

	ch, cancel := hub.Subscribe("sess-test")
	defer cancel()

	if _, err := svc.ProcessRound(context.Background(), "sess-test", 1, ProcessRequest{}); err != nil {
		t.Fatalf("ProcessRound returned error: %v", err)
	}

	select {
	case event := <-ch:
		if event.Type != events.TypeRoundProcessed {
			t.Errorf("Expected %s event, got %s", events.TypeRoundProcessed, event.Type)
		}
		if event.RoundNumber != 1 {
			t.Errorf("Expected round 1 in event, got %d", event.RoundNumber)
		}
		if event.Passed == nil || !*event.Passed {
			t.Error("Expected passed=true in event")
		}
	default:
		t.Fatal("Expected a round_processed event")
	}
}

func TestProcessRound_PriorRoundsPassedToGateway(t *testing.T) {
	repo := newFakeRepo()
	var captured gateway.AnalysisRequest
	analyzer := &fakeAnalyzer{analyze: func(req gateway.AnalysisRequest) (json.RawMessage, error) {
		captured = req
		return cleanAnalysis(t), nil
	}}
	svc := newTestService(t, repo, analyzer)
	seedSession(t, repo, 3, nil)

	if _, err := svc.ProcessRound(context.Background(), "sess-test", 4, ProcessRequest{AdditionalContext: "notes"}); err != nil {
		t.Fatalf("ProcessRound returned error: %v", err)
	}
	if len(captured.PriorRounds) != 3 {
		t.Fatalf("Expected 3 prior rounds, got %d", len(captured.PriorRounds))
	}
	for i, prior := range captured.PriorRounds {
		if prior.RoundNumber != i+1 {
			t.Errorf("Prior round %d out of order: %d", i, prior.RoundNumber)
		}
	}
	if captured.RoundLabel != "Hidden" {
		t.Errorf("Expected round label Hidden, got %q", captured.RoundLabel)
	}
	if captured.AdditionalContext != "notes" {
		t.Errorf("Additional context not forwarded, got %q", captured.AdditionalContext)
	}
}
