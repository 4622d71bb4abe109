package workflow

import (
	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/laws"
)

// CheckProgression decides whether round n may be processed now, given the
// session's round history. It is pure: no side effects, and it must run
// before the AI gateway is invoked so a rejected request costs nothing.
func CheckProgression(registry *laws.Registry, session *domain.Session, n int) error {
	// Inter-Round Pause Law: all earlier rounds must have been processed at
	// least once. An existing entry for n itself is fine (reprocessing).
	for prev := 1; prev < n; prev++ {
		if !session.HasRound(prev) {
			return &ProgressionError{Requested: n, Unresolved: prev, Reason: "has not been processed yet"}
		}
	}

	sync, ok := registry.Get(laws.SyncBeforeTreatment)
	if !ok {
		return nil
	}
	first := sync.Params.FirstTreatmentRound
	last := sync.Params.LastDiagnosticRound
	if first == 0 {
		first = domain.FirstTreatmentRound
	}
	if last == 0 {
		last = domain.LastDiagnosticRound
	}
	if n < first {
		return nil
	}

	// Sync-Products-Before-Treatment Law: treatment rounds require every
	// diagnostic round to be present, QA-passing, and not awaiting
	// reprocessing after a therapist rejection.
	for diag := 1; diag <= last; diag++ {
		round := session.RoundByNumber(diag)
		switch {
		case round == nil:
			return &ProgressionError{Requested: n, Unresolved: diag, Reason: "has not been processed yet"}
		case !round.QAValidation.Passed:
			return &ProgressionError{Requested: n, Unresolved: diag, Reason: "failed QA validation"}
		case round.RequiresReprocessing:
			return &ProgressionError{Requested: n, Unresolved: diag, Reason: "was rejected and awaits reprocessing"}
		}
	}
	return nil
}
