package workflow

import (
	"fmt"
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
)

// Fixed report labels. The exact prose is a localization concern; the field
// selection feeding each section is the contract.
const (
	recommendationVoiceDialogue  = "voice dialogue work"
	recommendationDefenseExplore = "defense-mechanism exploration"
	contractApproach             = "integrative graphotherapeutic approach"
	contractTimeline             = "12 weekly sessions with quarterly review"
	contractGoalPlaceholder      = "establish therapeutic goals during the opening sessions"
	integrationNarrative         = "Voice dialogue and mask work converge in an integration phase: each internal contradiction is given space to speak while its defensive counterpart is gradually lowered."
)

// CompileReport folds an approved ten-round session into the final report.
// It is a pure function of the round history: no randomness, no I/O.
func CompileReport(session *domain.Session, now time.Time) (*domain.Report, error) {
	approved := session.ApprovedCount()
	if approved < domain.TotalRounds {
		return nil, &IncompleteSessionError{Approved: approved}
	}

	report := &domain.Report{
		SessionID:   session.SessionID,
		ClientID:    session.ClientID,
		GeneratedAt: now,
	}

	report.ExecutiveSummary = executiveSummary(session)
	report.DetailedFindings = detailedFindings(session)
	report.TreatmentRecommendations = treatmentRecommendations(session)
	report.Contract = therapeuticContract(session)
	report.IdentityEvolution = identityEvolution(session)
	report.VoiceMaskSynthesis = voiceMaskSynthesis(session)

	return report, nil
}

func analysisFor(session *domain.Session, n int) *domain.RoundAnalysis {
	round := session.RoundByNumber(n)
	if round == nil || round.Analysis == nil {
		return &domain.RoundAnalysis{}
	}
	return round.Analysis
}

// executiveSummary composes one sentence from round 1's leading sign
// interpretation, round 6's leading identity anchor and round 10's leading
// therapeutic insight.
func executiveSummary(session *domain.Session) string {
	leadSign := "no dominant graphological sign"
	if signs := analysisFor(session, 1).GraphologicalSigns; len(signs) > 0 {
		if signs[0].Interpretation != "" {
			leadSign = signs[0].Interpretation
		} else {
			leadSign = signs[0].Description
		}
	}

	leadAnchor := "an identity theme still to be named"
	if anchors := analysisFor(session, 6).IdentityAnchors; len(anchors) > 0 {
		leadAnchor = anchors[0]
	}

	leadInsight := "continued exploratory work"
	if insights := analysisFor(session, 10).TherapeuticInsights; len(insights) > 0 {
		leadInsight = insights[0]
	}

	return fmt.Sprintf("The handwriting picture (%s) converges on %s as the anchoring identity theme, pointing toward %s.",
		leadSign, leadAnchor, leadInsight)
}

func detailedFindings(session *domain.Session) map[string]domain.RoundFindings {
	findings := make(map[string]domain.RoundFindings, domain.TotalRounds)
	for _, round := range session.Rounds {
		analysis := round.Analysis
		if analysis == nil {
			analysis = &domain.RoundAnalysis{}
		}
		findings[domain.RoundLabel(round.RoundNumber)] = domain.RoundFindings{
			Signs:                 analysis.GraphologicalSigns,
			EmotionalIndicators:   analysis.EmotionalIndicators,
			Insights:              analysis.TherapeuticInsights,
			RetroactiveInfluences: analysis.RetroactiveInfluences,
		}
	}
	return findings
}

func treatmentRecommendations(session *domain.Session) []string {
	recs := append([]string{}, analysisFor(session, 10).TherapeuticInsights...)
	if len(analysisFor(session, 7).Voices) > 0 {
		recs = append(recs, recommendationVoiceDialogue)
	}
	if len(analysisFor(session, 8).Masks) > 0 {
		recs = append(recs, recommendationDefenseExplore)
	}
	return recs
}

func therapeuticContract(session *domain.Session) domain.TherapeuticContract {
	goals := append([]string{}, analysisFor(session, 9).TherapeuticInsights...)
	if len(goals) == 0 {
		goals = []string{contractGoalPlaceholder}
	}
	return domain.TherapeuticContract{
		Goals:      goals,
		Approach:   contractApproach,
		Timeline:   contractTimeline,
		FocusAreas: append([]string{}, analysisFor(session, 6).IdentityAnchors...),
	}
}

func identityEvolution(session *domain.Session) []domain.IdentityStage {
	var stages []domain.IdentityStage
	for _, round := range session.Rounds {
		if round.Analysis == nil || len(round.Analysis.IdentityAnchors) == 0 {
			continue
		}
		stages = append(stages, domain.IdentityStage{
			RoundNumber: round.RoundNumber,
			RoundLabel:  domain.RoundLabel(round.RoundNumber),
			Anchors:     append([]string{}, round.Analysis.IdentityAnchors...),
		})
	}
	return stages
}

func voiceMaskSynthesis(session *domain.Session) domain.VoiceMaskSynthesis {
	return domain.VoiceMaskSynthesis{
		Voices:               append([]domain.Voice{}, analysisFor(session, 7).Voices...),
		Masks:                append([]domain.Mask{}, analysisFor(session, 8).Masks...),
		IntegrationNarrative: integrationNarrative,
	}
}
