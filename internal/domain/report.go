package domain

import "time"

// RoundFindings is the per-round slice of a compiled report, taken verbatim
// from the round's analysis.
type RoundFindings struct {
	Signs                 []GraphologicalSign    `json:"signs"`
	EmotionalIndicators   []string               `json:"emotional_indicators"`
	Insights              []string               `json:"insights"`
	RetroactiveInfluences []RetroactiveInfluence `json:"retroactive_influences"`
}

// TherapeuticContract holds the compiled goals/approach/timeline/focus-areas
// section of the final report.
type TherapeuticContract struct {
	Goals      []string `json:"goals"`
	Approach   string   `json:"approach"`
	Timeline   string   `json:"timeline"`
	FocusAreas []string `json:"focus_areas"`
}

// IdentityStage is one entry in the identity-evolution trace: the anchors a
// round surfaced, in round order.
type IdentityStage struct {
	RoundNumber int      `json:"round_number"`
	RoundLabel  string   `json:"round_label"`
	Anchors     []string `json:"anchors"`
}

// VoiceMaskSynthesis combines round 7's voices and round 8's masks with the
// integration narrative.
type VoiceMaskSynthesis struct {
	Voices               []Voice `json:"voices"`
	Masks                []Mask  `json:"masks"`
	IntegrationNarrative string  `json:"integration_narrative"`
}

// Report is the compiled output of a fully approved ten-round session.
type Report struct {
	SessionID                string                   `json:"session_id"`
	ClientID                 string                   `json:"client_id"`
	GeneratedAt              time.Time                `json:"generated_at"`
	ExecutiveSummary         string                   `json:"executive_summary"`
	DetailedFindings         map[string]RoundFindings `json:"detailed_findings"`
	TreatmentRecommendations []string                 `json:"treatment_recommendations"`
	Contract                 TherapeuticContract      `json:"therapeutic_contract"`
	IdentityEvolution        []IdentityStage          `json:"identity_evolution"`
	VoiceMaskSynthesis       VoiceMaskSynthesis       `json:"voice_mask_synthesis"`
}
