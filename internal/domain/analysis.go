package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// GraphologicalSign is a single handwriting observation with its clinical
// reading. Justification and TherapeuticRelevance are expected on every sign;
// their absence is a QA warning, not a parse failure.
type GraphologicalSign struct {
	ID                   string `json:"id,omitempty"`
	Description          string `json:"description"`
	Interpretation       string `json:"interpretation,omitempty"`
	Justification        string `json:"justification,omitempty"`
	TherapeuticRelevance string `json:"therapeutic_relevance,omitempty"`
}

// Voice is an internal psychological contradiction surfaced in rounds 7-9.
type Voice struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Mask is an external defense mechanism surfaced in rounds 8-9.
type Mask struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// RetroactiveInfluence claims that the current round reinterprets an earlier
// round's findings. Validation carries the exception tags, if any, that
// justify reaching back more than one layer.
type RetroactiveInfluence struct {
	TargetRound int      `json:"target_round"`
	Claim       string   `json:"claim,omitempty"`
	Validation  []string `json:"validation,omitempty"`
}

// RoundAnalysis is the structured payload the AI gateway produces for one
// round. Fields are optional per round; the QA validator decides which ones
// matter for a given round number.
type RoundAnalysis struct {
	GraphologicalSigns    []GraphologicalSign    `json:"graphological_signs,omitempty"`
	EmotionalIndicators   []string               `json:"emotional_indicators,omitempty"`
	IdentityAnchors       []string               `json:"identity_anchors,omitempty"`
	Voices                []Voice                `json:"voices,omitempty"`
	Masks                 []Mask                 `json:"masks,omitempty"`
	RetroactiveInfluences []RetroactiveInfluence `json:"retroactive_influences,omitempty"`
	TherapeuticInsights   []string               `json:"therapeutic_insights,omitempty"`
}

// Clone returns a deep copy of the analysis.
func (a *RoundAnalysis) Clone() *RoundAnalysis {
	out := *a
	out.GraphologicalSigns = append([]GraphologicalSign(nil), a.GraphologicalSigns...)
	out.EmotionalIndicators = append([]string(nil), a.EmotionalIndicators...)
	out.IdentityAnchors = append([]string(nil), a.IdentityAnchors...)
	out.Voices = append([]Voice(nil), a.Voices...)
	out.Masks = append([]Mask(nil), a.Masks...)
	out.TherapeuticInsights = append([]string(nil), a.TherapeuticInsights...)
	out.RetroactiveInfluences = make([]RetroactiveInfluence, len(a.RetroactiveInfluences))
	for i, inf := range a.RetroactiveInfluences {
		inf.Validation = append([]string(nil), inf.Validation...)
		out.RetroactiveInfluences[i] = inf
	}
	return &out
}

// AnalysisParseError signals that gateway output did not match the expected
// structural shape. It is distinct from a law violation: callers use it to
// tell "content is garbage" apart from "content is well-formed but breaks a
// domain rule".
type AnalysisParseError struct {
	Reason string
}

func (e *AnalysisParseError) Error() string {
	return fmt.Sprintf("analysis payload does not match expected shape: %s", e.Reason)
}

// ParseAnalysis decodes raw gateway output into a RoundAnalysis, enforcing
// structural shape only. Domain rules are the QA validator's job.
func ParseAnalysis(raw []byte) (*RoundAnalysis, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &AnalysisParseError{Reason: "empty payload"}
	}
	if trimmed[0] != '{' {
		return nil, &AnalysisParseError{Reason: "root is not a JSON object"}
	}

	var analysis RoundAnalysis
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&analysis); err != nil {
		return nil, &AnalysisParseError{Reason: err.Error()}
	}

	for i, inf := range analysis.RetroactiveInfluences {
		if inf.TargetRound < 1 || inf.TargetRound > TotalRounds {
			return nil, &AnalysisParseError{
				Reason: fmt.Sprintf("retroactive influence %d targets round %d, outside 1..%d", i, inf.TargetRound, TotalRounds),
			}
		}
	}
	for i, v := range analysis.Voices {
		if v.ID == "" {
			return nil, &AnalysisParseError{Reason: fmt.Sprintf("voice %d has no id", i)}
		}
	}
	for i, m := range analysis.Masks {
		if m.ID == "" {
			return nil, &AnalysisParseError{Reason: fmt.Sprintf("mask %d has no id", i)}
		}
	}

	return &analysis, nil
}
