package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAnalysis_ValidPayload(t *testing.T) {
	payload := RoundAnalysis{
		GraphologicalSigns: []GraphologicalSign{
			{Description: "narrow left margin", Interpretation: "attachment to the past"},
		},
		RetroactiveInfluences: []RetroactiveInfluence{
			{TargetRound: 1, Claim: "reframes the visible layer"},
		},
		Voices: []Voice{{ID: "v1", Description: "inner critic"}},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	analysis, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("ParseAnalysis returned error: %v", err)
	}
	if len(analysis.GraphologicalSigns) != 1 {
		t.Errorf("Expected 1 sign, got %d", len(analysis.GraphologicalSigns))
	}
	if analysis.Voices[0].ID != "v1" {
		t.Errorf("Expected voice id v1, got %q", analysis.Voices[0].ID)
	}
}

func TestParseAnalysis_ShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty payload", ""},
		{"whitespace only", "   \n"},
		{"array root", `[{"description":"x"}]`},
		{"scalar root", `"just text"`},
		{"invalid json", `{"graphological_signs": [}`},
		{"influence target zero", `{"retroactive_influences":[{"target_round":0}]}`},
		{"influence target too high", `{"retroactive_influences":[{"target_round":11}]}`},
		{"voice without id", `{"voices":[{"description":"no id"}]}`},
		{"mask without id", `{"masks":[{"description":"no id"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnalysis([]byte(tt.raw))
			var parseErr *AnalysisParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("Expected AnalysisParseError, got %v", err)
			}
		})
	}
}

func TestParseAnalysis_WrongTypesAreParseErrors(t *testing.T) {
	_, err := ParseAnalysis([]byte(`{"voices": "not a list"}`))
	var parseErr *AnalysisParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected AnalysisParseError for mistyped field, got %v", err)
	}
}
