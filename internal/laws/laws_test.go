package laws

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_CatalogContents(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default() returned error: %v", err)
	}

	if got := len(reg.All()); got != 5 {
		t.Errorf("Expected 5 laws, got %d", got)
	}

	influence, ok := reg.Get(OneLayerInfluence)
	if !ok {
		t.Fatal("one_layer_influence law missing")
	}
	if influence.Kind != KindStructural {
		t.Errorf("Expected structural kind, got %q", influence.Kind)
	}
	if influence.Params.MaxLayerDistance != 1 {
		t.Errorf("Expected max layer distance 1, got %d", influence.Params.MaxLayerDistance)
	}
	for _, tag := range []string{"consistentMarker", "alignedVoice", "crossValidation"} {
		if !influence.HasExceptionTag(tag) {
			t.Errorf("Expected exception tag %q to be allowed", tag)
		}
	}
	if influence.HasExceptionTag("madeUp") {
		t.Error("Unknown tag must not be an allowed exception")
	}

	sync, ok := reg.Get(SyncBeforeTreatment)
	if !ok {
		t.Fatal("sync_before_treatment law missing")
	}
	if sync.Kind != KindOrdering {
		t.Errorf("Expected ordering kind, got %q", sync.Kind)
	}
	if sync.Params.LastDiagnosticRound != 6 || sync.Params.FirstTreatmentRound != 7 {
		t.Errorf("Unexpected treatment boundary: %d/%d",
			sync.Params.LastDiagnosticRound, sync.Params.FirstTreatmentRound)
	}

	voiceMask, ok := reg.Get(VoiceMaskExclusivity)
	if !ok {
		t.Fatal("voice_mask_exclusivity law missing")
	}
	if voiceMask.AppliesTo(6) || !voiceMask.AppliesTo(7) || !voiceMask.AppliesTo(8) || voiceMask.AppliesTo(9) {
		t.Error("voice_mask_exclusivity must apply to rounds 7 and 8 only")
	}

	// Laws without an applies_to list apply everywhere.
	flex, _ := reg.Get(SignFlexibility)
	if !flex.AppliesTo(1) || !flex.AppliesTo(10) {
		t.Error("sign_flexibility must apply to every round")
	}
}

func TestLoadFile_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laws.yaml")
	content := `
laws:
  - id: one_layer_influence
    name: Looser influence rule
    kind: structural
    params:
      max_layer_distance: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}

	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	law, ok := reg.Get(OneLayerInfluence)
	if !ok {
		t.Fatal("override law missing")
	}
	if law.Params.MaxLayerDistance != 2 {
		t.Errorf("Expected max layer distance 2, got %d", law.Params.MaxLayerDistance)
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty catalog", "laws: []"},
		{"missing id", "laws:\n  - name: no id\n    kind: structural"},
		{"unknown kind", "laws:\n  - id: x\n    kind: magical"},
		{"duplicate id", "laws:\n  - id: x\n    kind: structural\n  - id: x\n    kind: structural"},
		{"not yaml", ": ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse([]byte(tt.content)); err == nil {
				t.Error("Expected parse error, got nil")
			}
		})
	}
}
