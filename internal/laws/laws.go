// Package laws holds the static catalog of named validation rules the QA and
// progression validators enforce. Laws are declarative descriptors loaded
// once at process start; evaluation lives in the workflow package, so adding
// a law means adding data plus one evaluator, not new control flow.
package laws

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Law kinds.
const (
	// KindStructural laws inspect one round's analysis payload.
	KindStructural = "structural"
	// KindOrdering laws constrain when a round may be processed.
	KindOrdering = "ordering"
)

// Law IDs. These are stable keys the validators dispatch on.
const (
	InterRoundPause      = "inter_round_pause"
	SyncBeforeTreatment  = "sync_before_treatment"
	OneLayerInfluence    = "one_layer_influence"
	SignFlexibility      = "sign_flexibility"
	VoiceMaskExclusivity = "voice_mask_exclusivity"
)

// Params carries the per-law tuning knobs. Only the fields a law declares in
// its descriptor are meaningful for that law.
type Params struct {
	MaxLayerDistance    int      `yaml:"max_layer_distance"`
	ExceptionTags       []string `yaml:"exception_tags"`
	AppliesToRounds     []int    `yaml:"applies_to_rounds"`
	LastDiagnosticRound int      `yaml:"last_diagnostic_round"`
	FirstTreatmentRound int      `yaml:"first_treatment_round"`
}

// Law is a named, parameterized rule descriptor.
type Law struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Kind        string `yaml:"kind"`
	Params      Params `yaml:"params"`
}

// AppliesTo reports whether the law applies to the given round number. A law
// with no applies_to_rounds list applies to every round.
func (l Law) AppliesTo(round int) bool {
	if len(l.Params.AppliesToRounds) == 0 {
		return true
	}
	for _, n := range l.Params.AppliesToRounds {
		if n == round {
			return true
		}
	}
	return false
}

// HasExceptionTag reports whether tag is one of the law's allowed exceptions.
func (l Law) HasExceptionTag(tag string) bool {
	for _, t := range l.Params.ExceptionTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Registry is the immutable law catalog. Safe for concurrent reads.
type Registry struct {
	laws []Law
	byID map[string]Law
}

//go:embed laws.yaml
var defaultLaws []byte

type lawsFile struct {
	Laws []Law `yaml:"laws"`
}

// Default loads the embedded law catalog.
func Default() (*Registry, error) {
	return parse(defaultLaws)
}

// LoadFile loads a law catalog from an on-disk YAML override.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read laws file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var file lawsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse laws: %w", err)
	}
	if len(file.Laws) == 0 {
		return nil, fmt.Errorf("laws catalog is empty")
	}

	byID := make(map[string]Law, len(file.Laws))
	for _, l := range file.Laws {
		if l.ID == "" {
			return nil, fmt.Errorf("law %q has no id", l.Name)
		}
		if l.Kind != KindStructural && l.Kind != KindOrdering {
			return nil, fmt.Errorf("law %q has unknown kind %q", l.ID, l.Kind)
		}
		if _, dup := byID[l.ID]; dup {
			return nil, fmt.Errorf("duplicate law id %q", l.ID)
		}
		byID[l.ID] = l
	}

	return &Registry{laws: file.Laws, byID: byID}, nil
}

// Get returns the law with the given id.
func (r *Registry) Get(id string) (Law, bool) {
	l, ok := r.byID[id]
	return l, ok
}

// Structural returns the structural laws in catalog order.
func (r *Registry) Structural() []Law {
	var out []Law
	for _, l := range r.laws {
		if l.Kind == KindStructural {
			out = append(out, l)
		}
	}
	return out
}

// All returns every law in catalog order.
func (r *Registry) All() []Law {
	return append([]Law(nil), r.laws...)
}
