package workflow

import (
	"fmt"

	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/laws"
)

// Validator runs the structural laws against a round's analysis. It is pure
// and deterministic: the same payload and round number always yield the same
// verdict, and prior rounds are never mutated.
type Validator struct {
	registry *laws.Registry
}

// NewValidator creates a validator over the given law catalog.
func NewValidator(registry *laws.Registry) *Validator {
	return &Validator{registry: registry}
}

// structuralEvaluator checks one law against one round's analysis, appending
// findings to the verdict. Evaluators are keyed by law ID so adding a law is
// a catalog entry plus one function, never new control flow here.
type structuralEvaluator func(law laws.Law, round int, analysis *domain.RoundAnalysis, verdict *verdictBuilder)

var structuralEvaluators = map[string]structuralEvaluator{
	laws.OneLayerInfluence:    evalOneLayerInfluence,
	laws.SignFlexibility:      evalSignFlexibility,
	laws.VoiceMaskExclusivity: evalVoiceMaskExclusivity,
}

// Validate produces a fresh ValidationResult for round n's analysis. Any
// violation fails the round; warnings never do.
func (v *Validator) Validate(n int, analysis *domain.RoundAnalysis) domain.ValidationResult {
	b := &verdictBuilder{}
	for _, law := range v.registry.Structural() {
		if !law.AppliesTo(n) {
			continue
		}
		eval, ok := structuralEvaluators[law.ID]
		if !ok {
			continue
		}
		eval(law, n, analysis, b)
	}
	return b.result()
}

type verdictBuilder struct {
	violations []string
	warnings   []string
}

func (b *verdictBuilder) violate(format string, args ...any) {
	b.violations = append(b.violations, fmt.Sprintf(format, args...))
}

func (b *verdictBuilder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *verdictBuilder) result() domain.ValidationResult {
	res := domain.ValidationResult{
		Passed:     len(b.violations) == 0,
		Violations: []string{},
		Warnings:   []string{},
	}
	res.Violations = append(res.Violations, b.violations...)
	res.Warnings = append(res.Warnings, b.warnings...)
	return res
}

// evalOneLayerInfluence enforces the One-Layer Influence Constraint:
// retroactive claims reaching back more than max_layer_distance rounds need
// an allowed exception tag.
func evalOneLayerInfluence(law laws.Law, n int, analysis *domain.RoundAnalysis, verdict *verdictBuilder) {
	maxDistance := law.Params.MaxLayerDistance
	if maxDistance <= 0 {
		maxDistance = 1
	}
	for _, inf := range analysis.RetroactiveInfluences {
		if inf.TargetRound >= n {
			verdict.violate("round %d claims retroactive influence on round %d, which is not an earlier round", n, inf.TargetRound)
			continue
		}
		distance := n - inf.TargetRound
		if distance <= maxDistance {
			continue
		}
		if hasAllowedException(law, inf.Validation) {
			continue
		}
		verdict.violate("round %d claims retroactive influence on round %d (layer distance %d) without an allowed exception tag", n, inf.TargetRound, distance)
	}
}

func hasAllowedException(law laws.Law, tags []string) bool {
	for _, tag := range tags {
		if law.HasExceptionTag(tag) {
			return true
		}
	}
	return false
}

// evalSignFlexibility checks that every graphological sign carries a
// justification and a therapeutic relevance. A missing field is a warning,
// identified by the sign's position.
func evalSignFlexibility(_ laws.Law, _ int, analysis *domain.RoundAnalysis, verdict *verdictBuilder) {
	for i, sign := range analysis.GraphologicalSigns {
		if sign.Justification == "" {
			verdict.warn("graphological sign %d has no justification", i+1)
		}
		if sign.TherapeuticRelevance == "" {
			verdict.warn("graphological sign %d has no therapeutic relevance", i+1)
		}
	}
}

// evalVoiceMaskExclusivity flags every identifier classified as both a voice
// and a mask; the two categories are mutually exclusive.
func evalVoiceMaskExclusivity(_ laws.Law, n int, analysis *domain.RoundAnalysis, verdict *verdictBuilder) {
	maskIDs := make(map[string]bool, len(analysis.Masks))
	for _, m := range analysis.Masks {
		maskIDs[m.ID] = true
	}
	for _, v := range analysis.Voices {
		if maskIDs[v.ID] {
			verdict.violate("round %d classifies %q as both a voice and a mask", n, v.ID)
		}
	}
}
