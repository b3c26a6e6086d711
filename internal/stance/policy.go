package stance

import "github.com/ppiankov/tru8/internal/model"

// Policy derives a relationship from classifier scores.
//
// The paraphrase rule reads a neutral-dominant result with almost no contradiction and
// some entailment as weak support: classifiers tend to call close paraphrases neutral.
// Its thresholds were set against individual failure cases and should be re-tuned on a
// labelled corpus before being trusted.
type Policy struct {
	ParaphraseEnabled          bool
	ParaphraseMaxContradiction float64
	ParaphraseMinEntailment    float64
}

// NewPolicy builds the policy from configuration
func NewPolicy(cfg model.StanceConfig) Policy {
	return Policy{
		ParaphraseEnabled:          cfg.ParaphraseEnabled,
		ParaphraseMaxContradiction: cfg.ParaphraseMaxContradiction,
		ParaphraseMinEntailment:    cfg.ParaphraseMinEntailment,
	}
}

// Derive returns the relationship for normalized scores and whether it is weak support.
// The strictly largest score wins; any tie is neutral.
func (p Policy) Derive(raw model.StanceScores) (model.Relationship, bool) {
	s := raw.Normalized()

	switch {
	case s.Entailment > s.Neutral && s.Entailment > s.Contradiction:
		return model.RelationshipEntails, false
	case s.Contradiction > s.Neutral && s.Contradiction > s.Entailment:
		return model.RelationshipContradicts, false
	}

	if p.isParaphrase(s) {
		return model.RelationshipEntails, true
	}
	return model.RelationshipNeutral, false
}

func (p Policy) isParaphrase(s model.StanceScores) bool {
	if !p.ParaphraseEnabled {
		return false
	}
	return s.Neutral >= s.Entailment &&
		s.Neutral >= s.Contradiction &&
		s.Contradiction < p.ParaphraseMaxContradiction &&
		s.Entailment >= p.ParaphraseMinEntailment
}

// Result builds a classifier-sourced stance result
func (p Policy) Result(evidenceID string, scores model.StanceScores) model.StanceResult {
	rel, weak := p.Derive(scores)
	return model.StanceResult{
		EvidenceID:   evidenceID,
		Scores:       scores.Normalized(),
		Relationship: rel,
		Weak:         weak,
		Source:       model.StanceFromClassifier,
	}
}
