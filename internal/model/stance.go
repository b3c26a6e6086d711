package model

// StanceScores are the classifier probabilities for one (claim, evidence) pair
type StanceScores struct {
	Entailment    float64 `json:"entailment"`
	Neutral       float64 `json:"neutral"`
	Contradiction float64 `json:"contradiction"`
}

// Normalized rescales the scores to sum to 1.0. All-zero input becomes fully neutral.
func (s StanceScores) Normalized() StanceScores {
	e := Clamp(s.Entailment, 0, 1)
	n := Clamp(s.Neutral, 0, 1)
	c := Clamp(s.Contradiction, 0, 1)
	sum := e + n + c
	if sum == 0 {
		return StanceScores{Neutral: 1}
	}
	return StanceScores{Entailment: e / sum, Neutral: n / sum, Contradiction: c / sum}
}

// Relationship is the derived stance of an evidence item toward the claim
type Relationship string

const (
	RelationshipEntails     Relationship = "entails"
	RelationshipContradicts Relationship = "contradicts"
	RelationshipNeutral     Relationship = "neutral"
)

// StanceSource records where a stance result came from
type StanceSource string

const (
	StanceFromClassifier    StanceSource = "classifier"
	StanceFromPrecomputed   StanceSource = "precomputed"    // scores supplied with the candidate
	StanceFromRelevanceGate StanceSource = "relevance_gate" // off-topic, classifier never called
	StanceFromFailure       StanceSource = "classifier_failure"
)

// StanceResult is the stance of one evidence item plus its derived relationship
type StanceResult struct {
	EvidenceID   string       `json:"evidence_id"`
	Scores       StanceScores `json:"scores"`
	Relationship Relationship `json:"relationship"`
	Weak         bool         `json:"weak,omitempty"` // paraphrase reinterpretation (neutral read as weak support)
	Source       StanceSource `json:"source"`
	Error        string       `json:"error,omitempty"`
}

// GatedStance is the fixed low-confidence marker recorded for off-topic evidence
func GatedStance(evidenceID string) StanceResult {
	return StanceResult{
		EvidenceID:   evidenceID,
		Scores:       StanceScores{Neutral: 1},
		Relationship: RelationshipNeutral,
		Source:       StanceFromRelevanceGate,
	}
}

// FailedStance marks a classifier failure: neutral with zero weight
func FailedStance(evidenceID string, err error) StanceResult {
	r := StanceResult{
		EvidenceID:   evidenceID,
		Scores:       StanceScores{Neutral: 1},
		Relationship: RelationshipNeutral,
		Source:       StanceFromFailure,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
