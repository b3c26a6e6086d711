package model

import "time"

// VerdictLabel is the fixed verdict taxonomy
type VerdictLabel string

const (
	VerdictSupported                VerdictLabel = "supported"
	VerdictContradicted             VerdictLabel = "contradicted"
	VerdictUncertain                VerdictLabel = "uncertain"
	VerdictInsufficientEvidence     VerdictLabel = "insufficient_evidence"
	VerdictConflictingExpertOpinion VerdictLabel = "conflicting_expert_opinion"
)

// IsAbstention reports whether the label is a deliberate non-committal verdict
func (l VerdictLabel) IsAbstention() bool {
	switch l {
	case VerdictInsufficientEvidence, VerdictConflictingExpertOpinion, VerdictUncertain:
		return true
	}
	return false
}

// VerificationSignals are the aggregate statistics a verdict is decided from.
// Recomputed per decision and only ever persisted inside a Verdict.
type VerificationSignals struct {
	TotalSources                 int     `json:"total_sources"`
	Supporting                   int     `json:"supporting"`
	Contradicting                int     `json:"contradicting"`
	Neutral                      int     `json:"neutral"`
	OffTopic                     int     `json:"off_topic"`
	HighCredibilitySupporting    int     `json:"high_credibility_supporting"`
	HighCredibilityContradicting int     `json:"high_credibility_contradicting"`
	SupportingCredibilitySum     float64 `json:"supporting_credibility_sum"`
	ContradictingCredibilitySum  float64 `json:"contradicting_credibility_sum"`
	ConsensusStrength            float64 `json:"consensus_strength"`
	MaxCredibilityScore          float64 `json:"max_credibility_score"`
	AverageCredibility           float64 `json:"average_credibility"`
	RelevanceUnavailable         int     `json:"relevance_unavailable"`
	StanceFailures               int     `json:"stance_failures"`
	DistinctCategories           int     `json:"distinct_categories"`
	DiversityShortfall           bool    `json:"diversity_shortfall"`
}

// TotalWeight is the credibility mass that carries a stance
func (s VerificationSignals) TotalWeight() float64 {
	return s.SupportingCredibilitySum + s.ContradictingCredibilitySum
}

// TrailStep is one step of the decision's reasoning trail
type TrailStep struct {
	Rule        string                 `json:"rule"`           // Rule or stage name
	Outcome     string                 `json:"outcome"`        // matched, skipped, applied
	Description string                 `json:"description"`    // Human-readable explanation
	Data        map[string]interface{} `json:"data,omitempty"` // Transparent inputs (thresholds, formulas)
}

// ConfidenceClamp is a cap that fired during confidence calibration
type ConfidenceClamp struct {
	Name string `json:"name"`
	Cap  int    `json:"cap"`
}

// EvidenceBreakdown is the audit record of one evidence item
type EvidenceBreakdown struct {
	EvidenceID        string             `json:"evidence_id"`
	URL               string             `json:"url"`
	Domain            string             `json:"domain"`
	Category          Category           `json:"category"`
	RetrievalChannel  string             `json:"retrieval_channel,omitempty"`
	BaseCredibility   float64            `json:"base_credibility"`
	FinalCredibility  float64            `json:"final_credibility"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	IndependenceFlags []IndependenceFlag `json:"independence_flags,omitempty"`
	RelevanceScore    float64            `json:"relevance_score"`
	OffTopic          bool               `json:"off_topic,omitempty"`
	Relationship      Relationship       `json:"relationship,omitempty"`
	StanceSource      StanceSource       `json:"stance_source,omitempty"`
	Weight            float64            `json:"weight"`
	Selected          bool               `json:"selected"`
	ExclusionReason   string             `json:"exclusion_reason,omitempty"`
}

// Verdict is the terminal artifact for one claim. Immutable after creation.
type Verdict struct {
	ClaimID           string              `json:"claim_id"`
	ClaimText         string              `json:"claim_text"`
	Label             VerdictLabel        `json:"label"`
	Confidence        int                 `json:"confidence"` // 0-100
	Reasoning         string              `json:"reasoning"`
	AbstentionReason  string              `json:"abstention_reason,omitempty"`
	Trail             []TrailStep         `json:"trail"`
	Clamps            []ConfidenceClamp   `json:"clamps,omitempty"`
	EvidenceBreakdown []EvidenceBreakdown `json:"evidence_breakdown"`
	InfluenceScores   map[string]float64  `json:"influence_scores"`
	Signals           VerificationSignals `json:"signals"`
	DecidedAt         time.Time           `json:"decided_at"`
}
