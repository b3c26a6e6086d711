package verdict

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/stance"
)

// Rule names recorded in the reasoning trail
const (
	RuleMinSources    = "min_sources"
	RuleAuthoritative = "authoritative_sources"
	RuleConsensus     = "consensus_floor"
	RuleWeightRatio   = "weight_ratio"
	RuleConfidence    = "confidence"
)

// Confidence clamps
const (
	ClampSingleSource   = "single_source"
	ClampLowCredibility = "low_average_credibility"
	ClampWeakConsensus  = "weak_consensus"
	ClampDiversity      = "diversity_shortfall"
	ClampAbstention     = "abstention"
)

// Trail step outcomes
const (
	OutcomeMatched = "matched"
	OutcomePassed  = "passed"
	OutcomeApplied = "applied"
)

// Excluded is an evidence item that did not reach aggregation, with the reason
type Excluded struct {
	Item   *model.ScoredEvidence
	Reason string
}

// Decider applies the abstention rules and confidence calibration
type Decider struct {
	policy model.PolicyConfig
	now    func() time.Time
}

// NewDecider creates a decider for a policy
func NewDecider(policy model.PolicyConfig) *Decider {
	return &Decider{
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Decide fixes the verdict label by rule cascade (first match wins), then calibrates
// confidence. selected must be the items the aggregation was computed over.
func (d *Decider) Decide(claim model.Claim, agg stance.Aggregation, selected []*model.ScoredEvidence, excluded []Excluded) model.Verdict {
	sig := agg.Signals
	v := model.Verdict{
		ClaimID:   claim.ID,
		ClaimText: claim.Text,
		Signals:   sig,
		DecidedAt: d.now(),
	}

	var why string
	v.Label, why = d.label(sig, &v.Trail)
	if v.Label.IsAbstention() {
		v.AbstentionReason = why
	}

	v.Confidence, v.Clamps = d.confidence(v.Label, sig, agg, selected, &v.Trail)
	v.Reasoning = reasoning(v.Label, why, v.Confidence, v.Clamps)
	v.EvidenceBreakdown, v.InfluenceScores = breakdown(agg, selected, excluded)
	return v
}

func (d *Decider) label(sig model.VerificationSignals, trail *[]model.TrailStep) (model.VerdictLabel, string) {
	p := d.policy

	// 1. Too few sources
	if sig.TotalSources < p.MinSources {
		why := fmt.Sprintf("only %d source(s) after filtering, at least %d required", sig.TotalSources, p.MinSources)
		*trail = append(*trail, step(RuleMinSources, OutcomeMatched, why, map[string]interface{}{
			"total_sources": sig.TotalSources,
			"min_sources":   p.MinSources,
		}))
		return model.VerdictInsufficientEvidence, why
	}
	*trail = append(*trail, step(RuleMinSources, OutcomePassed,
		fmt.Sprintf("%d sources >= %d", sig.TotalSources, p.MinSources), nil))

	// 2. No authoritative stance
	noHighCred := sig.HighCredibilitySupporting == 0 && sig.HighCredibilityContradicting == 0
	authData := map[string]interface{}{
		"max_credibility":     sig.MaxCredibilityScore,
		"threshold":           p.MinCredibilityThreshold,
		"diversity_shortfall": sig.DiversityShortfall,
		"shortfall_abstains":  p.DiversityShortfallAbstains,
	}
	if noHighCred && sig.MaxCredibilityScore < p.MinCredibilityThreshold {
		why := fmt.Sprintf("no authoritative sources: best credibility %.2f < %.2f", sig.MaxCredibilityScore, p.MinCredibilityThreshold)
		*trail = append(*trail, step(RuleAuthoritative, OutcomeMatched, why, authData))
		return model.VerdictInsufficientEvidence, why
	}
	if noHighCred && sig.DiversityShortfall && p.DiversityShortfallAbstains {
		why := fmt.Sprintf("no high-credibility stance and only %d source categories", sig.DistinctCategories)
		*trail = append(*trail, step(RuleAuthoritative, OutcomeMatched, why, authData))
		return model.VerdictInsufficientEvidence, why
	}
	*trail = append(*trail, step(RuleAuthoritative, OutcomePassed,
		fmt.Sprintf("%d supporting / %d contradicting high-credibility sources",
			sig.HighCredibilitySupporting, sig.HighCredibilityContradicting), authData))

	// 3. Consensus floor
	consensusData := map[string]interface{}{
		"consensus_strength": sig.ConsensusStrength,
		"floor":              p.MinConsensusStrength,
		"formula":            "max(supporting, contradicting) / (supporting + contradicting)",
	}
	if sig.ConsensusStrength < p.MinConsensusStrength {
		if sig.HighCredibilitySupporting > 0 && sig.HighCredibilityContradicting > 0 {
			why := fmt.Sprintf("authoritative sources disagree (%d supporting, %d contradicting; consensus %.2f < %.2f)",
				sig.HighCredibilitySupporting, sig.HighCredibilityContradicting, sig.ConsensusStrength, p.MinConsensusStrength)
			*trail = append(*trail, step(RuleConsensus, OutcomeMatched, why, consensusData))
			return model.VerdictConflictingExpertOpinion, why
		}
		why := fmt.Sprintf("consensus %.2f below %.2f", sig.ConsensusStrength, p.MinConsensusStrength)
		*trail = append(*trail, step(RuleConsensus, OutcomeMatched, why, consensusData))
		return model.VerdictUncertain, why
	}
	*trail = append(*trail, step(RuleConsensus, OutcomePassed,
		fmt.Sprintf("consensus %.2f >= %.2f", sig.ConsensusStrength, p.MinConsensusStrength), consensusData))

	// 4. Weight ratio
	s, c := sig.SupportingCredibilitySum, sig.ContradictingCredibilitySum
	ratioData := map[string]interface{}{
		"supporting_weight":    s,
		"contradicting_weight": c,
		"ratio":                p.SupportRatio,
	}
	switch {
	case s > c*p.SupportRatio:
		why := fmt.Sprintf("supporting weight %.2f exceeds %.1fx contradicting weight %.2f", s, p.SupportRatio, c)
		*trail = append(*trail, step(RuleWeightRatio, OutcomeMatched, why, ratioData))
		return model.VerdictSupported, why
	case c > s*p.SupportRatio:
		why := fmt.Sprintf("contradicting weight %.2f exceeds %.1fx supporting weight %.2f", c, p.SupportRatio, s)
		*trail = append(*trail, step(RuleWeightRatio, OutcomeMatched, why, ratioData))
		return model.VerdictContradicted, why
	default:
		why := fmt.Sprintf("neither side outweighs the other by %.1fx (%.2f vs %.2f)", p.SupportRatio, s, c)
		*trail = append(*trail, step(RuleWeightRatio, OutcomeMatched, why, ratioData))
		return model.VerdictUncertain, why
	}
}

// confidence computes the raw score for the fixed label and applies every cap that fires
func (d *Decider) confidence(label model.VerdictLabel, sig model.VerificationSignals, agg stance.Aggregation,
	selected []*model.ScoredEvidence, trail *[]model.TrailStep) (int, []model.ConfidenceClamp) {
	p := d.policy

	majority := majorityCredibility(agg, selected)
	raw := 100 * sig.ConsensusStrength * (0.5 + 0.5*majority)

	var unavailableFraction float64
	if sig.TotalSources > 0 {
		unavailableFraction = float64(sig.RelevanceUnavailable) / float64(sig.TotalSources)
	}
	raw *= 1 - p.RelevanceUnavailableDrag*unavailableFraction

	*trail = append(*trail, step(RuleConfidence, OutcomeApplied, fmt.Sprintf("raw confidence %.1f", raw), map[string]interface{}{
		"formula":                    "100 × consensus × (0.5 + 0.5 × majority_credibility) × (1 − drag × unavailable_fraction)",
		"consensus_strength":         sig.ConsensusStrength,
		"majority_credibility":       majority,
		"relevance_unavailable":      sig.RelevanceUnavailable,
		"relevance_unavailable_drag": p.RelevanceUnavailableDrag,
	}))

	var clamps []model.ConfidenceClamp
	if sig.Supporting+sig.Contradicting == 1 {
		clamps = append(clamps, model.ConfidenceClamp{Name: ClampSingleSource, Cap: p.SingleSourceCap})
	}
	if sig.AverageCredibility < p.LowCredibilityAverage {
		clamps = append(clamps, model.ConfidenceClamp{Name: ClampLowCredibility, Cap: p.LowCredibilityCap})
	}
	if sig.ConsensusStrength < p.WeakConsensusThreshold {
		clamps = append(clamps, model.ConfidenceClamp{Name: ClampWeakConsensus, Cap: p.WeakConsensusCap})
	}
	if sig.DiversityShortfall {
		clamps = append(clamps, model.ConfidenceClamp{Name: ClampDiversity, Cap: p.DiversityShortfallCap})
	}
	if label.IsAbstention() {
		clamps = append(clamps, model.ConfidenceClamp{Name: ClampAbstention, Cap: p.AbstentionCap})
	}

	confidence := raw
	for _, c := range clamps {
		if float64(c.Cap) < confidence {
			confidence = float64(c.Cap)
		}
		*trail = append(*trail, step(c.Name, OutcomeApplied, fmt.Sprintf("confidence capped at %d", c.Cap), nil))
	}

	return int(model.Clamp(confidence, 0, 100) + 0.5), clamps
}

// majorityCredibility is the mean final credibility of the items on the heavier side
func majorityCredibility(agg stance.Aggregation, selected []*model.ScoredEvidence) float64 {
	side := model.RelationshipEntails
	if agg.Signals.ContradictingCredibilitySum > agg.Signals.SupportingCredibilitySum {
		side = model.RelationshipContradicts
	}

	byID := make(map[string]*model.ScoredEvidence, len(selected))
	for _, item := range selected {
		byID[item.ID] = item
	}

	var sum float64
	var n int
	for _, c := range agg.Contributions {
		if c.Relationship != side || c.Weight == 0 {
			continue
		}
		if item, ok := byID[c.EvidenceID]; ok {
			sum += item.FinalCredibility
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func reasoning(label model.VerdictLabel, why string, confidence int, clamps []model.ConfidenceClamp) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s.", label, why)
	if len(clamps) > 0 {
		names := make([]string, 0, len(clamps))
		for _, c := range clamps {
			names = append(names, fmt.Sprintf("%s (cap %d)", c.Name, c.Cap))
		}
		fmt.Fprintf(&b, " Confidence %d after clamps: %s.", confidence, strings.Join(names, ", "))
	} else {
		fmt.Fprintf(&b, " Confidence %d, no clamps applied.", confidence)
	}
	return b.String()
}

func breakdown(agg stance.Aggregation, selected []*model.ScoredEvidence, excluded []Excluded) ([]model.EvidenceBreakdown, map[string]float64) {
	contrib := make(map[string]stance.Contribution, len(agg.Contributions))
	for _, c := range agg.Contributions {
		contrib[c.EvidenceID] = c
	}

	rows := make([]model.EvidenceBreakdown, 0, len(selected)+len(excluded))
	influence := make(map[string]float64, len(selected))

	for _, item := range selected {
		row := breakdownRow(item)
		row.Selected = true
		if c, ok := contrib[item.ID]; ok {
			row.Relationship = c.Relationship
			row.StanceSource = c.Source
			row.Weight = c.Weight
			influence[item.ID] = c.Influence
		} else {
			influence[item.ID] = 0
		}
		rows = append(rows, row)
	}
	for _, ex := range excluded {
		row := breakdownRow(ex.Item)
		row.ExclusionReason = ex.Reason
		rows = append(rows, row)
	}
	return rows, influence
}

func breakdownRow(item *model.ScoredEvidence) model.EvidenceBreakdown {
	return model.EvidenceBreakdown{
		EvidenceID:        item.ID,
		URL:               item.URL,
		Domain:            item.Domain,
		Category:          item.Category,
		RetrievalChannel:  item.RetrievalChannel,
		BaseCredibility:   item.BaseCredibility,
		FinalCredibility:  item.FinalCredibility,
		RiskLevel:         item.RiskLevel,
		IndependenceFlags: item.IndependenceFlags,
		RelevanceScore:    item.RelevanceScore,
		OffTopic:          item.OffTopic,
	}
}

func step(rule, outcome, description string, data map[string]interface{}) model.TrailStep {
	return model.TrailStep{Rule: rule, Outcome: outcome, Description: description, Data: data}
}
