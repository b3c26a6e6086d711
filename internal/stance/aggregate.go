package stance

import (
	"github.com/ppiankov/tru8/internal/model"
)

// Contribution is one item's share of the weighted consensus
type Contribution struct {
	EvidenceID   string             `json:"evidence_id"`
	Relationship model.Relationship `json:"relationship"`
	Weak         bool               `json:"weak,omitempty"`
	Source       model.StanceSource `json:"source"`
	Weight       float64            `json:"weight"`
	Influence    float64            `json:"influence"`
}

// Aggregation is the output of Aggregate
type Aggregation struct {
	Signals       model.VerificationSignals
	Contributions []Contribution // same order as the selected items
}

// ConsensusStrength is the share of stance weight on the majority side; 0 with no weight
func ConsensusStrength(supporting, contradicting float64) float64 {
	total := supporting + contradicting
	if total <= 0 {
		return 0
	}
	if supporting >= contradicting {
		return supporting / total
	}
	return contradicting / total
}

// Aggregator turns stance results into credibility-weighted signals
type Aggregator struct {
	highCredibility   float64
	weakSupportWeight float64
	minCategories     int
}

// NewAggregator creates an aggregator
func NewAggregator(cfg model.StanceConfig, minCategories int) *Aggregator {
	return &Aggregator{
		highCredibility:   cfg.HighCredibility,
		weakSupportWeight: cfg.WeakSupportWeight,
		minCategories:     minCategories,
	}
}

// Aggregate weights each selected item's relationship by its final credibility.
// Off-topic items and failed classifications count as neutral sources with no weight.
// An item with no stance result is treated as a failed classification.
func (a *Aggregator) Aggregate(selected []*model.ScoredEvidence, results []model.StanceResult) Aggregation {
	byID := make(map[string]model.StanceResult, len(results))
	for _, r := range results {
		byID[r.EvidenceID] = r
	}

	var sig model.VerificationSignals
	sig.TotalSources = len(selected)

	contributions := make([]Contribution, 0, len(selected))
	categories := make(map[model.Category]bool)
	var credSum float64
	var relevant int

	for _, item := range selected {
		categories[item.Category] = true
		if item.RelevanceUnavailable {
			sig.RelevanceUnavailable++
		}

		res, ok := byID[item.ID]
		if !ok {
			res = model.FailedStance(item.ID, nil)
		}
		if item.OffTopic && res.Source != model.StanceFromRelevanceGate {
			// the gate is authoritative even if a classifier result slipped through
			res = model.GatedStance(item.ID)
		}

		if !item.OffTopic {
			relevant++
			credSum += item.FinalCredibility
			if item.FinalCredibility > sig.MaxCredibilityScore {
				sig.MaxCredibilityScore = item.FinalCredibility
			}
		}

		c := Contribution{
			EvidenceID:   item.ID,
			Relationship: res.Relationship,
			Weak:         res.Weak,
			Source:       res.Source,
		}

		switch {
		case res.Source == model.StanceFromRelevanceGate:
			sig.OffTopic++
			sig.Neutral++
			c.Relationship = model.RelationshipNeutral
		case res.Source == model.StanceFromFailure:
			sig.StanceFailures++
			sig.Neutral++
			c.Relationship = model.RelationshipNeutral
		case res.Relationship == model.RelationshipEntails:
			sig.Supporting++
			c.Weight = a.weight(item, res)
			sig.SupportingCredibilitySum += c.Weight
			if !res.Weak && item.FinalCredibility >= a.highCredibility {
				sig.HighCredibilitySupporting++
			}
		case res.Relationship == model.RelationshipContradicts:
			sig.Contradicting++
			c.Weight = a.weight(item, res)
			sig.ContradictingCredibilitySum += c.Weight
			if item.FinalCredibility >= a.highCredibility {
				sig.HighCredibilityContradicting++
			}
		default:
			sig.Neutral++
		}
		contributions = append(contributions, c)
	}

	if relevant > 0 {
		sig.AverageCredibility = credSum / float64(relevant)
	}
	sig.ConsensusStrength = ConsensusStrength(sig.SupportingCredibilitySum, sig.ContradictingCredibilitySum)
	sig.DistinctCategories = len(categories)
	sig.DiversityShortfall = sig.DistinctCategories < a.minCategories

	if total := sig.TotalWeight(); total > 0 {
		for i := range contributions {
			contributions[i].Influence = contributions[i].Weight / total
		}
	}

	return Aggregation{Signals: sig, Contributions: contributions}
}

func (a *Aggregator) weight(item *model.ScoredEvidence, res model.StanceResult) float64 {
	if res.Weak {
		return item.FinalCredibility * a.weakSupportWeight
	}
	return item.FinalCredibility
}
