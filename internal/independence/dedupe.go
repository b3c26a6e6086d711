package independence

import (
	"sort"

	"github.com/ppiankov/tru8/internal/model"
	"go.uber.org/zap"
)

// Removal records an item dropped by the deduplicator
type Removal struct {
	Item       *model.ScoredEvidence  `json:"-"`
	EvidenceID string                 `json:"evidence_id"`
	Reason     model.IndependenceFlag `json:"reason"`
	KeptID     string                 `json:"kept_id,omitempty"`    // Survivor that made this item redundant
	Similarity float64                `json:"similarity,omitempty"` // For duplicate_content
}

// Result is the deduplicated list plus what was removed and why
type Result struct {
	Kept    []*model.ScoredEvidence
	Removed []Removal
}

// Deduplicator clusters evidence by shared ownership and by content similarity
type Deduplicator struct {
	table  *OwnershipTable
	cfg    model.IndependenceConfig
	logger *zap.Logger
}

// NewDeduplicator creates a deduplicator over an ownership table
func NewDeduplicator(table *OwnershipTable, cfg model.IndependenceConfig, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{table: table, cfg: cfg, logger: logger}
}

// OwnershipPenalty is the credibility factor for a member of a group of the given size
func (d *Deduplicator) OwnershipPenalty(groupSize int) float64 {
	if groupSize <= 1 {
		return 1.0
	}
	return d.cfg.OwnershipFloor + d.cfg.OwnershipSpread/float64(groupSize)
}

// SimilarityPenalty is the credibility factor for content similarity below the duplicate threshold
func (d *Deduplicator) SimilarityPenalty(similarity float64) float64 {
	if similarity < d.cfg.SimilarityThreshold {
		return 1.0
	}
	return model.Clamp(1.0-(similarity-d.cfg.SimilarityThreshold)*d.cfg.SimilaritySlope, 0, 1)
}

// Dedupe annotates items in place and returns the survivors ranked by credibility.
// The ownership penalty depends on how many members of a group survive duplicate
// removal. That count is recorded on each item and a later call never lowers it, so
// running Dedupe on its own output changes nothing.
func (d *Deduplicator) Dedupe(items []*model.ScoredEvidence, sims Similarities) Result {
	if sims == nil {
		sims = make(Similarities)
	}

	for _, item := range items {
		item.OwnerGroupID, item.OwnerName = "", ""
		item.OwnershipPenalty = 1.0
		item.SimilarityPenalty = 1.0
		item.ContentSimilarityMax = 0
		item.RemoveFlag(model.FlagSharedOwnership)
		item.RemoveFlag(model.FlagSimilarContent)
		item.RemoveFlag(model.FlagDuplicateContent)
		item.RemoveFlag(model.FlagOwnerGroupPruned)

		if group, ok := d.table.GroupFor(item.Domain); ok {
			item.OwnerGroupID = group.ID
			item.OwnerName = group.Owner
		}
		item.Recompute()
	}

	ordered := make([]*model.ScoredEvidence, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool { return model.RankBefore(ordered[i], ordered[j]) })

	var result Result

	// Near-duplicates: keep the higher-ranked member
	kept := make([]*model.ScoredEvidence, 0, len(ordered))
	for _, item := range ordered {
		dupOf, sim := d.duplicateOf(item, kept, sims)
		if dupOf == nil {
			kept = append(kept, item)
			continue
		}
		item.AddFlag(model.FlagDuplicateContent)
		result.Removed = append(result.Removed, Removal{
			Item:       item,
			EvidenceID: item.ID,
			Reason:     model.FlagDuplicateContent,
			KeptID:     dupOf.ID,
			Similarity: sim,
		})
		d.logger.Debug("dropped duplicate evidence",
			zap.String("evidence_id", item.ID),
			zap.String("kept_id", dupOf.ID),
			zap.Float64("similarity", sim))
	}

	d.applyOwnershipPenalties(kept)

	// Order without the similarity penalty: the earlier item of a similar pair is the original
	sort.SliceStable(kept, func(i, j int) bool { return model.RankBefore(kept[i], kept[j]) })
	d.applySimilarityPenalties(kept, sims)

	// Owner groups keep their top members by final credibility
	byFinal := make([]*model.ScoredEvidence, len(kept))
	copy(byFinal, kept)
	sort.SliceStable(byFinal, func(i, j int) bool { return model.RankBefore(byFinal[i], byFinal[j]) })

	perOwner := make(map[string]int)
	leader := make(map[string]string)
	pruned := make(map[*model.ScoredEvidence]bool)
	for _, item := range byFinal {
		if item.OwnerGroupID == "" {
			continue
		}
		perOwner[item.OwnerGroupID]++
		if perOwner[item.OwnerGroupID] == 1 {
			leader[item.OwnerGroupID] = item.ID
		}
		if d.cfg.MaxPerOwner > 0 && perOwner[item.OwnerGroupID] > d.cfg.MaxPerOwner {
			pruned[item] = true
			item.AddFlag(model.FlagOwnerGroupPruned)
			result.Removed = append(result.Removed, Removal{
				Item:       item,
				EvidenceID: item.ID,
				Reason:     model.FlagOwnerGroupPruned,
				KeptID:     leader[item.OwnerGroupID],
			})
			d.logger.Debug("pruned owner group member",
				zap.String("evidence_id", item.ID),
				zap.String("owner_group", item.OwnerGroupID))
		}
	}

	if len(pruned) > 0 {
		survivors := kept[:0:0]
		for _, item := range kept {
			if !pruned[item] {
				survivors = append(survivors, item)
			}
		}
		kept = survivors
		d.applySimilarityPenalties(kept, sims)
	}

	sort.SliceStable(kept, func(i, j int) bool { return model.RankBefore(kept[i], kept[j]) })
	result.Kept = kept
	return result
}

// applyOwnershipPenalties penalizes every member of an owner group with at least two
// members in the pool
func (d *Deduplicator) applyOwnershipPenalties(items []*model.ScoredEvidence) {
	size := make(map[string]int)
	present := make(map[string]int)
	for _, item := range items {
		if item.OwnerGroupID == "" {
			continue
		}
		present[item.OwnerGroupID]++
		size[item.OwnerGroupID] = max(size[item.OwnerGroupID], item.OwnerClusterSize, present[item.OwnerGroupID])
	}

	for _, item := range items {
		if item.OwnerGroupID == "" {
			item.OwnerClusterSize = 0
			continue
		}
		n := size[item.OwnerGroupID]
		item.OwnerClusterSize = n
		if n > 1 {
			item.OwnershipPenalty = d.OwnershipPenalty(n)
			item.AddFlag(model.FlagSharedOwnership)
			item.Recompute()
		}
	}
}

// duplicateOf returns the first kept item the candidate duplicates
func (d *Deduplicator) duplicateOf(item *model.ScoredEvidence, kept []*model.ScoredEvidence, sims Similarities) (*model.ScoredEvidence, float64) {
	for _, k := range kept {
		if sim, ok := sims.Get(item.ID, k.ID); ok && sim >= d.cfg.DuplicateThreshold {
			return k, sim
		}
	}
	return nil, 0
}

// applySimilarityPenalties expects items in pre-penalty rank order. Each item records its
// highest similarity to any other item; only the later member of a similar pair is penalized.
func (d *Deduplicator) applySimilarityPenalties(items []*model.ScoredEvidence, sims Similarities) {
	for i, item := range items {
		item.SimilarityPenalty = 1.0
		item.ContentSimilarityMax = 0
		item.RemoveFlag(model.FlagSimilarContent)

		var earlierMax float64
		for j, other := range items {
			if i == j {
				continue
			}
			sim, ok := sims.Get(item.ID, other.ID)
			if !ok {
				continue
			}
			if sim > item.ContentSimilarityMax {
				item.ContentSimilarityMax = sim
			}
			if j < i && sim > earlierMax {
				earlierMax = sim
			}
		}

		if earlierMax >= d.cfg.SimilarityThreshold {
			item.SimilarityPenalty = d.SimilarityPenalty(earlierMax)
			item.AddFlag(model.FlagSimilarContent)
		}
		item.Recompute()
	}
}
