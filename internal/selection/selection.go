package selection

import (
	"sort"

	"github.com/ppiankov/tru8/internal/model"
	"go.uber.org/zap"
)

// Exclusion reasons
const (
	ReasonSatire      = "satire"
	ReasonCategoryCap = "category_cap"
	ReasonMaxTotal    = "max_total"
)

// Exclusion records why an item was not selected
type Exclusion struct {
	Item       *model.ScoredEvidence `json:"-"`
	EvidenceID string                `json:"evidence_id"`
	Reason     string                `json:"reason"`
}

// Selection is the bounded, category-balanced evidence subset
type Selection struct {
	Selected           []*model.ScoredEvidence
	Excluded           []Exclusion
	DistinctCategories int
	DiversityShortfall bool
}

// Select picks at most maxTotal items: first the best item of each category in priority
// order, then the best of the rest with at most maxPerCategory per category. Satire is
// never selected. Fewer than minCategories distinct categories is a diversity shortfall.
func Select(items []*model.ScoredEvidence, maxTotal, maxPerCategory, minCategories int) Selection {
	var sel Selection

	pool := make([]*model.ScoredEvidence, 0, len(items))
	for _, item := range items {
		if item.RiskLevel == model.RiskSatire {
			sel.Excluded = append(sel.Excluded, Exclusion{Item: item, EvidenceID: item.ID, Reason: ReasonSatire})
			continue
		}
		pool = append(pool, item)
	}
	sort.SliceStable(pool, func(i, j int) bool { return model.RankBefore(pool[i], pool[j]) })

	chosen := make(map[*model.ScoredEvidence]bool)
	perCategory := make(map[model.Category]int)
	take := func(item *model.ScoredEvidence) {
		chosen[item] = true
		perCategory[item.Category]++
		sel.Selected = append(sel.Selected, item)
	}

	// Step 1: one per category, highest priority first
	for _, category := range model.CategoryPriority {
		if len(sel.Selected) >= maxTotal {
			break
		}
		for _, item := range pool {
			if item.Category == category {
				take(item)
				break
			}
		}
	}

	// Step 2: fill by credibility
	for _, item := range pool {
		if chosen[item] {
			continue
		}
		switch {
		case len(sel.Selected) >= maxTotal:
			sel.Excluded = append(sel.Excluded, Exclusion{Item: item, EvidenceID: item.ID, Reason: ReasonMaxTotal})
		case perCategory[item.Category] >= maxPerCategory:
			sel.Excluded = append(sel.Excluded, Exclusion{Item: item, EvidenceID: item.ID, Reason: ReasonCategoryCap})
		default:
			take(item)
		}
	}

	sort.SliceStable(sel.Selected, func(i, j int) bool { return model.RankBefore(sel.Selected[i], sel.Selected[j]) })
	sel.DistinctCategories = len(perCategory)
	sel.DiversityShortfall = sel.DistinctCategories < minCategories
	return sel
}

// Selector applies Select with configured bounds
type Selector struct {
	cfg    model.SelectionConfig
	logger *zap.Logger
}

// NewSelector creates a selector
func NewSelector(cfg model.SelectionConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{cfg: cfg, logger: logger}
}

// Select runs the diversity selector and logs a shortfall
func (s *Selector) Select(claimID string, items []*model.ScoredEvidence) Selection {
	sel := Select(items, s.cfg.MaxTotal, s.cfg.MaxPerCategory, s.cfg.MinCategories)
	if sel.DiversityShortfall {
		s.logger.Info("diversity shortfall",
			zap.String("claim_id", claimID),
			zap.Int("distinct_categories", sel.DistinctCategories),
			zap.Int("min_categories", s.cfg.MinCategories),
			zap.Int("selected", len(sel.Selected)))
	}
	return sel
}
