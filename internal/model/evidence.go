package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// EvidenceCandidate is a raw retrieval result before scoring
type EvidenceCandidate struct {
	ID               string     `json:"id"`                       // Evidence ID (derived from URL when empty)
	URL              string     `json:"url"`                      // Full URL
	Domain           string     `json:"domain,omitempty"`         // Host (derived from URL when empty)
	Title            string     `json:"title,omitempty"`          // Page or result title
	Snippet          string     `json:"snippet,omitempty"`        // Retrieved text snippet
	PublishedDate    *time.Time `json:"published_date,omitempty"` // Publication date if known
	RetrievalChannel string     `json:"retrieval_channel,omitempty"`
	SearchRank       int        `json:"search_rank"` // 1-based rank within its channel (0 = unranked)

	// Stance optionally carries precomputed classifier output for offline runs
	Stance *StanceScores `json:"stance,omitempty"`
}

// Normalize fills derived fields (ID, Domain) in place
func (c *EvidenceCandidate) Normalize() {
	if c.Domain == "" {
		c.Domain = HostFromURL(c.URL)
	}
	if c.ID == "" {
		c.ID = EvidenceID(c.URL)
	}
}

// Text returns the text compared against the claim (title + snippet)
func (c *EvidenceCandidate) Text() string {
	switch {
	case c.Title == "":
		return c.Snippet
	case c.Snippet == "":
		return c.Title
	default:
		return c.Title + ". " + c.Snippet
	}
}

// EvidenceID derives a stable evidence identifier from a URL
func EvidenceID(rawURL string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(rawURL)))
	return "ev-" + hex.EncodeToString(hash[:6])
}

// HostFromURL extracts the lowercase host (without port) from a URL
func HostFromURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// RiskLevel classifies the reputation risk of a source
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
	RiskSatire RiskLevel = "satire"
)

// DefaultAdjustment returns the credibility multiplier used when a risk entry has none
func (r RiskLevel) DefaultAdjustment() float64 {
	switch r {
	case RiskMedium:
		return 0.8
	case RiskHigh:
		return 0.2
	case RiskSatire:
		return 0.0
	default:
		return 1.0
	}
}

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskNone, RiskLow, RiskMedium, RiskHigh, RiskSatire:
		return true
	}
	return false
}

// Category is the coarse source bucket used by the diversity selector
type Category string

const (
	CategoryFactcheck  Category = "factcheck"
	CategoryScientific Category = "scientific"
	CategoryGovernment Category = "government"
	CategoryAcademic   Category = "academic"
	CategoryTier1News  Category = "tier1_news"
	CategoryTier2News  Category = "tier2_news"
	CategoryGeneral    Category = "general"
)

// CategoryPriority lists categories from most to least preferred
var CategoryPriority = []Category{
	CategoryFactcheck,
	CategoryScientific,
	CategoryGovernment,
	CategoryAcademic,
	CategoryTier1News,
	CategoryTier2News,
	CategoryGeneral,
}

// Priority returns the rank of the category (0 = highest). Unknown categories rank last.
func (c Category) Priority() int {
	for i, cat := range CategoryPriority {
		if cat == c {
			return i
		}
	}
	return len(CategoryPriority)
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return c.Priority() < len(CategoryPriority)
}

// IndependenceFlag records why an item was treated as partially redundant
type IndependenceFlag string

const (
	FlagSharedOwnership  IndependenceFlag = "shared_ownership"
	FlagDuplicateContent IndependenceFlag = "duplicate_content"
	FlagSimilarContent   IndependenceFlag = "similar_content"
	FlagOwnerGroupPruned IndependenceFlag = "owner_group_pruned"
)

// ScoredEvidence is a candidate enriched by the resolver, deduplicator and gatekeeper.
// Stages share pointers and annotate in place.
type ScoredEvidence struct {
	EvidenceCandidate

	// Reputation
	BaseCredibility       float64   `json:"base_credibility"`
	PageQualityMultiplier float64   `json:"page_quality_multiplier"`
	QualityFlags          []string  `json:"quality_flags,omitempty"`
	RiskLevel             RiskLevel `json:"risk_level"`
	RiskFlags             []string  `json:"risk_flags,omitempty"`
	RiskAdjustment        float64   `json:"risk_adjustment"`
	Category              Category  `json:"category"`

	// Independence
	OwnerGroupID         string             `json:"owner_group_id,omitempty"`
	OwnerName            string             `json:"owner_name,omitempty"`
	OwnerClusterSize     int                `json:"owner_cluster_size,omitempty"` // Co-owned items seen in the pool
	OwnershipPenalty     float64            `json:"ownership_penalty"`
	SimilarityPenalty    float64            `json:"similarity_penalty"`
	ContentSimilarityMax float64            `json:"content_similarity_max"`
	IndependenceFlags    []IndependenceFlag `json:"independence_flags,omitempty"`

	// Relevance
	RelevanceScore       float64 `json:"relevance_score"`
	OffTopic             bool    `json:"off_topic"`
	RelevanceUnavailable bool    `json:"relevance_unavailable,omitempty"`

	FinalCredibility float64 `json:"final_credibility"`
}

// NewScoredEvidence wraps a candidate with neutral factors
func NewScoredEvidence(c EvidenceCandidate) *ScoredEvidence {
	c.Normalize()
	return &ScoredEvidence{
		EvidenceCandidate:     c,
		PageQualityMultiplier: 1.0,
		RiskLevel:             RiskNone,
		RiskAdjustment:        1.0,
		Category:              CategoryGeneral,
		OwnershipPenalty:      1.0,
		SimilarityPenalty:     1.0,
	}
}

// IndependencePenalty is the combined ownership and content-similarity factor
func (e *ScoredEvidence) IndependencePenalty() float64 {
	return e.OwnershipPenalty * e.SimilarityPenalty
}

// Recompute derives FinalCredibility from the current factors. The page-quality
// multiplier is capped at the base before risk and independence apply, so a boost never
// lifts the score above the base and never absorbs a later penalty.
func (e *ScoredEvidence) Recompute() float64 {
	ceiling := Clamp(e.BaseCredibility*e.PageQualityMultiplier, 0, e.BaseCredibility)
	score := ceiling * e.RiskAdjustment * e.IndependencePenalty()
	e.FinalCredibility = Clamp(score, 0, Clamp(e.BaseCredibility, 0, 1))
	return e.FinalCredibility
}

// HasFlag reports whether the item carries the given independence flag
func (e *ScoredEvidence) HasFlag(flag IndependenceFlag) bool {
	for _, f := range e.IndependenceFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag adds an independence flag once
func (e *ScoredEvidence) AddFlag(flag IndependenceFlag) {
	if !e.HasFlag(flag) {
		e.IndependenceFlags = append(e.IndependenceFlags, flag)
	}
}

// RemoveFlag drops an independence flag if present
func (e *ScoredEvidence) RemoveFlag(flag IndependenceFlag) {
	kept := e.IndependenceFlags[:0]
	for _, f := range e.IndependenceFlags {
		if f != flag {
			kept = append(kept, f)
		}
	}
	e.IndependenceFlags = kept
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RankBefore orders evidence by credibility desc, then earlier search rank, then category
// priority, then ID. Used wherever the engine needs a deterministic tie-break.
func RankBefore(a, b *ScoredEvidence) bool {
	if a.FinalCredibility != b.FinalCredibility {
		return a.FinalCredibility > b.FinalCredibility
	}
	if ra, rb := effectiveRank(a.SearchRank), effectiveRank(b.SearchRank); ra != rb {
		return ra < rb
	}
	if pa, pb := a.Category.Priority(), b.Category.Priority(); pa != pb {
		return pa < pb
	}
	return a.ID < b.ID
}

// effectiveRank sorts unranked (0) items after ranked ones
func effectiveRank(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
