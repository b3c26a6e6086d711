package relevance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Similarity scores the semantic similarity of two texts in [0, 1]
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// CachedSimilarity reads similarity scores through a cache keyed by a hash of the pair
type CachedSimilarity struct {
	inner Similarity
	cache cache.Cache
	ttl   time.Duration
	name  string
}

// NewCachedSimilarity wraps an oracle; name separates providers that score differently
func NewCachedSimilarity(inner Similarity, c cache.Cache, ttl time.Duration, name string) *CachedSimilarity {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &CachedSimilarity{inner: inner, cache: c, ttl: ttl, name: name}
}

// Similarity returns the cached score or asks the wrapped oracle. Failures are not cached.
func (s *CachedSimilarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	// similarity is symmetric, so both orders share one entry
	if b < a {
		a, b = b, a
	}
	key := cache.Key("similarity", s.name, a, b)
	data, err := cache.ReadThrough(s.cache, key, s.ttl, func() ([]byte, error) {
		score, err := s.inner.Similarity(ctx, a, b)
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatFloat(score, 'f', -1, 64)), nil
	})
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		_ = s.cache.Delete(key)
		return 0, fmt.Errorf("corrupt cached similarity: %w", err)
	}
	return score, nil
}

// Report summarizes one gate pass
type Report struct {
	Relevant    int `json:"relevant"`
	OffTopic    int `json:"off_topic"`
	Unavailable int `json:"unavailable"`
}

// Gatekeeper marks evidence that is not about the claim as off-topic so it is never
// read as contradiction
type Gatekeeper struct {
	oracle    Similarity
	threshold float64
	timeout   time.Duration
	workers   int
	logger    *zap.Logger
}

// NewGatekeeper creates a gate over a similarity oracle
func NewGatekeeper(oracle Similarity, cfg model.RelevanceConfig, timeout time.Duration, workers int, logger *zap.Logger) *Gatekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Gatekeeper{
		oracle:    oracle,
		threshold: cfg.Threshold,
		timeout:   timeout,
		workers:   workers,
		logger:    logger,
	}
}

// Threshold returns the relevance cut-off
func (g *Gatekeeper) Threshold() float64 {
	return g.threshold
}

// Score returns the relevance of evidence text to the claim, bounded by the oracle timeout
func (g *Gatekeeper) Score(ctx context.Context, claimText, evidenceText string) (float64, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	score, err := g.oracle.Similarity(ctx, claimText, evidenceText)
	if err != nil {
		return 0, err
	}
	return model.Clamp(score, 0, 1), nil
}

// IsRelevant reports whether a score passes the gate
func (g *Gatekeeper) IsRelevant(score float64) bool {
	return score >= g.threshold
}

// Apply scores every item against the claim and annotates it in place.
// Items the oracle cannot score stay in, flagged RelevanceUnavailable.
func (g *Gatekeeper) Apply(ctx context.Context, claimText string, items []*model.ScoredEvidence) Report {
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for _, item := range items {
		eg.Go(func() error {
			item.OffTopic = false
			item.RelevanceUnavailable = false

			score, err := g.Score(egctx, claimText, item.Text())
			if err != nil {
				item.RelevanceScore = 0
				item.RelevanceUnavailable = true
				g.logger.Warn("relevance unavailable",
					zap.String("evidence_id", item.ID),
					zap.Error(err))
				return nil
			}
			item.RelevanceScore = score
			item.OffTopic = !g.IsRelevant(score)
			return nil
		})
	}
	_ = eg.Wait()

	var report Report
	for _, item := range items {
		switch {
		case item.RelevanceUnavailable:
			report.Unavailable++
		case item.OffTopic:
			report.OffTopic++
		default:
			report.Relevant++
		}
	}
	return report
}
