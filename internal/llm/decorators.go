package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/worker"
)

// StaticClassifier answers for offline runs where every candidate carries precomputed
// stance scores. Any call that reaches it is a miss.
type StaticClassifier struct{}

// Name returns the provider name
func (StaticClassifier) Name() string { return "static" }

// IsAvailable is always true
func (StaticClassifier) IsAvailable(context.Context) bool { return true }

// Classify always fails with ErrNoStance
func (StaticClassifier) Classify(context.Context, string, string) (model.StanceScores, error) {
	return model.StanceScores{}, ErrNoStance
}

// CachedProvider reads classifications through a cache keyed by provider, model and texts
type CachedProvider struct {
	Provider
	cache cache.Cache
	ttl   time.Duration
	model string
}

// NewCachedProvider wraps p. The static provider is returned unwrapped.
func NewCachedProvider(p Provider, c cache.Cache, ttl time.Duration, modelName string) Provider {
	if c == nil || p.Name() == "static" {
		return p
	}
	return &CachedProvider{Provider: p, cache: c, ttl: ttl, model: modelName}
}

// Classify returns cached scores or asks the wrapped provider. Failures are not cached.
func (p *CachedProvider) Classify(ctx context.Context, claimText, evidenceText string) (model.StanceScores, error) {
	key := cache.Key("stance", p.Name(), p.model, claimText, evidenceText)
	data, err := cache.ReadThrough(p.cache, key, p.ttl, func() ([]byte, error) {
		scores, err := p.Provider.Classify(ctx, claimText, evidenceText)
		if err != nil {
			return nil, err
		}
		return json.Marshal(scores)
	})
	if err != nil {
		return model.StanceScores{}, err
	}

	var scores model.StanceScores
	if err := json.Unmarshal(data, &scores); err != nil {
		_ = p.cache.Delete(key)
		return model.StanceScores{}, fmt.Errorf("decode cached stance: %w", err)
	}
	return scores, nil
}

// LimitedProvider waits on a shared limiter before every classification
type LimitedProvider struct {
	Provider
	limiter *worker.Limiter
}

// NewLimitedProvider wraps p; calls are keyed by the provider name
func NewLimitedProvider(p Provider, limiter *worker.Limiter) Provider {
	if limiter == nil || p.Name() == "static" {
		return p
	}
	return &LimitedProvider{Provider: p, limiter: limiter}
}

// Classify blocks on the limiter, then delegates
func (p *LimitedProvider) Classify(ctx context.Context, claimText, evidenceText string) (model.StanceScores, error) {
	if err := p.limiter.Wait(ctx, p.Name()); err != nil {
		return model.StanceScores{}, fmt.Errorf("rate limit: %w", err)
	}
	return p.Provider.Classify(ctx, claimText, evidenceText)
}

// LimitedEmbedder waits on a shared limiter before every embedding call
type LimitedEmbedder struct {
	embedder Embedder
	limiter  *worker.Limiter
	key      string
}

// NewLimitedEmbedder wraps e; calls are keyed by key
func NewLimitedEmbedder(e Embedder, limiter *worker.Limiter, key string) Embedder {
	if limiter == nil {
		return e
	}
	return &LimitedEmbedder{embedder: e, limiter: limiter, key: key}
}

// Embed blocks on the limiter, then delegates
func (e *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := e.limiter.Wait(ctx, e.key); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return e.embedder.Embed(ctx, text)
}
