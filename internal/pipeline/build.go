package pipeline

import (
	"fmt"
	"io"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/independence"
	"github.com/ppiankov/tru8/internal/llm"
	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/relevance"
	"github.com/ppiankov/tru8/internal/reputation"
	"github.com/ppiankov/tru8/internal/retrieval"
	"github.com/ppiankov/tru8/internal/worker"
	"go.uber.org/zap"
)

// NewEngine builds an engine from configuration: tables (file overrides or embedded
// defaults), the cache backend, rate-limited and cached oracles, and retrieval channels.
func NewEngine(cfg *model.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tables, err := loadReputation(cfg.Tables.ReputationFile)
	if err != nil {
		return nil, err
	}
	ownership, err := loadOwnership(cfg.Tables.OwnershipFile)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	limiter := worker.NewLimiter(cfg.Oracle.RequestsPerSecond, cfg.Oracle.Burst)

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.Oracle, cfg.HTTP))
	if err != nil {
		closeCache(c)
		return nil, fmt.Errorf("create stance classifier: %w", err)
	}
	// cache outside the limiter so hits never wait for a token
	classifier := llm.NewCachedProvider(llm.NewLimitedProvider(provider, limiter), c, cfg.Cache.TTL, cfg.Oracle.Model)

	similarity, err := newSimilarity(cfg, c, limiter)
	if err != nil {
		closeCache(c)
		return nil, fmt.Errorf("create similarity oracle: %w", err)
	}

	channels, err := retrieval.NewChannels(cfg.Retrieval, cfg.HTTP)
	if err != nil {
		closeCache(c)
		return nil, fmt.Errorf("create retrieval channels: %w", err)
	}

	e, err := New(Options{
		Config:     cfg,
		Reputation: tables,
		Ownership:  ownership,
		Cache:      c,
		Classifier: classifier,
		Similarity: similarity,
		Channels:   channels,
		Logger:     logger,
	})
	if err != nil {
		closeCache(c)
		return nil, err
	}
	if closer, ok := c.(io.Closer); ok {
		e.closers = append(e.closers, closer)
	}

	logger.Debug("engine ready",
		zap.String("reputation_version", tables.Version()),
		zap.String("ownership_version", ownership.Version()),
		zap.String("classifier", provider.Name()),
		zap.String("similarity", similarityName(cfg)),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Int("channels", len(channels)))

	return e, nil
}

// newSimilarity returns the lexical oracle unless an embedding provider is configured
func newSimilarity(cfg *model.Config, c cache.Cache, limiter *worker.Limiter) (relevance.Similarity, error) {
	embedder, err := llm.NewEmbedder(llm.SimilarityConfigFromModel(cfg.Oracle, cfg.HTTP))
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		return llm.LexicalSimilarity{}, nil
	}

	name := similarityName(cfg)
	embedder = llm.NewLimitedEmbedder(embedder, limiter, "embed:"+cfg.Oracle.SimilarityProvider)
	return relevance.NewCachedSimilarity(llm.NewEmbeddingSimilarity(embedder, c, cfg.Cache.TTL, name), c, cfg.Cache.TTL, name), nil
}

func similarityName(cfg *model.Config) string {
	if cfg.Oracle.SimilarityProvider == "" {
		return "lexical"
	}
	if cfg.Oracle.EmbeddingModel == "" {
		return cfg.Oracle.SimilarityProvider
	}
	return cfg.Oracle.SimilarityProvider + "/" + cfg.Oracle.EmbeddingModel
}

func loadReputation(path string) (*reputation.Tables, error) {
	if path == "" {
		t, err := reputation.DefaultTables()
		if err != nil {
			return nil, fmt.Errorf("load embedded reputation tables: %w", err)
		}
		return t, nil
	}
	t, err := reputation.LoadTables(cache.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load reputation tables %s: %w", path, err)
	}
	return t, nil
}

func loadOwnership(path string) (*independence.OwnershipTable, error) {
	if path == "" {
		t, err := independence.DefaultOwnership()
		if err != nil {
			return nil, fmt.Errorf("load embedded ownership table: %w", err)
		}
		return t, nil
	}
	t, err := independence.LoadOwnership(cache.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load ownership table %s: %w", path, err)
	}
	return t, nil
}

func closeCache(c cache.Cache) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}
