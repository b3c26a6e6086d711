package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/tru8/internal/model"
)

// NewProvider creates the stance provider named by config.Provider
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "static", "":
		return StaticClassifier{}, nil

	default:
		return nil, fmt.Errorf("unknown stance provider: %s (supported: openai, anthropic, ollama, static)", config.Provider)
	}
}

// NewEmbedder creates the embedding backend named by config.Provider.
// Returns nil for the lexical oracle, which needs none.
func NewEmbedder(config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "lexical", "":
		return nil, nil

	case "anthropic", "claude":
		return nil, fmt.Errorf("anthropic has no embeddings API; use openai, ollama or lexical similarity")

	default:
		return nil, fmt.Errorf("unknown similarity provider: %s (supported: openai, ollama, lexical)", config.Provider)
	}
}

// ConfigFromModel converts the oracle and HTTP sections into a stance provider config
func ConfigFromModel(oracle model.OracleConfig, http model.HTTPConfig) Config {
	return Config{
		Provider:       oracle.Provider,
		Model:          oracle.Model,
		EmbeddingModel: oracle.EmbeddingModel,
		APIKey:         oracle.APIKey,
		BaseURL:        oracle.BaseURL,
		Timeout:        oracle.Timeout,
		MaxTokens:      DefaultConfig().MaxTokens,
		HTTPProxy:      http.HTTPProxy,
		HTTPSProxy:     http.HTTPSProxy,
		NoProxy:        http.NoProxy,
	}
}

// SimilarityConfigFromModel is ConfigFromModel with the similarity provider selected.
// The stance credentials carry over only when both oracles use the same provider.
func SimilarityConfigFromModel(oracle model.OracleConfig, http model.HTTPConfig) Config {
	c := ConfigFromModel(oracle, http)
	c.Provider = oracle.SimilarityProvider
	c.APIKey, c.BaseURL = oracle.SimilarityAPIKey, oracle.SimilarityBaseURL
	if strings.EqualFold(oracle.SimilarityProvider, oracle.Provider) {
		if c.APIKey == "" {
			c.APIKey = oracle.APIKey
		}
		if c.BaseURL == "" {
			c.BaseURL = oracle.BaseURL
		}
	}
	return c
}
