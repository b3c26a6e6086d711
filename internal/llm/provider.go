package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
)

// Provider is an LLM backend that can act as the stance oracle
type Provider interface {
	// Name returns the provider name
	Name() string

	// Classify returns entailment/neutral/contradiction probabilities of evidence toward a claim
	Classify(ctx context.Context, claimText, evidenceText string) (model.StanceScores, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Embedder is implemented by providers that expose text embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

const defaultTimeout = 30 * time.Second

// ErrNoStance is returned by the static classifier for evidence without precomputed scores
var ErrNoStance = errors.New("no precomputed stance scores and no classifier configured")

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", "static"
	Provider string

	// Model name (provider-specific)
	Model string

	// EmbeddingModel is used by the similarity oracle
	EmbeddingModel string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// MaxTokens for the classification response
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "static",
		Timeout:   defaultTimeout,
		MaxTokens: 200,
	}
}

func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return fallback
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 200
}

const systemPrompt = "You are a natural language inference classifier. You judge whether a piece of evidence entails, contradicts, or is neutral toward a claim. You never use outside knowledge."

// BuildStancePrompt constructs the classification prompt for one (claim, evidence) pair
func BuildStancePrompt(claimText, evidenceText string) string {
	return fmt.Sprintf(`Classify the relationship between the EVIDENCE and the CLAIM.

RULES:
1. Judge only what the evidence text says. Do not use outside knowledge.
2. "entailment": the evidence asserts the claim or a paraphrase of it.
3. "contradiction": the evidence asserts something incompatible with the claim.
4. "neutral": the evidence neither asserts nor denies the claim.
5. Respond with a single JSON object of probabilities that sum to 1:
   {"entailment": 0.0, "neutral": 0.0, "contradiction": 0.0}

CLAIM:
%s

EVIDENCE:
%s
`, strings.TrimSpace(claimText), strings.TrimSpace(evidenceText))
}

type stancePayload struct {
	Entailment    *float64 `json:"entailment"`
	Neutral       *float64 `json:"neutral"`
	Contradiction *float64 `json:"contradiction"`
	Label         string   `json:"label"`
}

// ParseStanceScores extracts stance probabilities from a model response. The response may
// wrap the JSON object in prose or code fences. A bare label is accepted as a one-hot answer.
func ParseStanceScores(text string) (model.StanceScores, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return model.StanceScores{}, fmt.Errorf("no JSON object in response: %q", truncate(text, 80))
	}

	var p stancePayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return model.StanceScores{}, fmt.Errorf("parse stance response: %w", err)
	}

	if p.Entailment != nil || p.Neutral != nil || p.Contradiction != nil {
		s := model.StanceScores{
			Entailment:    deref(p.Entailment),
			Neutral:       deref(p.Neutral),
			Contradiction: deref(p.Contradiction),
		}
		return s.Normalized(), nil
	}

	switch strings.ToLower(strings.TrimSpace(p.Label)) {
	case "entailment", "entails", "support", "supports":
		return model.StanceScores{Entailment: 1}, nil
	case "contradiction", "contradicts", "refute", "refutes":
		return model.StanceScores{Contradiction: 1}, nil
	case "neutral":
		return model.StanceScores{Neutral: 1}, nil
	}
	return model.StanceScores{}, fmt.Errorf("stance response carries no scores: %q", truncate(text, 80))
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
