package model

import (
	"fmt"
	"time"
)

// Config holds all tru8 configuration. Every numeric policy knob lives here with a
// documented default; nothing downstream hard-codes thresholds.
type Config struct {
	Policy       PolicyConfig       `yaml:"policy" mapstructure:"policy"`
	Selection    SelectionConfig    `yaml:"selection" mapstructure:"selection"`
	Relevance    RelevanceConfig    `yaml:"relevance" mapstructure:"relevance"`
	Independence IndependenceConfig `yaml:"independence" mapstructure:"independence"`
	Stance       StanceConfig       `yaml:"stance" mapstructure:"stance"`
	Tables       TablesConfig       `yaml:"tables" mapstructure:"tables"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Oracle       OracleConfig       `yaml:"oracle" mapstructure:"oracle"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" mapstructure:"retrieval"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// PolicyConfig holds the verdict decider thresholds and confidence caps
type PolicyConfig struct {
	MinSources              int     `yaml:"min_sources" mapstructure:"min_sources"`                             // Below this: insufficient_evidence
	MinCredibilityThreshold float64 `yaml:"min_credibility_threshold" mapstructure:"min_credibility_threshold"` // "Authoritative" source floor
	MinConsensusStrength    float64 `yaml:"min_consensus_strength" mapstructure:"min_consensus_strength"`       // Tunable in [0.45, 0.65]
	SupportRatio            float64 `yaml:"support_ratio" mapstructure:"support_ratio"`                         // Winning side must exceed the other by this factor

	SingleSourceCap          int     `yaml:"single_source_cap" mapstructure:"single_source_cap"`
	LowCredibilityAverage    float64 `yaml:"low_credibility_average" mapstructure:"low_credibility_average"`
	LowCredibilityCap        int     `yaml:"low_credibility_cap" mapstructure:"low_credibility_cap"`
	WeakConsensusThreshold   float64 `yaml:"weak_consensus_threshold" mapstructure:"weak_consensus_threshold"`
	WeakConsensusCap         int     `yaml:"weak_consensus_cap" mapstructure:"weak_consensus_cap"`
	DiversityShortfallCap    int     `yaml:"diversity_shortfall_cap" mapstructure:"diversity_shortfall_cap"`
	AbstentionCap            int     `yaml:"abstention_cap" mapstructure:"abstention_cap"`
	RelevanceUnavailableDrag float64 `yaml:"relevance_unavailable_drag" mapstructure:"relevance_unavailable_drag"` // Max confidence fraction lost when no relevance scores exist

	// A diversity shortfall with no authoritative stance-bearing source abstains
	DiversityShortfallAbstains bool `yaml:"diversity_shortfall_abstains" mapstructure:"diversity_shortfall_abstains"`
}

// SelectionConfig bounds the diversity selector
type SelectionConfig struct {
	MaxTotal       int `yaml:"max_total" mapstructure:"max_total"`
	MaxPerCategory int `yaml:"max_per_category" mapstructure:"max_per_category"`
	MinCategories  int `yaml:"min_categories" mapstructure:"min_categories"`
}

// RelevanceConfig configures the relevance gate
type RelevanceConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"` // No single correct value; tune per corpus
}

// IndependenceConfig configures ownership and content-similarity deduplication
type IndependenceConfig struct {
	DuplicateThreshold  float64 `yaml:"duplicate_threshold" mapstructure:"duplicate_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	SimilaritySlope     float64 `yaml:"similarity_slope" mapstructure:"similarity_slope"`
	OwnershipFloor      float64 `yaml:"ownership_floor" mapstructure:"ownership_floor"`
	OwnershipSpread     float64 `yaml:"ownership_spread" mapstructure:"ownership_spread"`
	MaxPerOwner         int     `yaml:"max_per_owner" mapstructure:"max_per_owner"`
}

// StanceConfig holds the relationship-derivation policy. The paraphrase thresholds were
// tuned against individual failure cases and need empirical re-tuning.
type StanceConfig struct {
	HighCredibility            float64 `yaml:"high_credibility" mapstructure:"high_credibility"`
	ParaphraseEnabled          bool    `yaml:"paraphrase_enabled" mapstructure:"paraphrase_enabled"`
	ParaphraseMaxContradiction float64 `yaml:"paraphrase_max_contradiction" mapstructure:"paraphrase_max_contradiction"`
	ParaphraseMinEntailment    float64 `yaml:"paraphrase_min_entailment" mapstructure:"paraphrase_min_entailment"`
	WeakSupportWeight          float64 `yaml:"weak_support_weight" mapstructure:"weak_support_weight"`
}

// TablesConfig points at reputation/ownership table overrides (embedded defaults otherwise)
type TablesConfig struct {
	ReputationFile string `yaml:"reputation_file" mapstructure:"reputation_file"`
	OwnershipFile  string `yaml:"ownership_file" mapstructure:"ownership_file"`
}

// CacheConfig selects and configures the cache backend
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend       string        `yaml:"backend" mapstructure:"backend"` // memory, disk, layered, sqlite, redis
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MemoryTTL     time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	Dir           string        `yaml:"dir" mapstructure:"dir"`
	SQLitePath    string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
}

// ConcurrencyConfig bounds fan-out at each level
type ConcurrencyConfig struct {
	ClaimWorkers   int `yaml:"claim_workers" mapstructure:"claim_workers"`     // Claims processed in parallel
	OracleWorkers  int `yaml:"oracle_workers" mapstructure:"oracle_workers"`   // In-flight oracle calls per claim
	ChannelWorkers int `yaml:"channel_workers" mapstructure:"channel_workers"` // Retrieval channels queried in parallel
}

// OracleConfig selects the stance classifier and similarity providers
type OracleConfig struct {
	Provider           string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, static
	Model              string        `yaml:"model" mapstructure:"model"`
	SimilarityProvider string        `yaml:"similarity_provider" mapstructure:"similarity_provider"` // openai, ollama, lexical
	EmbeddingModel     string        `yaml:"embedding_model" mapstructure:"embedding_model"`
	APIKey             string        `yaml:"-" mapstructure:"api_key"`
	SimilarityAPIKey   string        `yaml:"-" mapstructure:"similarity_api_key"` // Falls back to APIKey only when both providers match
	BaseURL            string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	SimilarityBaseURL  string        `yaml:"similarity_base_url,omitempty" mapstructure:"similarity_base_url"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst              int           `yaml:"burst" mapstructure:"burst"`
}

// RetrievalConfig lists the evidence retrieval channels
type RetrievalConfig struct {
	Channels          []ChannelConfig `yaml:"channels" mapstructure:"channels"`
	Timeout           time.Duration   `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64         `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int             `yaml:"burst" mapstructure:"burst"`
	MaxResults        int             `yaml:"max_results" mapstructure:"max_results"`
}

// ChannelConfig describes one retrieval channel
type ChannelConfig struct {
	Name     string `yaml:"name" mapstructure:"name"` // factcheck, authoritative, news, general
	Kind     string `yaml:"kind" mapstructure:"kind"` // http, file
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Path     string `yaml:"path,omitempty" mapstructure:"path"`
	APIKey   string `yaml:"-" mapstructure:"api_key"`
}

// HTTPConfig holds outbound HTTP settings
type HTTPConfig struct {
	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// OutputConfig controls rendering
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	Pretty  bool `yaml:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConfig{
			MinSources:               3,
			MinCredibilityThreshold:  0.75,
			MinConsensusStrength:     0.6,
			SupportRatio:             1.5,
			SingleSourceCap:          70,
			LowCredibilityAverage:    0.65,
			LowCredibilityCap:        60,
			WeakConsensusThreshold:   0.6,
			WeakConsensusCap:         50,
			DiversityShortfallCap:    80,
			AbstentionCap:            30,
			RelevanceUnavailableDrag: 0.3,

			DiversityShortfallAbstains: true,
		},
		Selection: SelectionConfig{
			MaxTotal:       10,
			MaxPerCategory: 2,
			MinCategories:  3,
		},
		Relevance: RelevanceConfig{
			Threshold: 0.65,
		},
		Independence: IndependenceConfig{
			DuplicateThreshold:  0.85,
			SimilarityThreshold: 0.70,
			SimilaritySlope:     0.5,
			OwnershipFloor:      0.6,
			OwnershipSpread:     0.2,
			MaxPerOwner:         2,
		},
		Stance: StanceConfig{
			HighCredibility:            0.75,
			ParaphraseEnabled:          true,
			ParaphraseMaxContradiction: 0.10,
			ParaphraseMinEntailment:    0.25,
			WeakSupportWeight:          0.5,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "layered",
			TTL:        30 * 24 * time.Hour,
			MemoryTTL:  time.Hour,
			Dir:        "~/.tru8/cache",
			SQLitePath: "~/.tru8/cache.db",
			RedisAddr:  "localhost:6379",
		},
		Concurrency: ConcurrencyConfig{
			ClaimWorkers:   4,
			OracleWorkers:  8,
			ChannelWorkers: 4,
		},
		Oracle: OracleConfig{
			Provider:           "static",
			SimilarityProvider: "lexical",
			Timeout:            15 * time.Second,
			RequestsPerSecond:  5,
			Burst:              5,
		},
		Retrieval: RetrievalConfig{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
			Burst:             2,
			MaxResults:        10,
		},
		HTTP: HTTPConfig{
			UserAgent: "tru8/0.1 (+https://github.com/ppiankov/tru8)",
		},
		Output: OutputConfig{
			Pretty: true,
		},
	}
}

// Validate checks that policy knobs are inside their meaningful ranges
func (c *Config) Validate() error {
	p := c.Policy
	if p.MinSources < 1 {
		return fmt.Errorf("policy.min_sources must be >= 1, got %d", p.MinSources)
	}
	if p.MinConsensusStrength < 0.45 || p.MinConsensusStrength > 0.65 {
		return fmt.Errorf("policy.min_consensus_strength must be in [0.45, 0.65], got %.2f", p.MinConsensusStrength)
	}
	if p.SupportRatio < 1 {
		return fmt.Errorf("policy.support_ratio must be >= 1, got %.2f", p.SupportRatio)
	}
	for name, v := range map[string]float64{
		"policy.min_credibility_threshold":  p.MinCredibilityThreshold,
		"relevance.threshold":               c.Relevance.Threshold,
		"stance.high_credibility":           c.Stance.HighCredibility,
		"independence.duplicate_threshold":  c.Independence.DuplicateThreshold,
		"independence.similarity_threshold": c.Independence.SimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %.2f", name, v)
		}
	}
	if c.Independence.SimilarityThreshold > c.Independence.DuplicateThreshold {
		return fmt.Errorf("independence.similarity_threshold (%.2f) must not exceed duplicate_threshold (%.2f)",
			c.Independence.SimilarityThreshold, c.Independence.DuplicateThreshold)
	}
	if c.Selection.MaxTotal < 1 || c.Selection.MaxPerCategory < 1 {
		return fmt.Errorf("selection.max_total and selection.max_per_category must be >= 1")
	}
	return nil
}
