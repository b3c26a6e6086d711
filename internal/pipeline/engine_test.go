package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/retrieval"
	"go.uber.org/zap/zaptest"
)

const testClaim = "Vaccines cause measurable immunity in adults"

// topicSimilarity scores the claim against evidence as relevant unless the evidence is
// marked unrelated; evidence pairs never look alike
type topicSimilarity struct{}

func (topicSimilarity) Similarity(_ context.Context, a, b string) (float64, error) {
	if strings.Contains(a+b, "unrelated") {
		return 0.1, nil
	}
	if a == testClaim || b == testClaim {
		return 0.9, nil
	}
	return 0.1, nil
}

var (
	entails     = &model.StanceScores{Entailment: 0.9, Neutral: 0.05, Contradiction: 0.05}
	contradicts = &model.StanceScores{Entailment: 0.05, Neutral: 0.05, Contradiction: 0.9}
	neutral     = &model.StanceScores{Entailment: 0.1, Neutral: 0.8, Contradiction: 0.1}
)

func candidate(rawURL string, rank int, scores *model.StanceScores) model.EvidenceCandidate {
	return model.EvidenceCandidate{
		URL:        rawURL,
		Title:      "Report on adult immunity",
		Snippet:    "Results for " + rawURL,
		SearchRank: rank,
		Stance:     scores,
	}
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Similarity == nil {
		opts.Similarity = topicSimilarity{}
	}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func claim() model.Claim {
	return model.Claim{ID: "claim-1", Text: testClaim}
}

func TestEngine_Evaluate(t *testing.T) {
	tests := []struct {
		desc       string
		candidates []model.EvidenceCandidate
		want       model.VerdictLabel
	}{
		{
			desc: "diverse authoritative support",
			candidates: []model.EvidenceCandidate{
				candidate("https://www.snopes.com/a", 1, entails),
				candidate("https://www.nature.com/b", 2, entails),
				candidate("https://www.cdc.gov/c", 3, entails),
				candidate("https://www.reuters.com/d", 4, entails),
			},
			want: model.VerdictSupported,
		},
		{
			desc: "diverse authoritative contradiction",
			candidates: []model.EvidenceCandidate{
				candidate("https://www.snopes.com/a", 1, contradicts),
				candidate("https://www.nature.com/b", 2, contradicts),
				candidate("https://www.cdc.gov/c", 3, contradicts),
			},
			want: model.VerdictContradicted,
		},
		{
			desc: "three sources disagree",
			candidates: []model.EvidenceCandidate{
				candidate("https://www.nature.com/a", 1, entails),
				candidate("https://www.who.int/b", 2, contradicts),
				candidate("https://www.reuters.com/c", 3, neutral),
			},
			want: model.VerdictConflictingExpertOpinion,
		},
		{
			desc: "fact-checker against a tier 2 outlet",
			candidates: []model.EvidenceCandidate{
				candidate("https://www.snopes.com/a", 1, entails),
				candidate("https://www.aljazeera.com/b", 2, contradicts),
				candidate("https://example.org/c", 3, neutral),
			},
			want: model.VerdictConflictingExpertOpinion,
		},
		{
			desc: "two sources are not enough",
			candidates: []model.EvidenceCandidate{
				candidate("https://www.nature.com/a", 1, entails),
				candidate("https://www.cdc.gov/b", 2, entails),
			},
			want: model.VerdictInsufficientEvidence,
		},
		{
			desc:       "empty pool",
			candidates: nil,
			want:       model.VerdictInsufficientEvidence,
		},
	}

	e := newTestEngine(t, Options{})
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			v, err := e.Evaluate(context.Background(), claim(), tt.candidates)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if v.Label != tt.want {
				t.Errorf("Expected %s, got %s (%s)", tt.want, v.Label, v.Reasoning)
			}
			if v.ClaimID != "claim-1" {
				t.Errorf("Expected claim ID to be kept, got %q", v.ClaimID)
			}
			if v.Confidence < 0 || v.Confidence > 100 {
				t.Errorf("Confidence out of range: %d", v.Confidence)
			}
		})
	}
}

func TestEngine_OwnerGroupScenario(t *testing.T) {
	e := newTestEngine(t, Options{})

	v, err := e.Evaluate(context.Background(), claim(), []model.EvidenceCandidate{
		candidate("https://www.cdc.gov/a", 1, entails),
		candidate("https://www.wsj.com/b", 2, entails),
		candidate("https://nypost.com/c", 3, entails),
		candidate("https://medium.com/d", 4, entails),
		candidate("https://example.substack.com/e", 5, entails),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if v.Label != model.VerdictSupported {
		t.Fatalf("Expected supported, got %s (%s)", v.Label, v.Reasoning)
	}
	if v.Confidence >= 90 {
		t.Errorf("co-owned outlets should keep confidence below 90, got %d", v.Confidence)
	}

	shared := 0
	for _, row := range v.EvidenceBreakdown {
		for _, f := range row.IndependenceFlags {
			if f == model.FlagSharedOwnership {
				shared++
			}
		}
		if row.Domain == "www.wsj.com" && row.FinalCredibility >= row.BaseCredibility {
			t.Errorf("co-owned outlet was not penalized: %+v", row)
		}
	}
	if shared != 2 {
		t.Errorf("Expected 2 shared-ownership flags, got %d", shared)
	}
}

func TestEngine_OffTopicIsNotContradiction(t *testing.T) {
	e := newTestEngine(t, Options{})

	offTopic := candidate("https://www.bbc.co.uk/x", 4, contradicts)
	offTopic.Snippet = "unrelated football transfer news"

	v, err := e.Evaluate(context.Background(), claim(), []model.EvidenceCandidate{
		candidate("https://www.snopes.com/a", 1, entails),
		candidate("https://www.nature.com/b", 2, entails),
		candidate("https://www.cdc.gov/c", 3, entails),
		offTopic,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if v.Label != model.VerdictSupported {
		t.Errorf("Expected supported, got %s (%s)", v.Label, v.Reasoning)
	}
	if v.Signals.OffTopic != 1 || v.Signals.Contradicting != 0 {
		t.Errorf("Expected one off-topic source and no contradiction, got %+v", v.Signals)
	}
	for _, row := range v.EvidenceBreakdown {
		if row.Domain == "www.bbc.co.uk" {
			if !row.OffTopic || row.StanceSource != model.StanceFromRelevanceGate {
				t.Errorf("off-topic row not gated: %+v", row)
			}
			if v.InfluenceScores[row.EvidenceID] != 0 {
				t.Errorf("off-topic evidence has influence %v", v.InfluenceScores[row.EvidenceID])
			}
		}
	}
}

func TestEngine_SatireNeverSelected(t *testing.T) {
	e := newTestEngine(t, Options{})

	v, err := e.Evaluate(context.Background(), claim(), []model.EvidenceCandidate{
		candidate("https://www.snopes.com/a", 1, entails),
		candidate("https://www.nature.com/b", 2, entails),
		candidate("https://www.cdc.gov/c", 3, entails),
		candidate("https://babylonbee.com/d", 4, contradicts),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	found := false
	for _, row := range v.EvidenceBreakdown {
		if row.Domain != "babylonbee.com" {
			continue
		}
		found = true
		if row.Selected || row.ExclusionReason == "" {
			t.Errorf("satire must be excluded with a reason: %+v", row)
		}
	}
	if !found {
		t.Error("satire source missing from the breakdown")
	}
	if v.Signals.Contradicting != 0 {
		t.Errorf("satire must not count as contradiction, got %d", v.Signals.Contradicting)
	}
}

func TestEngine_MergesDuplicateURLs(t *testing.T) {
	e := newTestEngine(t, Options{})

	v, err := e.Evaluate(context.Background(), claim(), []model.EvidenceCandidate{
		candidate("https://www.nature.com/a", 2, entails),
		candidate("https://www.nature.com/a/", 1, entails),
		candidate("https://www.cdc.gov/b", 3, entails),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if v.Signals.TotalSources != 2 {
		t.Errorf("Expected 2 sources after merging, got %d", v.Signals.TotalSources)
	}
	if v.Trail[0].Rule != "independence" || v.Trail[0].Data["unique"] != 2 {
		t.Errorf("Expected the first trail step to record 2 unique URLs, got %+v", v.Trail[0])
	}
}

type scriptedClassifier struct {
	calls  atomic.Int32
	scores model.StanceScores
	err    error
}

func (c *scriptedClassifier) Classify(context.Context, string, string) (model.StanceScores, error) {
	c.calls.Add(1)
	return c.scores, c.err
}

func TestEngine_Classifier(t *testing.T) {
	tests := []struct {
		desc         string
		classifier   *scriptedClassifier
		wantLabel    model.VerdictLabel
		wantFailures int
	}{
		{
			desc:       "classifier support",
			classifier: &scriptedClassifier{scores: *entails},
			wantLabel:  model.VerdictSupported,
		},
		{
			desc:         "classifier down",
			classifier:   &scriptedClassifier{err: errors.New("connection refused")},
			wantLabel:    model.VerdictUncertain,
			wantFailures: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			e := newTestEngine(t, Options{Classifier: tt.classifier})

			v, err := e.Evaluate(context.Background(), claim(), []model.EvidenceCandidate{
				candidate("https://www.snopes.com/a", 1, nil),
				candidate("https://www.nature.com/b", 2, nil),
				candidate("https://www.cdc.gov/c", 3, nil),
			})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			if v.Label != tt.wantLabel {
				t.Errorf("Expected %s, got %s (%s)", tt.wantLabel, v.Label, v.Reasoning)
			}
			if got := tt.classifier.calls.Load(); got != 3 {
				t.Errorf("Expected 3 classifier calls, got %d", got)
			}
			if v.Signals.StanceFailures != tt.wantFailures {
				t.Errorf("Expected %d stance failures, got %d", tt.wantFailures, v.Signals.StanceFailures)
			}
			if v.Signals.TotalSources != 3 {
				t.Errorf("failed classifications must still count as sources, got %d", v.Signals.TotalSources)
			}
		})
	}
}

func TestEngine_EmptyClaim(t *testing.T) {
	e := newTestEngine(t, Options{})

	_, err := e.Evaluate(context.Background(), model.Claim{Text: "   "}, nil)
	if !errors.Is(err, model.ErrEmptyClaim) {
		t.Errorf("Expected ErrEmptyClaim, got %v", err)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, claim(), []model.EvidenceCandidate{candidate("https://www.nature.com/a", 1, entails)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestEngine_CheckGathersWhenEmpty(t *testing.T) {
	fixture := `{"*": [
		{"url": "https://www.snopes.com/a", "snippet": "checked", "stance": {"entailment": 0.9, "neutral": 0.05, "contradiction": 0.05}},
		{"url": "https://www.nature.com/b", "snippet": "paper", "stance": {"entailment": 0.9, "neutral": 0.05, "contradiction": 0.05}},
		{"url": "https://www.cdc.gov/c", "snippet": "guidance", "stance": {"entailment": 0.9, "neutral": 0.05, "contradiction": 0.05}}
	]}`
	ch, err := retrieval.ParseFileChannel("fixtures", []byte(fixture))
	if err != nil {
		t.Fatalf("ParseFileChannel failed: %v", err)
	}

	e := newTestEngine(t, Options{Channels: []retrieval.Channel{ch}})
	if !e.HasChannels() {
		t.Fatal("Expected engine with channels")
	}

	v, err := e.Check(context.Background(), model.CheckRequest{Claim: model.Claim{Text: testClaim}})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if v.ClaimID == "" {
		t.Error("Expected a generated claim ID")
	}
	if v.Label != model.VerdictSupported {
		t.Errorf("Expected supported, got %s (%s)", v.Label, v.Reasoning)
	}
	for _, row := range v.EvidenceBreakdown {
		if row.RetrievalChannel != "fixtures" {
			t.Errorf("Expected channel to be recorded, got %+v", row)
		}
	}

	// supplied candidates bypass retrieval
	v, err = e.Check(context.Background(), model.CheckRequest{
		Claim:      claim(),
		Candidates: []model.EvidenceCandidate{candidate("https://www.nature.com/z", 1, entails)},
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if v.Signals.TotalSources != 1 {
		t.Errorf("Expected only the supplied candidate, got %d sources", v.Signals.TotalSources)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Policy.MinConsensusStrength = 0.9

	if _, err := New(Options{Config: cfg}); err == nil {
		t.Error("Expected error for out-of-range consensus floor, got nil")
	}
}

func TestNewEngine(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.json")
	if err := os.WriteFile(fixture, []byte(`{"*": []}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		desc         string
		mutate       func(cfg *model.Config)
		wantErr      bool
		wantChannels bool
	}{
		{
			desc:   "offline defaults",
			mutate: func(cfg *model.Config) {},
		},
		{
			desc: "memory cache",
			mutate: func(cfg *model.Config) {
				cfg.Cache.Enabled = true
				cfg.Cache.Backend = "memory"
			},
		},
		{
			desc: "sqlite cache",
			mutate: func(cfg *model.Config) {
				cfg.Cache.Enabled = true
				cfg.Cache.Backend = "sqlite"
				cfg.Cache.SQLitePath = filepath.Join(dir, "cache.db")
			},
		},
		{
			desc: "file channel",
			mutate: func(cfg *model.Config) {
				cfg.Retrieval.Channels = []model.ChannelConfig{{Name: "fixtures", Kind: "file", Path: fixture}}
			},
			wantChannels: true,
		},
		{
			desc:    "unknown classifier",
			mutate:  func(cfg *model.Config) { cfg.Oracle.Provider = "crystal-ball" },
			wantErr: true,
		},
		{
			desc:    "openai without key",
			mutate:  func(cfg *model.Config) { cfg.Oracle.Provider = "openai" },
			wantErr: true,
		},
		{
			desc:    "unknown cache backend",
			mutate:  func(cfg *model.Config) { cfg.Cache.Enabled = true; cfg.Cache.Backend = "tape" },
			wantErr: true,
		},
		{
			desc:    "missing reputation override",
			mutate:  func(cfg *model.Config) { cfg.Tables.ReputationFile = filepath.Join(dir, "missing.yaml") },
			wantErr: true,
		},
		{
			desc: "channel without endpoint",
			mutate: func(cfg *model.Config) {
				cfg.Retrieval.Channels = []model.ChannelConfig{{Name: "news", Kind: "http"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := model.DefaultConfig()
			cfg.Cache.Enabled = false
			tt.mutate(cfg)

			e, err := NewEngine(cfg, zaptest.NewLogger(t))
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			defer func() { _ = e.Close() }()

			if e.HasChannels() != tt.wantChannels {
				t.Errorf("Expected HasChannels=%v", tt.wantChannels)
			}

			v, err := e.Check(context.Background(), model.CheckRequest{Claim: claim()})
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if v.Label != model.VerdictInsufficientEvidence {
				t.Errorf("Expected insufficient_evidence for an empty pool, got %s", v.Label)
			}
		})
	}
}
