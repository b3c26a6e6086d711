package relevance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/model"
)

// keywordSimilarity returns 0.9 when the second text mentions the keyword, 0.1 otherwise, and fails on "ERR"
type keywordSimilarity struct {
	keyword string
	calls   atomic.Int32
}

func (k *keywordSimilarity) Similarity(_ context.Context, a, b string) (float64, error) {
	k.calls.Add(1)
	if strings.Contains(a, "ERR") || strings.Contains(b, "ERR") {
		return 0, errors.New("embedding service unavailable")
	}
	if strings.Contains(strings.ToLower(b), k.keyword) {
		return 0.9, nil
	}
	return 0.1, nil
}

type slowSimilarity struct{}

func (slowSimilarity) Similarity(ctx context.Context, _, _ string) (float64, error) {
	select {
	case <-time.After(time.Second):
		return 1, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func evidence(id, title, snippet string) *model.ScoredEvidence {
	return model.NewScoredEvidence(model.EvidenceCandidate{
		ID:      id,
		URL:     "https://example.com/" + id,
		Title:   title,
		Snippet: snippet,
	})
}

func TestGatekeeper_Apply(t *testing.T) {
	oracle := &keywordSimilarity{keyword: "vaccine"}
	gate := NewGatekeeper(oracle, model.RelevanceConfig{Threshold: 0.65}, time.Second, 4, nil)

	onTopic := evidence("on", "Vaccine trial", "The vaccine reduced infections")
	offTopic := evidence("off", "Football results", "The match ended 2-1")
	broken := evidence("broken", "ERR", "")

	report := gate.Apply(context.Background(), "The vaccine is effective", []*model.ScoredEvidence{onTopic, offTopic, broken})

	if onTopic.OffTopic || onTopic.RelevanceScore != 0.9 {
		t.Errorf("on-topic item misclassified: offTopic=%v score=%.2f", onTopic.OffTopic, onTopic.RelevanceScore)
	}
	if !offTopic.OffTopic {
		t.Errorf("off-topic item should be gated")
	}
	if !broken.RelevanceUnavailable || broken.OffTopic {
		t.Errorf("oracle failure should flag relevance unavailable and keep the item")
	}
	if report != (Report{Relevant: 1, OffTopic: 1, Unavailable: 1}) {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestGatekeeper_Timeout(t *testing.T) {
	gate := NewGatekeeper(slowSimilarity{}, model.RelevanceConfig{Threshold: 0.65}, 20*time.Millisecond, 1, nil)

	item := evidence("slow", "anything", "")
	start := time.Now()
	gate.Apply(context.Background(), "claim", []*model.ScoredEvidence{item})

	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("timeout not applied")
	}
	if !item.RelevanceUnavailable {
		t.Errorf("timed-out item should be relevance-unavailable")
	}
}

func TestGatekeeper_Threshold(t *testing.T) {
	gate := NewGatekeeper(&keywordSimilarity{}, model.RelevanceConfig{Threshold: 0.65}, 0, 1, nil)

	tests := []struct {
		score    float64
		relevant bool
	}{
		{0.64, false},
		{0.65, true},
		{0.9, true},
	}
	for _, tt := range tests {
		if got := gate.IsRelevant(tt.score); got != tt.relevant {
			t.Errorf("IsRelevant(%.2f): expected %v", tt.score, tt.relevant)
		}
	}
}

func TestCachedSimilarity(t *testing.T) {
	oracle := &keywordSimilarity{keyword: "moon"}
	cached := NewCachedSimilarity(oracle, cache.NewMemoryCache(time.Minute, time.Minute), time.Hour, "test")

	ctx := context.Background()
	first, err := cached.Similarity(ctx, "moon landing", "apollo")
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}
	second, err := cached.Similarity(ctx, "apollo", "moon landing")
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}

	if first != second || first != 0.9 {
		t.Errorf("Expected 0.9 twice, got %.2f and %.2f", first, second)
	}
	if calls := oracle.calls.Load(); calls != 1 {
		t.Errorf("Expected 1 oracle call, got %d", calls)
	}
}

func TestCachedSimilarity_ErrorsNotCached(t *testing.T) {
	oracle := &keywordSimilarity{keyword: "x"}
	cached := NewCachedSimilarity(oracle, cache.NewMemoryCache(time.Minute, time.Minute), time.Hour, "test")

	for i := 0; i < 2; i++ {
		if _, err := cached.Similarity(context.Background(), "ERR", "b"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if calls := oracle.calls.Load(); calls != 2 {
		t.Errorf("failures must not be cached, got %d calls", calls)
	}
}
