package independence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/tru8/internal/model"
)

func newItem(id, domain string, base float64, rank int) *model.ScoredEvidence {
	e := model.NewScoredEvidence(model.EvidenceCandidate{
		ID:         id,
		URL:        "https://" + domain + "/" + id,
		Domain:     domain,
		Snippet:    "snippet " + id,
		SearchRank: rank,
	})
	e.BaseCredibility = base
	e.Recompute()
	return e
}

func newTestDeduplicator(t *testing.T) *Deduplicator {
	t.Helper()
	table, err := DefaultOwnership()
	if err != nil {
		t.Fatalf("DefaultOwnership: %v", err)
	}
	return NewDeduplicator(table, model.DefaultConfig().Independence, nil)
}

func ids(items []*model.ScoredEvidence) string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return strings.Join(out, ",")
}

func TestOwnershipPenalty(t *testing.T) {
	d := newTestDeduplicator(t)

	tests := []struct {
		size     int
		expected float64
		desc     string
	}{
		{1, 1.0, "Independent source"},
		{2, 0.7, "Two-member group"},
		{4, 0.65, "Four-member group"},
		{100, 0.602, "Large group approaches floor"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := d.OwnershipPenalty(tt.size)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %.3f, got %.3f", tt.expected, got)
			}
			if got < 0.6 {
				t.Errorf("penalty %.3f below floor", got)
			}
		})
	}
}

func TestSimilarityPenalty(t *testing.T) {
	d := newTestDeduplicator(t)

	tests := []struct {
		sim      float64
		expected float64
	}{
		{0.5, 1.0},
		{0.70, 1.0},
		{0.80, 0.95},
		{0.84, 0.93},
	}
	for _, tt := range tests {
		if got := d.SimilarityPenalty(tt.sim); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("SimilarityPenalty(%.2f): expected %.3f, got %.3f", tt.sim, tt.expected, got)
		}
	}
}

func TestDedupe_SharedOwnership(t *testing.T) {
	d := newTestDeduplicator(t)

	bbcUK := newItem("a", "www.bbc.co.uk", 0.85, 1)
	bbcCom := newItem("b", "bbc.com", 0.85, 2)
	reuters := newItem("c", "reuters.com", 0.85, 3)

	res := d.Dedupe([]*model.ScoredEvidence{bbcUK, bbcCom, reuters}, nil)

	if len(res.Kept) != 3 {
		t.Fatalf("Expected 3 kept, got %d", len(res.Kept))
	}
	if !bbcUK.HasFlag(model.FlagSharedOwnership) || bbcUK.OwnerGroupID != "bbc" {
		t.Errorf("bbc.co.uk should be flagged shared_ownership in group bbc, got %v %q", bbcUK.IndependenceFlags, bbcUK.OwnerGroupID)
	}
	if math.Abs(bbcUK.FinalCredibility-0.85*0.7) > 1e-9 {
		t.Errorf("Expected final %.4f, got %.4f", 0.85*0.7, bbcUK.FinalCredibility)
	}
	// reuters is a single-member group: no penalty
	if reuters.HasFlag(model.FlagSharedOwnership) || reuters.FinalCredibility != 0.85 {
		t.Errorf("single-member group should not be penalized: %v %.2f", reuters.IndependenceFlags, reuters.FinalCredibility)
	}
	if ids(res.Kept) != "c,a,b" {
		t.Errorf("Expected order c,a,b got %s", ids(res.Kept))
	}
}

func TestDedupe_OwnershipCountsPoolMembers(t *testing.T) {
	tests := []struct {
		desc        string
		domains     []string
		wantPenalty []float64
		wantFlagged []bool
	}{
		{
			desc:        "lone group member",
			domains:     []string{"www.nature.com", "www.cdc.gov"},
			wantPenalty: []float64{1, 1},
			wantFlagged: []bool{false, false},
		},
		{
			desc:        "co-owned pair",
			domains:     []string{"www.wsj.com", "nypost.com", "www.cdc.gov"},
			wantPenalty: []float64{0.7, 0.7, 1},
			wantFlagged: []bool{true, true, false},
		},
		{
			desc:        "three present members",
			domains:     []string{"www.wsj.com", "nypost.com", "thetimes.co.uk"},
			wantPenalty: []float64{0.6 + 0.2/3, 0.6 + 0.2/3, 0.6 + 0.2/3},
			wantFlagged: []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			d := newTestDeduplicator(t)

			items := make([]*model.ScoredEvidence, len(tt.domains))
			for i, domain := range tt.domains {
				items[i] = newItem(fmt.Sprintf("e%d", i), domain, 0.9, i+1)
			}
			d.Dedupe(items, nil)

			for i, item := range items {
				if math.Abs(item.OwnershipPenalty-tt.wantPenalty[i]) > 1e-9 {
					t.Errorf("%s: expected penalty %.3f, got %.3f", item.Domain, tt.wantPenalty[i], item.OwnershipPenalty)
				}
				if item.HasFlag(model.FlagSharedOwnership) != tt.wantFlagged[i] {
					t.Errorf("%s: expected shared_ownership=%v, flags %v", item.Domain, tt.wantFlagged[i], item.IndependenceFlags)
				}
			}
		})
	}
}

func TestDedupe_DuplicateDoesNotCountTowardGroup(t *testing.T) {
	d := newTestDeduplicator(t)

	wsj := newItem("wsj", "www.wsj.com", 0.9, 1)
	copyOfWSJ := newItem("nyp", "nypost.com", 0.7, 2)

	sims := make(Similarities)
	sims.Set("wsj", "nyp", 0.95)

	res := d.Dedupe([]*model.ScoredEvidence{wsj, copyOfWSJ}, sims)

	if ids(res.Kept) != "wsj" {
		t.Fatalf("Expected only wsj kept, got %s", ids(res.Kept))
	}
	if wsj.OwnershipPenalty != 1 || wsj.HasFlag(model.FlagSharedOwnership) {
		t.Errorf("a removed duplicate should not make its survivor co-owned: penalty %.2f flags %v",
			wsj.OwnershipPenalty, wsj.IndependenceFlags)
	}
}

func TestDedupe_PrunedGroupKeepsPenaltyOnRerun(t *testing.T) {
	d := newTestDeduplicator(t)

	items := []*model.ScoredEvidence{
		newItem("wsj", "wsj.com", 0.85, 1),
		newItem("times", "thetimes.co.uk", 0.8, 2),
		newItem("nyp", "nypost.com", 0.75, 3),
		newItem("sun", "thesun.co.uk", 0.55, 4),
	}

	first := d.Dedupe(items, nil)
	if len(first.Kept) != 2 {
		t.Fatalf("Expected 2 survivors, got %s", ids(first.Kept))
	}
	for _, item := range first.Kept {
		if item.OwnerClusterSize != 4 || math.Abs(item.OwnershipPenalty-0.65) > 1e-9 {
			t.Errorf("%s: expected cluster 4 and penalty 0.65, got %d %.3f", item.ID, item.OwnerClusterSize, item.OwnershipPenalty)
		}
	}

	second := d.Dedupe(first.Kept, nil)
	for _, item := range second.Kept {
		if math.Abs(item.OwnershipPenalty-0.65) > 1e-9 {
			t.Errorf("%s: rerun changed the penalty to %.3f", item.ID, item.OwnershipPenalty)
		}
	}
}

func TestDedupe_DuplicateContent(t *testing.T) {
	d := newTestDeduplicator(t)

	high := newItem("high", "example.org", 0.9, 2)
	low := newItem("low", "example.net", 0.6, 1)
	other := newItem("other", "example.com", 0.7, 3)

	sims := make(Similarities)
	sims.Set("high", "low", 0.92)
	sims.Set("high", "other", 0.2)

	res := d.Dedupe([]*model.ScoredEvidence{low, high, other}, sims)

	if ids(res.Kept) != "high,other" {
		t.Errorf("Expected high,other kept, got %s", ids(res.Kept))
	}
	if len(res.Removed) != 1 || res.Removed[0].EvidenceID != "low" || res.Removed[0].KeptID != "high" {
		t.Fatalf("Expected low removed in favour of high, got %+v", res.Removed)
	}
	if res.Removed[0].Reason != model.FlagDuplicateContent {
		t.Errorf("Expected duplicate_content, got %s", res.Removed[0].Reason)
	}
}

func TestDedupe_DuplicateTieBreakBySearchRank(t *testing.T) {
	d := newTestDeduplicator(t)

	first := newItem("z-first", "one.example", 0.8, 1)
	second := newItem("a-second", "two.example", 0.8, 2)

	sims := make(Similarities)
	sims.Set(first.ID, second.ID, 0.9)

	res := d.Dedupe([]*model.ScoredEvidence{second, first}, sims)
	if ids(res.Kept) != "z-first" {
		t.Errorf("Earlier search rank should win the tie, kept %s", ids(res.Kept))
	}
}

func TestDedupe_SimilarContent(t *testing.T) {
	d := newTestDeduplicator(t)

	orig := newItem("orig", "one.example", 0.8, 1)
	echo := newItem("echo", "two.example", 0.7, 2)

	sims := make(Similarities)
	sims.Set("orig", "echo", 0.80)

	res := d.Dedupe([]*model.ScoredEvidence{orig, echo}, sims)

	if len(res.Kept) != 2 {
		t.Fatalf("Similar (not duplicate) items are kept, got %d", len(res.Kept))
	}
	if !echo.HasFlag(model.FlagSimilarContent) {
		t.Errorf("echo should carry similar_content")
	}
	if math.Abs(echo.FinalCredibility-0.7*0.95) > 1e-9 {
		t.Errorf("Expected echo final %.4f, got %.4f", 0.7*0.95, echo.FinalCredibility)
	}
	if orig.SimilarityPenalty != 1.0 || orig.ContentSimilarityMax != 0.80 {
		t.Errorf("original keeps full credibility but records similarity: penalty %.2f max %.2f",
			orig.SimilarityPenalty, orig.ContentSimilarityMax)
	}
}

func TestDedupe_OwnerGroupPruning(t *testing.T) {
	d := newTestDeduplicator(t)

	// three News Corp titles plus an independent source
	wsj := newItem("wsj", "wsj.com", 0.85, 1)
	times := newItem("times", "thetimes.co.uk", 0.75, 2)
	sun := newItem("sun", "thesun.co.uk", 0.55, 3)
	indie := newItem("indie", "independent-blog.example", 0.6, 4)

	res := d.Dedupe([]*model.ScoredEvidence{sun, times, wsj, indie}, nil)

	if len(res.Kept) != 3 {
		t.Fatalf("Expected 3 kept, got %s", ids(res.Kept))
	}
	if len(res.Removed) != 1 || res.Removed[0].EvidenceID != "sun" {
		t.Fatalf("Expected sun pruned, got %+v", res.Removed)
	}
	if res.Removed[0].Reason != model.FlagOwnerGroupPruned || res.Removed[0].KeptID != "wsj" {
		t.Errorf("unexpected removal %+v", res.Removed[0])
	}
	if !sun.HasFlag(model.FlagOwnerGroupPruned) {
		t.Errorf("pruned item should be flagged")
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	d := newTestDeduplicator(t)

	items := []*model.ScoredEvidence{
		newItem("wsj", "wsj.com", 0.85, 1),
		newItem("times", "thetimes.co.uk", 0.75, 2),
		newItem("sun", "thesun.co.uk", 0.55, 3),
		newItem("nyp", "nypost.com", 0.75, 4),
		newItem("x", "x.example", 0.6, 5),
		newItem("y", "y.example", 0.6, 6),
	}
	sims := make(Similarities)
	sims.Set("x", "y", 0.9)
	sims.Set("wsj", "x", 0.75)
	sims.Set("times", "nyp", 0.8)

	first := d.Dedupe(items, sims)
	snapshot := snapshotOf(first.Kept)

	second := d.Dedupe(first.Kept, sims)
	if len(second.Removed) != 0 {
		t.Errorf("second pass removed %d items", len(second.Removed))
	}
	if got := snapshotOf(second.Kept); got != snapshot {
		t.Errorf("second pass changed the list:\n%s\n%s", snapshot, got)
	}
}

type failingSimilarity struct{}

func (failingSimilarity) Similarity(context.Context, string, string) (float64, error) {
	return 0, errors.New("oracle down")
}

type fixedSimilarity float64

func (f fixedSimilarity) Similarity(context.Context, string, string) (float64, error) {
	return float64(f), nil
}

func TestScorePairs(t *testing.T) {
	items := []*model.ScoredEvidence{
		newItem("a", "a.example", 0.6, 1),
		newItem("b", "b.example", 0.6, 2),
		newItem("c", "c.example", 0.6, 3),
	}

	sims := ScorePairs(context.Background(), fixedSimilarity(0.5), items, 2, time.Second, nil)
	if len(sims) != 3 {
		t.Errorf("Expected 3 pairs, got %d", len(sims))
	}
	if v, ok := sims.Get("c", "a"); !ok || v != 0.5 {
		t.Errorf("pair lookup should be order-independent, got %.2f %v", v, ok)
	}

	// oracle failure leaves pairs unknown and never penalizes
	sims = ScorePairs(context.Background(), failingSimilarity{}, items, 2, 0, nil)
	if len(sims) != 0 {
		t.Errorf("Expected no pairs on failure, got %d", len(sims))
	}
}

// stalledSimilarity answers instantly for pairs involving fast and otherwise waits for ctx
type stalledSimilarity struct {
	fast string
}

func (s stalledSimilarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	if strings.Contains(a, s.fast) || strings.Contains(b, s.fast) {
		return 0.4, nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestScorePairs_Timeout(t *testing.T) {
	items := []*model.ScoredEvidence{
		newItem("a", "a.example", 0.6, 1),
		newItem("b", "b.example", 0.6, 2),
		newItem("c", "c.example", 0.6, 3),
	}

	start := time.Now()
	sims := ScorePairs(context.Background(), stalledSimilarity{fast: "snippet a"}, items, 3, 20*time.Millisecond, nil)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stalled pair was not cut off, took %v", elapsed)
	}

	if len(sims) != 2 {
		t.Fatalf("Expected the two fast pairs, got %v", sims)
	}
	if _, ok := sims.Get("b", "c"); ok {
		t.Error("timed-out pair should stay unknown")
	}
}

func TestParseOwnership_Errors(t *testing.T) {
	tests := []struct {
		doc  string
		desc string
	}{
		{"groups: [{owner: X, domains: [a.com]}]", "Missing id"},
		{"groups: [{id: a, domains: [a.com]}, {id: a, domains: [b.com]}]", "Duplicate id"},
		{"groups: [{id: a, domains: [a.com]}, {id: b, domains: [a.com]}]", "Domain in two groups"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := ParseOwnership([]byte(tt.doc)); err == nil {
				t.Errorf("expected error for %q", tt.doc)
			}
		})
	}
}

func TestGroupFor(t *testing.T) {
	table, err := DefaultOwnership()
	if err != nil {
		t.Fatalf("DefaultOwnership: %v", err)
	}

	tests := []struct {
		domain string
		group  string
	}{
		{"www.wsj.com", "news-corp"},
		{"markets.wsj.com", "news-corp"},
		{"abcnews.go.com", "disney"},
		{"go.com", ""},
		{"unknown.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		g, ok := table.GroupFor(tt.domain)
		got := ""
		if ok {
			got = g.ID
		}
		if got != tt.group {
			t.Errorf("GroupFor(%q): expected %q, got %q", tt.domain, tt.group, got)
		}
	}
}
