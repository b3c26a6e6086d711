package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/tru8/internal/model"
)

// mockChecker returns a verdict echoing the claim, failing or panicking on marker text
type mockChecker struct{}

func (m *mockChecker) Check(ctx context.Context, req model.CheckRequest) (model.Verdict, error) {
	time.Sleep(5 * time.Millisecond) // Simulate work
	switch {
	case strings.Contains(req.Claim.Text, "error"):
		return model.Verdict{}, errors.New("check error")
	case strings.Contains(req.Claim.Text, "panic"):
		panic("boom")
	}
	id := req.Claim.ID
	if id == "" {
		id = "generated-" + req.Claim.Text
	}
	return model.Verdict{ClaimID: id, ClaimText: req.Claim.Text, Label: model.VerdictInsufficientEvidence}, nil
}

func requests(texts ...string) []model.CheckRequest {
	reqs := make([]model.CheckRequest, len(texts))
	for i, t := range texts {
		reqs[i] = model.CheckRequest{Claim: model.Claim{Text: t}}
	}
	return reqs
}

func TestBatchProcessor_ProcessRequests(t *testing.T) {
	processor := NewBatchProcessor(&mockChecker{}, 2)

	results := processor.ProcessRequests(context.Background(), requests("a", "b", "c", "d", "e"))

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("result %d out of order (index %d)", i, res.Index)
		}
		if res.Error != nil {
			t.Errorf("unexpected error for %s: %v", res.ClaimText, res.Error)
		}
		if res.Verdict == nil || res.ClaimID != res.Verdict.ClaimID {
			t.Errorf("expected verdict with claim ID for %s, got %+v", res.ClaimText, res)
		}
	}
}

func TestBatchProcessor_FailureBoundary(t *testing.T) {
	processor := NewBatchProcessor(&mockChecker{}, 2)

	results := processor.ProcessRequests(context.Background(), requests("ok", "error here", "panic here", "fine"))

	if results[0].Error != nil || results[3].Error != nil {
		t.Errorf("healthy claims must succeed: %v / %v", results[0].Error, results[3].Error)
	}
	if results[1].Error == nil || results[1].Verdict != nil {
		t.Errorf("expected error result, got %+v", results[1])
	}
	if results[2].Error == nil || !strings.Contains(results[2].Error.Error(), "panic") {
		t.Errorf("expected recovered panic, got %v", results[2].Error)
	}
}

func TestBatchProcessor_ManyClaims(t *testing.T) {
	texts := make([]string, 40)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	results := NewBatchProcessor(&mockChecker{}, 3).ProcessRequests(context.Background(), requests(texts...))

	for i, r := range results {
		if r == nil || r.Error != nil {
			t.Fatalf("claim %d failed: %+v", i, r)
		}
	}
}

func TestBatchProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewBatchProcessor(&mockChecker{}, 2).ProcessRequests(ctx, requests("a", "b", "c"))

	if len(results) != 3 {
		t.Fatalf("expected a result per request, got %d", len(results))
	}
	for _, r := range results {
		if r == nil {
			t.Fatal("nil result")
		}
	}
}

func TestBatchProcessor_ProcessRequests_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockChecker{}, 2)

	results := processor.ProcessRequests(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadRequestsFromFile(t *testing.T) {
	content := `The Eiffel Tower is in Paris
# comment

{"claim": {"id": "c-2", "text": "Coffee reduces heart disease"}, "candidates": [{"url": "https://nih.gov/a"}]}
The Eiffel Tower is in Paris
   Water boils at 100C at sea level   `

	reqs, err := ReadRequestsFromFile(writeTemp(t, content))
	if err != nil {
		t.Fatalf("ReadRequestsFromFile failed: %v", err)
	}

	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d: %+v", len(reqs), reqs)
	}
	if reqs[0].Claim.Text != "The Eiffel Tower is in Paris" || reqs[0].Claim.Position != 1 {
		t.Errorf("unexpected first request: %+v", reqs[0])
	}
	if reqs[1].Claim.ID != "c-2" || len(reqs[1].Candidates) != 1 {
		t.Errorf("JSON request not decoded: %+v", reqs[1])
	}
	if reqs[2].Claim.Text != "Water boils at 100C at sea level" {
		t.Errorf("unexpected third request: %+v", reqs[2])
	}
}

func TestReadRequestsFromFile_BadJSON(t *testing.T) {
	_, err := ReadRequestsFromFile(writeTemp(t, "ok claim\n{\"claim\": \n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line-numbered error, got %v", err)
	}
}

func TestReadRequestsFromFile_NonExistent(t *testing.T) {
	_, err := ReadRequestsFromFile("non_existent_file.jsonl")
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestClaimResult_GetError(t *testing.T) {
	r1 := &ClaimResult{ClaimText: "x"}
	if r1.GetError() != nil {
		t.Errorf("expected nil error, got %v", r1.GetError())
	}

	expected := errors.New("check failed")
	r2 := &ClaimResult{ClaimText: "x", Error: expected}
	if r2.GetError() != expected {
		t.Errorf("expected %v, got %v", expected, r2.GetError())
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	processor := NewBatchProcessor(&mockChecker{}, 2)

	results, err := processor.ProcessFile(context.Background(), writeTemp(t, "one\ntwo\n# c\n\nthree\n"))
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}

	if _, err := processor.ProcessFile(context.Background(), "no_such_file.jsonl"); err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}
