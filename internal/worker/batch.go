package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/ppiankov/tru8/internal/model"
)

// Checker decides one claim request
type Checker interface {
	Check(ctx context.Context, req model.CheckRequest) (model.Verdict, error)
}

// ClaimJob is one claim of a batch
type ClaimJob struct {
	Index   int
	Request model.CheckRequest
	Checker Checker
}

// Execute runs the check. A panic is recovered into the job's error so one bad claim
// cannot take the batch down.
func (j *ClaimJob) Execute(ctx context.Context) (result Result) {
	res := &ClaimResult{Index: j.Index, ClaimID: j.Request.Claim.ID, ClaimText: j.Request.Claim.Text}

	defer func() {
		if r := recover(); r != nil {
			res.Verdict = nil
			res.Error = fmt.Errorf("panic while checking claim: %v\n%s", r, debug.Stack())
			result = res
		}
	}()

	verdict, err := j.Checker.Check(ctx, j.Request)
	if err != nil {
		res.Error = err
		return res
	}
	res.ClaimID = verdict.ClaimID
	res.Verdict = &verdict
	return res
}

// ClaimResult is the outcome of one claim job
type ClaimResult struct {
	Index     int
	ClaimID   string
	ClaimText string
	Verdict   *model.Verdict
	Error     error
}

// GetError returns the error from the claim result
func (r *ClaimResult) GetError() error {
	return r.Error
}

// BatchProcessor checks many claims concurrently
type BatchProcessor struct {
	checker     Checker
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(checker Checker, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		checker:     checker,
		concurrency: concurrency,
	}
}

// ProcessRequests checks every request and returns results in input order. Requests that
// never ran because ctx ended carry the context error.
func (b *BatchProcessor) ProcessRequests(ctx context.Context, reqs []model.CheckRequest) []*ClaimResult {
	if len(reqs) == 0 {
		return []*ClaimResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	go func() {
		defer pool.CloseInput()
		for i, req := range reqs {
			if !pool.Submit(&ClaimJob{Index: i, Request: req, Checker: b.checker}) {
				return
			}
		}
	}()

	results := make([]*ClaimResult, len(reqs))
	for r := range pool.Results() {
		cr := r.(*ClaimResult)
		results[cr.Index] = cr
	}

	for i, r := range results {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("claim was not processed")
			}
			results[i] = &ClaimResult{
				Index:     i,
				ClaimID:   reqs[i].Claim.ID,
				ClaimText: reqs[i].Claim.Text,
				Error:     err,
			}
		}
	}

	return results
}

// ProcessFile reads requests from a file and checks them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ClaimResult, error) {
	reqs, err := ReadRequestsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	return b.ProcessRequests(ctx, reqs), nil
}

// ReadRequestsFromFile reads claim requests, one per line. A line is either a JSON
// CheckRequest or plain claim text. Empty lines and # comments are skipped; plain-text
// duplicates are dropped.
func ReadRequestsFromFile(filePath string) ([]model.CheckRequest, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var reqs []model.CheckRequest
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20) // candidate pools make long lines
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "{") {
			var req model.CheckRequest
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			reqs = append(reqs, req)
			continue
		}

		if !seen[line] {
			seen[line] = true
			reqs = append(reqs, model.CheckRequest{Claim: model.Claim{Text: line, Position: lineNo}})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return reqs, nil
}
