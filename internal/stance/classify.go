package stance

import (
	"context"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Classifier is the stance oracle: entailment/neutral/contradiction probabilities of
// evidence text toward a claim
type Classifier interface {
	Classify(ctx context.Context, claimText, evidenceText string) (model.StanceScores, error)
}

// Runner fans classifier calls out over the evidence of one claim
type Runner struct {
	classifier Classifier
	policy     Policy
	workers    int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRunner creates a runner with at most workers calls in flight, each bounded by timeout
func NewRunner(classifier Classifier, policy Policy, workers int, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		classifier: classifier,
		policy:     policy,
		workers:    workers,
		timeout:    timeout,
		logger:     logger,
	}
}

// Policy returns the relationship policy in use
func (r *Runner) Policy() Policy {
	return r.policy
}

// Run classifies every relevant item. Off-topic items get the gate marker and never reach
// the classifier; items carrying precomputed scores use them instead of calling it. A failed
// call becomes a zero-weight neutral result. Returns once every call has finished.
func (r *Runner) Run(ctx context.Context, claimText string, items []*model.ScoredEvidence) []model.StanceResult {
	results := make([]model.StanceResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, item := range items {
		if item.OffTopic {
			results[i] = model.GatedStance(item.ID)
			continue
		}
		if item.Stance != nil {
			results[i] = r.policy.Result(item.ID, *item.Stance)
			results[i].Source = model.StanceFromPrecomputed
			continue
		}
		g.Go(func() error {
			results[i] = r.classify(gctx, claimText, item)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) classify(ctx context.Context, claimText string, item *model.ScoredEvidence) model.StanceResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scores, err := r.classifier.Classify(ctx, claimText, item.Text())
	if err != nil {
		r.logger.Warn("stance classification failed",
			zap.String("evidence_id", item.ID),
			zap.Error(err))
		return model.FailedStance(item.ID, err)
	}
	return r.policy.Result(item.ID, scores)
}
