package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/independence"
	"github.com/ppiankov/tru8/internal/llm"
	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/relevance"
	"github.com/ppiankov/tru8/internal/reputation"
	"github.com/ppiankov/tru8/internal/retrieval"
	"github.com/ppiankov/tru8/internal/selection"
	"github.com/ppiankov/tru8/internal/stance"
	"github.com/ppiankov/tru8/internal/verdict"
	"go.uber.org/zap"
)

// Options are the collaborators an Engine is assembled from. Nil fields fall back to the
// embedded tables, no cache, the static classifier and lexical similarity.
type Options struct {
	Config     *model.Config
	Reputation *reputation.Tables
	Ownership  *independence.OwnershipTable
	Cache      cache.Cache
	Classifier stance.Classifier
	Similarity relevance.Similarity
	Channels   []retrieval.Channel
	Logger     *zap.Logger
}

// Engine turns a claim and its candidate evidence into a verdict:
// resolve, dedupe, select, gate and classify, aggregate, decide.
type Engine struct {
	cfg        *model.Config
	resolver   *reputation.Resolver
	dedupe     *independence.Deduplicator
	similarity relevance.Similarity
	selector   *selection.Selector
	gate       *relevance.Gatekeeper
	runner     *stance.Runner
	aggregator *stance.Aggregator
	decider    *verdict.Decider
	gatherer   *retrieval.Gatherer
	workers    int
	timeout    time.Duration
	logger     *zap.Logger
	closers    []io.Closer
}

// New assembles an engine from injected collaborators
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tables := opts.Reputation
	if tables == nil {
		t, err := reputation.DefaultTables()
		if err != nil {
			return nil, fmt.Errorf("load reputation tables: %w", err)
		}
		tables = t
	}
	ownership := opts.Ownership
	if ownership == nil {
		o, err := independence.DefaultOwnership()
		if err != nil {
			return nil, fmt.Errorf("load ownership table: %w", err)
		}
		ownership = o
	}

	c := opts.Cache
	if c == nil {
		c = cache.NoopCache{}
	}
	var classifier stance.Classifier = llm.StaticClassifier{}
	if opts.Classifier != nil {
		classifier = opts.Classifier
	}
	var similarity relevance.Similarity = llm.LexicalSimilarity{}
	if opts.Similarity != nil {
		similarity = opts.Similarity
	}

	workers := cfg.Concurrency.OracleWorkers
	if workers <= 0 {
		workers = 8
	}
	timeout := cfg.Oracle.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	e := &Engine{
		cfg:        cfg,
		resolver:   reputation.NewResolver(tables, c, cfg.Cache.TTL, logger),
		dedupe:     independence.NewDeduplicator(ownership, cfg.Independence, logger),
		similarity: similarity,
		selector:   selection.NewSelector(cfg.Selection, logger),
		gate:       relevance.NewGatekeeper(similarity, cfg.Relevance, timeout, workers, logger),
		runner:     stance.NewRunner(classifier, stance.NewPolicy(cfg.Stance), workers, timeout, logger),
		aggregator: stance.NewAggregator(cfg.Stance, cfg.Selection.MinCategories),
		decider:    verdict.NewDecider(cfg.Policy),
		workers:    workers,
		timeout:    timeout,
		logger:     logger,
	}
	if len(opts.Channels) > 0 {
		e.gatherer = retrieval.NewGatherer(opts.Channels, cfg.Retrieval, cfg.Concurrency.ChannelWorkers, logger)
	}
	return e, nil
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() *model.Config {
	return e.cfg
}

// Resolver exposes the reputation resolver
func (e *Engine) Resolver() *reputation.Resolver {
	return e.resolver
}

// HasChannels reports whether the engine can gather its own evidence
func (e *Engine) HasChannels() bool {
	return e.gatherer != nil
}

// Close releases cache connections
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Check evaluates one request. When the request carries no candidates and retrieval
// channels are configured, evidence is gathered with the claim text as the query.
func (e *Engine) Check(ctx context.Context, req model.CheckRequest) (model.Verdict, error) {
	claim, err := req.Claim.Normalize()
	if err != nil {
		return model.Verdict{}, err
	}

	candidates := req.Candidates
	if len(candidates) == 0 && e.gatherer != nil {
		candidates = e.gatherer.Gather(ctx, claim.Text)
		e.logger.Debug("gathered evidence",
			zap.String("claim_id", claim.ID),
			zap.Int("candidates", len(candidates)))
	}

	return e.Evaluate(ctx, claim, candidates)
}

// Evaluate decides one claim against a candidate pool. Oracle failures degrade the
// evidence they touch but never fail the claim; an empty pool yields
// insufficient_evidence. Only an empty claim, a done context or a panic return an error.
func (e *Engine) Evaluate(ctx context.Context, claim model.Claim, candidates []model.EvidenceCandidate) (v model.Verdict, err error) {
	claim, err = claim.Normalize()
	if err != nil {
		return model.Verdict{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Verdict{}, fmt.Errorf("evaluate claim %s: %w", claim.ID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while evaluating claim",
				zap.String("claim_id", claim.ID),
				zap.Any("panic", r))
			v = model.Verdict{}
			err = fmt.Errorf("panic while evaluating claim %s: %v\n%s", claim.ID, r, debug.Stack())
		}
	}()

	start := time.Now()

	merged := retrieval.Merge(candidates)
	items := make([]*model.ScoredEvidence, len(merged))
	for i, c := range merged {
		items[i] = model.NewScoredEvidence(c)
	}

	e.resolver.Annotate(items)

	sims := independence.ScorePairs(ctx, e.similarity, items, e.workers, e.timeout, e.logger)
	deduped := e.dedupe.Dedupe(items, sims)

	sel := e.selector.Select(claim.ID, deduped.Kept)

	gate := e.gate.Apply(ctx, claim.Text, sel.Selected)
	results := e.runner.Run(ctx, claim.Text, sel.Selected)

	if err := ctx.Err(); err != nil {
		return model.Verdict{}, fmt.Errorf("evaluate claim %s: %w", claim.ID, err)
	}

	agg := e.aggregator.Aggregate(sel.Selected, results)
	v = e.decider.Decide(claim, agg, sel.Selected, excludedItems(deduped, sel))
	v.Trail = append(stageTrail(len(candidates), len(items), deduped, sel, gate), v.Trail...)

	e.logger.Info("claim decided",
		zap.String("claim_id", claim.ID),
		zap.String("label", string(v.Label)),
		zap.Int("confidence", v.Confidence),
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(sel.Selected)),
		zap.Int("off_topic", gate.OffTopic),
		zap.Int("stance_failures", agg.Signals.StanceFailures),
		zap.Duration("elapsed", time.Since(start)))

	return v, nil
}

// excludedItems lists everything that did not reach aggregation: deduplicator removals
// first, then selector exclusions
func excludedItems(deduped independence.Result, sel selection.Selection) []verdict.Excluded {
	out := make([]verdict.Excluded, 0, len(deduped.Removed)+len(sel.Excluded))
	for _, r := range deduped.Removed {
		out = append(out, verdict.Excluded{Item: r.Item, Reason: string(r.Reason)})
	}
	for _, x := range sel.Excluded {
		out = append(out, verdict.Excluded{Item: x.Item, Reason: x.Reason})
	}
	return out
}

// stageTrail records what the stages before the decider did
func stageTrail(candidates, unique int, deduped independence.Result, sel selection.Selection, gate relevance.Report) []model.TrailStep {
	return []model.TrailStep{
		{
			Rule:        "independence",
			Outcome:     verdict.OutcomeApplied,
			Description: fmt.Sprintf("%d candidates, %d unique URLs, %d removed as redundant", candidates, unique, len(deduped.Removed)),
			Data: map[string]interface{}{
				"candidates": candidates,
				"unique":     unique,
				"kept":       len(deduped.Kept),
				"removed":    len(deduped.Removed),
			},
		},
		{
			Rule:        "selection",
			Outcome:     verdict.OutcomeApplied,
			Description: fmt.Sprintf("selected %d items across %d categories", len(sel.Selected), sel.DistinctCategories),
			Data: map[string]interface{}{
				"selected":            len(sel.Selected),
				"excluded":            len(sel.Excluded),
				"distinct_categories": sel.DistinctCategories,
				"diversity_shortfall": sel.DiversityShortfall,
			},
		},
		{
			Rule:        "relevance_gate",
			Outcome:     verdict.OutcomeApplied,
			Description: fmt.Sprintf("%d relevant, %d off-topic, %d unscored", gate.Relevant, gate.OffTopic, gate.Unavailable),
			Data: map[string]interface{}{
				"relevant":    gate.Relevant,
				"off_topic":   gate.OffTopic,
				"unavailable": gate.Unavailable,
			},
		},
	}
}
