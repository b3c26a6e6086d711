package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Channel is one evidence source (fact-check API, authoritative search, news search, ...).
// An empty result is success.
type Channel interface {
	Name() string
	Search(ctx context.Context, query string) ([]model.EvidenceCandidate, error)
}

// Gatherer queries every channel concurrently and merges their results
type Gatherer struct {
	channels   []Channel
	workers    int
	timeout    time.Duration
	maxResults int
	limiter    *worker.Limiter
	logger     *zap.Logger
}

// NewGatherer creates a gatherer over channels with at most workers searches in flight
func NewGatherer(channels []Channel, cfg model.RetrievalConfig, workers int, logger *zap.Logger) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Gatherer{
		channels:   channels,
		workers:    workers,
		timeout:    cfg.Timeout,
		maxResults: cfg.MaxResults,
		limiter:    worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:     logger,
	}
}

// Channels returns the number of configured channels
func (g *Gatherer) Channels() int {
	return len(g.channels)
}

// Gather searches all channels for query. A failed or timed-out channel is logged and
// contributes nothing; Gather itself never fails.
func (g *Gatherer) Gather(ctx context.Context, query string) []model.EvidenceCandidate {
	batches := make([][]model.EvidenceCandidate, len(g.channels))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.workers)

	for i, ch := range g.channels {
		grp.Go(func() error {
			batches[i] = g.search(gctx, ch, query)
			return nil
		})
	}
	_ = grp.Wait()

	return Merge(batches...)
}

func (g *Gatherer) search(ctx context.Context, ch Channel, query string) []model.EvidenceCandidate {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.limiter.Wait(ctx, ch.Name()); err != nil {
		g.logger.Warn("retrieval channel rate limit wait aborted",
			zap.String("channel", ch.Name()),
			zap.Error(err))
		return nil
	}

	start := time.Now()
	results, err := ch.Search(ctx, query)
	if err != nil {
		g.logger.Warn("retrieval channel failed",
			zap.String("channel", ch.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil
	}

	if g.maxResults > 0 && len(results) > g.maxResults {
		results = results[:g.maxResults]
	}
	for i := range results {
		if results[i].RetrievalChannel == "" {
			results[i].RetrievalChannel = ch.Name()
		}
		if results[i].SearchRank <= 0 {
			results[i].SearchRank = i + 1
		}
	}

	g.logger.Debug("retrieval channel returned",
		zap.String("channel", ch.Name()),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results
}

// Merge combines candidate lists, collapsing entries that point at the same URL. The entry
// with the best search rank wins; earlier lists win ties. Missing title or snippet text is
// filled from the other copies. Output is ordered by rank, then URL.
func Merge(batches ...[]model.EvidenceCandidate) []model.EvidenceCandidate {
	byURL := make(map[string]int)
	var merged []model.EvidenceCandidate

	for _, batch := range batches {
		for _, c := range batch {
			if strings.TrimSpace(c.URL) == "" {
				continue
			}
			c.Normalize()
			key := CanonicalURL(c.URL)

			idx, seen := byURL[key]
			if !seen {
				byURL[key] = len(merged)
				merged = append(merged, c)
				continue
			}

			existing := merged[idx]
			if betterRank(c.SearchRank, existing.SearchRank) {
				c.Title = firstNonEmpty(c.Title, existing.Title)
				c.Snippet = firstNonEmpty(c.Snippet, existing.Snippet)
				merged[idx] = c
			} else {
				merged[idx].Title = firstNonEmpty(existing.Title, c.Title)
				merged[idx].Snippet = firstNonEmpty(existing.Snippet, c.Snippet)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		ri, rj := merged[i].SearchRank, merged[j].SearchRank
		if ri != rj {
			return betterRank(ri, rj)
		}
		return merged[i].URL < merged[j].URL
	})
	return merged
}

// CanonicalURL lowercases scheme and host and drops the fragment and a trailing slash
func CanonicalURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String()
}

// betterRank reports whether rank a beats rank b; unranked (0) loses to any rank
func betterRank(a, b int) bool {
	switch {
	case a <= 0:
		return false
	case b <= 0:
		return true
	default:
		return a < b
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewChannels builds the configured channels
func NewChannels(cfg model.RetrievalConfig, httpCfg model.HTTPConfig) ([]Channel, error) {
	channels := make([]Channel, 0, len(cfg.Channels))
	seen := make(map[string]bool)

	for _, cc := range cfg.Channels {
		if cc.Name == "" {
			return nil, fmt.Errorf("retrieval channel without a name")
		}
		if seen[cc.Name] {
			return nil, fmt.Errorf("duplicate retrieval channel %q", cc.Name)
		}
		seen[cc.Name] = true

		switch strings.ToLower(cc.Kind) {
		case "http", "":
			if cc.Endpoint == "" {
				return nil, fmt.Errorf("retrieval channel %q: endpoint is required", cc.Name)
			}
			channels = append(channels, NewHTTPChannel(cc, httpCfg, cfg.Timeout, cfg.MaxResults))
		case "file":
			ch, err := LoadFileChannel(cc.Name, cc.Path)
			if err != nil {
				return nil, fmt.Errorf("retrieval channel %q: %w", cc.Name, err)
			}
			channels = append(channels, ch)
		default:
			return nil, fmt.Errorf("retrieval channel %q: unknown kind %q (supported: http, file)", cc.Name, cc.Kind)
		}
	}
	return channels, nil
}
