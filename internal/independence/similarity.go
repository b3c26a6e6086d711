package independence

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Similarity scores how alike two texts are, in [0, 1]
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// PairKey identifies an unordered pair of evidence IDs
type PairKey struct {
	A, B string
}

// Pair builds the canonical key for two evidence IDs
func Pair(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Similarities holds pairwise content similarity. Missing pairs mean "unknown".
type Similarities map[PairKey]float64

// Get returns the similarity of two items in either order
func (s Similarities) Get(a, b string) (float64, bool) {
	v, ok := s[Pair(a, b)]
	return v, ok
}

// Set records the similarity of two items
func (s Similarities) Set(a, b string, v float64) {
	s[Pair(a, b)] = model.Clamp(v, 0, 1)
}

// ScorePairs asks the oracle for every pair of items, at most workers calls in flight.
// Each call is bounded by timeout when positive. A failed or timed-out pair is logged and
// left unknown; it never fails the claim.
func ScorePairs(ctx context.Context, oracle Similarity, items []*model.ScoredEvidence, workers int,
	timeout time.Duration, logger *zap.Logger) Similarities {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}

	sims := make(Similarities)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if a.ID == b.ID {
				continue
			}
			g.Go(func() error {
				callCtx := gctx
				if timeout > 0 {
					var cancel context.CancelFunc
					callCtx, cancel = context.WithTimeout(gctx, timeout)
					defer cancel()
				}
				score, err := oracle.Similarity(callCtx, a.Text(), b.Text())
				if err != nil {
					logger.Warn("pair similarity unavailable",
						zap.String("a", a.ID),
						zap.String("b", b.ID),
						zap.Error(err))
					return nil
				}
				mu.Lock()
				sims.Set(a.ID, b.ID, score)
				mu.Unlock()
				return nil
			})
		}
	}

	_ = g.Wait() // workers never return errors
	return sims
}
