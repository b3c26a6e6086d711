package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/ppiankov/tru8/internal/cache"
	"github.com/ppiankov/tru8/internal/model"
	"golang.org/x/sync/singleflight"
)

// embeddingMemoTTL bounds how long a vector stays in process memory. It covers one claim's
// pairwise scoring, which reuses every text n-1 times.
const embeddingMemoTTL = 10 * time.Minute

// SimilarityOracle scores the semantic similarity of two texts in [0, 1]
type SimilarityOracle interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// EmbeddingSimilarity compares texts by the cosine of their embeddings.
// Embeddings are cached per text so each text is embedded once per TTL. An in-process memo
// sits in front of the shared cache and stays on when that cache is disabled; concurrent
// requests for the same text share one embedder call.
type EmbeddingSimilarity struct {
	embedder Embedder
	cache    cache.Cache
	memo     *cache.MemoryCache
	flight   singleflight.Group
	ttl      time.Duration
	name     string
}

// NewEmbeddingSimilarity wraps an embedder; name separates embedding spaces in the cache
func NewEmbeddingSimilarity(embedder Embedder, c cache.Cache, ttl time.Duration, name string) *EmbeddingSimilarity {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &EmbeddingSimilarity{
		embedder: embedder,
		cache:    c,
		memo:     cache.NewMemoryCache(embeddingMemoTTL, embeddingMemoTTL),
		ttl:      ttl,
		name:     name,
	}
}

// Similarity returns the cosine of the two embeddings, floored at 0
func (s *EmbeddingSimilarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.embed(ctx, b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(va), len(vb))
	}
	return model.Clamp(cosine(va, vb), 0, 1), nil
}

func (s *EmbeddingSimilarity) embed(ctx context.Context, text string) ([]float64, error) {
	key := cache.Key("embedding", s.name, text)
	data, ok := s.memo.Get(key)
	if !ok {
		v, err, _ := s.flight.Do(key, func() (interface{}, error) {
			data, err := cache.ReadThrough(s.cache, key, s.ttl, func() ([]byte, error) {
				vec, err := s.embedder.Embed(ctx, text)
				if err != nil {
					return nil, err
				}
				return json.Marshal(vec)
			})
			if err != nil {
				return nil, err
			}
			_ = s.memo.Set(key, data, embeddingMemoTTL)
			return data, nil
		})
		if err != nil {
			return nil, err
		}
		data = v.([]byte)
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LexicalSimilarity is an offline similarity oracle over content-word sets. It scores the
// overlap coefficient |A∩B| / min(|A|, |B|), so a short claim fully restated inside a longer
// snippet scores 1.
type LexicalSimilarity struct{}

// Similarity never fails
func (LexicalSimilarity) Similarity(_ context.Context, a, b string) (float64, error) {
	ta, tb := terms(a), terms(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0, nil
	}
	if len(tb) < len(ta) {
		ta, tb = tb, ta
	}

	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)), nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {}, "but": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "he": {}, "her": {}, "his": {},
	"in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "she": {},
	"that": {}, "the": {}, "their": {}, "there": {}, "they": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "which": {}, "who": {}, "will": {}, "with": {}, "would": {},
}

// terms returns the set of lowercased, lightly stemmed content words of text
func terms(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop || len(w) < 2 {
			continue
		}
		set[stem(w)] = struct{}{}
	}
	return set
}

func stem(w string) string {
	switch {
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		w = w[:len(w)-3]
	case len(w) > 4 && strings.HasSuffix(w, "ed"):
		w = w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		w = w[:len(w)-1]
	}
	// reduce, reduces and reduced share one stem
	if len(w) > 4 && strings.HasSuffix(w, "e") {
		w = w[:len(w)-1]
	}
	return w
}
