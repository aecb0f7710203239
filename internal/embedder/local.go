package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/hubgrep/hubgrep-mcp/internal/metrics"
)

// LocalProvider embeds text without a network dependency using hashed
// bag-of-words features. Identifiers are split on case and punctuation
// boundaries and each token contributes its full form plus a short prefix,
// so "parseConfig" and "parse configuration" land in overlapping buckets.
// Vectors are L2-normalized; it is no language model, but it is fully
// deterministic and good enough for offline use and tests.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates the offline embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model: "hashed-bow-v1",
		cache: cache,
	}, nil
}

func (l *LocalProvider) EmbedQuery(ctx context.Context, text string) (*Embedding, error) {
	return l.embedOne(ctx, text)
}

func (l *LocalProvider) EmbedCode(ctx context.Context, text string) (*Embedding, error) {
	return l.embedOne(ctx, text)
}

func (l *LocalProvider) embedOne(ctx context.Context, text string) (*Embedding, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	start := time.Now()
	vector := hashedFeatures(text, LocalDimension)
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())

	emb := &Embedding{
		Vector:    vector,
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := l.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// hashedFeatures builds the normalized feature vector for a text
func hashedFeatures(text string, dim int) []float32 {
	vector := make([]float32, dim)

	for _, tok := range tokenizeCode(text) {
		addFeature(vector, tok)
		// A short prefix feature links inflected forms: "config",
		// "configuration", and "configure" share the "conf" bucket.
		if len(tok) > 4 {
			addFeature(vector, tok[:4]+"*")
		}
	}

	normalize(vector)
	return vector
}

func addFeature(vector []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := sum % uint64(len(vector))
	// The second hash bit picks the sign so unrelated tokens sharing a
	// bucket tend to cancel instead of compounding.
	if sum>>63 == 0 {
		vector[bucket]++
	} else {
		vector[bucket]--
	}
}

// tokenizeCode splits source text into lowercase word tokens, breaking
// identifiers at case and punctuation boundaries. Single characters and
// pure numbers are dropped.
func tokenizeCode(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() >= 2 {
			tok := strings.ToLower(cur.String())
			if !isNumeric(tok) {
				tokens = append(tokens, tok)
			}
		}
		cur.Reset()
	}

	prevLower := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && prevLower {
				flush()
			}
			cur.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			flush()
			prevLower = false
		}
	}
	flush()

	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
