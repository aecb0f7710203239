package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hubgrep/hubgrep-mcp/internal/embedder"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

const (
	// DefaultLimit is used when a request does not specify one
	DefaultLimit = 10

	// MaxLimit caps the number of results per request
	MaxLimit = 100

	// OverFetchFactor widens the index lookup so results survive
	// filtering and dedup
	OverFetchFactor = 5

	// DefaultDedupThreshold controls near-duplicate folding: two
	// same-file results whose similarities differ by less than
	// 1-threshold are treated as the same content
	DefaultDedupThreshold = 0.95

	queryCacheSize = 1000
)

// Options tunes a single search call
type Options struct {
	Limit        int
	MinScore     float64
	Filters      *types.SearchFilters
	ExcludeExact bool // drop results scoring >= the exact band threshold
	Exhaustive   bool // score every live node instead of traversing
	UseCache     bool
}

// Response carries ranked results plus timing and traversal metadata
type Response struct {
	Results       []types.CodeSearchResult
	Approximate   bool // recompute budget ran out mid-search
	EmbeddingTime time.Duration
	SearchTime    time.Duration
	CacheHit      bool
}

// SimilarResponse is a Response whose results carry similarity bands
type SimilarResponse struct {
	Results       []types.SimilarCodeResult
	Approximate   bool
	EmbeddingTime time.Duration
	SearchTime    time.Duration
}

// cacheEntry pins a cached response to the index state that produced it
type cacheEntry struct {
	response   *Response
	generation uint64
	count      int
}

// Searcher runs the read-only query pipeline: embed, over-fetched index
// lookup, filter, dedup, rank. Results are served from an LRU cache when
// the index has not changed since the entry was stored.
type Searcher struct {
	store    storage.Storage
	embedder embedder.Embedder
	index    *vecindex.Index
	logger   *zap.Logger

	dedupThreshold float64

	cacheMu sync.Mutex
	cache   *lru.Cache[[32]byte, *cacheEntry]
}

// New creates a Searcher
func New(store storage.Storage, emb embedder.Embedder, index *vecindex.Index, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[[32]byte, *cacheEntry](queryCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create query cache: %v", err))
	}
	return &Searcher{
		store:          store,
		embedder:       emb,
		index:          index,
		logger:         logger,
		dedupThreshold: DefaultDedupThreshold,
		cache:          cache,
	}
}

// SemanticSearch finds snippets relevant to a natural-language query
func (s *Searcher) SemanticSearch(ctx context.Context, query string, opts Options) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrEmptyQuery
	}
	normalizeOptions(&opts)
	if err := validateFilters(opts.Filters); err != nil {
		return nil, err
	}

	key := cacheKey("query", query, opts)
	if opts.UseCache {
		if cached := s.checkCache(key); cached != nil {
			return cached, nil
		}
	}

	resp, err := s.run(ctx, opts, func(ctx context.Context) (*embedder.Embedding, error) {
		return s.embedder.EmbedQuery(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	if opts.UseCache {
		s.storeCache(key, resp)
	}
	return resp, nil
}

// FindSimilarCode finds snippets similar to a probe snippet, each tagged
// with a similarity band
func (s *Searcher) FindSimilarCode(ctx context.Context, code string, opts Options) (*SimilarResponse, error) {
	if strings.TrimSpace(code) == "" {
		return nil, types.ErrEmptySnippet
	}
	normalizeOptions(&opts)
	if err := validateFilters(opts.Filters); err != nil {
		return nil, err
	}

	resp, err := s.run(ctx, opts, func(ctx context.Context) (*embedder.Embedding, error) {
		return s.embedder.EmbedCode(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	banded := make([]types.SimilarCodeResult, len(resp.Results))
	for i, r := range resp.Results {
		banded[i] = types.SimilarCodeResult{
			CodeSearchResult: r,
			Band:             types.BandFor(r.Similarity),
		}
	}
	return &SimilarResponse{
		Results:       banded,
		Approximate:   resp.Approximate,
		EmbeddingTime: resp.EmbeddingTime,
		SearchTime:    resp.SearchTime,
	}, nil
}

// embedFunc abstracts the query/passage embedding asymmetry
type embedFunc func(ctx context.Context) (*embedder.Embedding, error)

// run executes the shared pipeline: embed, over-fetched index search,
// filter, dedup, rank
func (s *Searcher) run(ctx context.Context, opts Options, embed embedFunc) (*Response, error) {
	embedStart := time.Now()
	emb, err := embed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	embeddingTime := time.Since(embedStart)

	searchStart := time.Now()
	idxResp, err := s.index.Search(ctx, emb.Vector, opts.Limit*OverFetchFactor, &vecindex.SearchOptions{
		Exhaustive: opts.Exhaustive,
	})
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	results := s.assemble(ctx, idxResp.Results, opts)
	searchTime := time.Since(searchStart)

	if idxResp.Approximate {
		s.logger.Debug("search truncated by recompute budget",
			zap.Int("recompute_calls", idxResp.RecomputeCalls),
			zap.Duration("recompute_elapsed", idxResp.RecomputeElapsed))
	}

	return &Response{
		Results:       results,
		Approximate:   idxResp.Approximate,
		EmbeddingTime: embeddingTime,
		SearchTime:    searchTime,
	}, nil
}

// assemble loads metadata for index hits, applies filters, and folds
// near-duplicates greedily in rank order until limit unique results remain
func (s *Searcher) assemble(ctx context.Context, hits []vecindex.Result, opts Options) []types.CodeSearchResult {
	kept := make([]types.CodeSearchResult, 0, opts.Limit)

	for _, hit := range hits {
		if len(kept) >= opts.Limit {
			break
		}
		if hit.Similarity < opts.MinScore {
			// Hits are similarity-ordered, nothing below passes either.
			break
		}
		if opts.ExcludeExact && hit.Similarity >= types.ExactThreshold {
			continue
		}

		snippet, err := s.store.GetSnippet(ctx, hit.ID)
		if err != nil {
			s.logger.Warn("skipping unloadable snippet", zap.Int64("id", hit.ID), zap.Error(err))
			continue
		}
		md := snippet.Metadata()

		if !matchFilters(md, opts.Filters) {
			continue
		}
		if s.isDuplicate(kept, md, hit.Similarity) {
			continue
		}

		kept = append(kept, types.CodeSearchResult{
			ID:         hit.ID,
			Rank:       len(kept) + 1,
			Similarity: hit.Similarity,
			Metadata:   md,
			Code:       snippet.Content,
		})
	}

	return kept
}

// isDuplicate reports whether a candidate duplicates an already-kept
// result. Two results are duplicates when they come from the same file and
// either their line ranges overlap or their similarity scores are within
// 1-dedupThreshold of each other. The same-file requirement keeps genuine
// cross-file copies visible.
func (s *Searcher) isDuplicate(kept []types.CodeSearchResult, md types.CodeMetadata, similarity float64) bool {
	for _, k := range kept {
		if k.Metadata.FilePath != md.FilePath || k.Metadata.Repository != md.Repository {
			continue
		}
		if rangesOverlap(k.Metadata.StartLine, k.Metadata.EndLine, md.StartLine, md.EndLine) {
			return true
		}
		diff := k.Similarity - similarity
		if diff < 0 {
			diff = -diff
		}
		if diff < 1-s.dedupThreshold {
			return true
		}
	}
	return false
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// matchFilters applies the post-lookup metadata filters
func matchFilters(md types.CodeMetadata, f *types.SearchFilters) bool {
	if f == nil {
		return true
	}
	if len(f.Languages) > 0 && !containsLanguage(f.Languages, md.Language) {
		return false
	}
	if len(f.SymbolTypes) > 0 && !containsSymbolType(f.SymbolTypes, md.SymbolType) {
		return false
	}
	if f.Repository != "" && f.Repository != md.Repository {
		return false
	}
	if f.FilePattern != "" {
		ok, err := path.Match(f.FilePattern, md.FilePath)
		if err != nil || !ok {
			// Match against the base name too so "*.go" works on
			// nested paths.
			ok, _ = path.Match(f.FilePattern, path.Base(md.FilePath))
			if !ok {
				return false
			}
		}
	}
	return true
}

func containsLanguage(list []types.Language, l types.Language) bool {
	for _, v := range list {
		if v == l {
			return true
		}
	}
	return false
}

func containsSymbolType(list []types.SymbolType, t types.SymbolType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// validateFilters rejects malformed filter patterns before any embedding
// or index work happens
func validateFilters(f *types.SearchFilters) error {
	if f == nil {
		return nil
	}
	if f.FilePattern != "" {
		if _, err := path.Match(f.FilePattern, "probe"); err != nil {
			return fmt.Errorf("invalid file pattern %q: %w", f.FilePattern, err)
		}
	}
	if f.MinScore < 0 || f.MinScore > 1 {
		return types.ErrInvalidSimilarity
	}
	return nil
}

func normalizeOptions(opts *Options) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.Filters != nil && opts.Filters.MinScore > opts.MinScore {
		opts.MinScore = opts.Filters.MinScore
	}
}

// checkCache returns a copied cached response if the index is unchanged
// since the entry was stored
func (s *Searcher) checkCache(key [32]byte) *Response {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	if entry.generation != s.index.Generation() || entry.count != s.index.Count() {
		s.cache.Remove(key)
		return nil
	}

	resp := copyResponse(entry.response)
	resp.CacheHit = true
	return resp
}

func (s *Searcher) storeCache(key [32]byte, resp *Response) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Add(key, &cacheEntry{
		response:   copyResponse(resp),
		generation: s.index.Generation(),
		count:      s.index.Count(),
	})
}

// InvalidateCache drops every cached query result
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Purge()
}

// copyResponse deep-copies a response so cached entries stay immutable
func copyResponse(src *Response) *Response {
	dst := &Response{
		Approximate:   src.Approximate,
		EmbeddingTime: src.EmbeddingTime,
		SearchTime:    src.SearchTime,
		Results:       make([]types.CodeSearchResult, len(src.Results)),
	}
	copy(dst.Results, src.Results)
	return dst
}

// cacheKey builds a deterministic hash of the request shape
func cacheKey(kind, text string, opts Options) [32]byte {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte(0)
	b.WriteString(text)
	fmt.Fprintf(&b, "|%d|%.4f|%t|%t", opts.Limit, opts.MinScore, opts.ExcludeExact, opts.Exhaustive)
	if f := opts.Filters; f != nil {
		b.WriteString("|")
		for _, l := range f.Languages {
			b.WriteString(string(l))
			b.WriteByte(',')
		}
		b.WriteString("|")
		for _, t := range f.SymbolTypes {
			b.WriteString(string(t))
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "|%s|%s|%.4f", f.FilePattern, f.Repository, f.MinScore)
	}
	return sha256.Sum256([]byte(b.String()))
}
