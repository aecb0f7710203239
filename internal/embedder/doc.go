// Package embedder generates vector embeddings for code snippets and
// search queries.
//
// Three providers implement the Embedder interface: Jina AI (1024
// dimensions, code-optimized, distinguishes retrieval queries from
// passages), OpenAI (1536 dimensions), and a fully offline local provider
// built on hashed bag-of-words features (384 dimensions). NewFromEnv
// selects a provider from HUBGREP_EMBEDDING_PROVIDER or the available API
// keys and falls back to the local provider so the server works with no
// configuration at all.
//
// Remote providers batch requests, retry transient failures with
// exponential backoff, and share an LRU cache keyed by content hash. The
// same embedder instance serves both indexing and the on-demand leaf
// recomputation the vector index performs during search, so the cache
// absorbs most recompute traffic for frequently visited snippets.
package embedder
