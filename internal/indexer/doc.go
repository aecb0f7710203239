// Package indexer orchestrates the pipeline from source files to
// searchable snippets. A run discovers files under a repository root,
// chunks changed files concurrently, persists snippet rows, embeds their
// content in batches, and inserts the vectors into the hub index. Snippet
// row ids double as vector ids, which is what lets the index recompute a
// discarded embedding from a single primary-key lookup.
package indexer
