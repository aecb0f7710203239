// Package types defines the shared data model for hubgrep: code snippet
// metadata, search results, similarity bands, and search filters.
//
// Metadata entries are immutable once written; they are created by the
// indexing pipeline and deleted only together with their vector. Search
// results are derived values and never persisted.
package types
