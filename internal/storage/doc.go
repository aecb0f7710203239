// Package storage persists indexed code snippets in SQLite.
//
// The schema has three tables: repositories, files, and snippets. Snippet
// row ids double as vector ids in the search index, which keeps the
// recompute path simple: when the index needs a leaf embedding it fetches
// the snippet content by primary key and re-embeds it. Because the index
// discards most embeddings after pruning, the snippets table is the only
// durable copy of what was indexed.
//
// File rows carry a content hash so repeated indexing runs can skip
// unchanged files entirely.
//
// Two drivers are supported through build tags: the default pure Go
// modernc.org/sqlite, and github.com/mattn/go-sqlite3 behind the
// cgo_sqlite tag for deployments that can afford CGO.
package storage
