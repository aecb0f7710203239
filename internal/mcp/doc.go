// Package mcp exposes the indexing and search pipeline as a Model Context
// Protocol server over stdio.
//
// Six tools are registered:
//   - index_repository: walk a repository and index its source files
//   - index_code: index one snippet directly
//   - semantic_search: natural-language search over indexed code
//   - find_similar_code: similarity search from a probe snippet, with a
//     similarity band per result
//   - delete_snippet: remove a snippet from storage and the index
//   - get_stats: index and storage statistics
//
// Every tool returns a JSON text payload shaped {success, message, ...}.
// Operational failures (provider unreachable, indexing error) come back as
// {success: false} results; only malformed request parameters are rejected
// at the protocol boundary. stdout carries the protocol, so all logging
// goes to stderr.
package mcp
