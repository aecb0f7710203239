// Package searcher implements the read-only query pipeline over the hub
// index: embed the query, over-fetch candidates from the index, apply
// metadata filters, fold near-duplicates, and rank what survives.
// Similar-code lookups additionally tag each result with a similarity
// band. Responses are cached per request shape and served while the index
// generation and node count are unchanged.
package searcher
