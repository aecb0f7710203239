// Package vecindex implements a hub-aware approximate nearest-neighbor
// index over code embeddings.
//
// Insertions stage their embeddings and link into a navigable small-world
// graph. Every BatchSize insertions a pruning pass trims each node's edges,
// promotes the highest-degree nodes to hubs with permanently cached
// embeddings, and discards the remaining staged embeddings. Searches enter
// at the hubs and recompute leaf embeddings on demand through a caller
// supplied Recomputer, charging provider latency against a per-call budget;
// when the budget runs out the search returns a partial result marked
// approximate instead of blocking or failing.
package vecindex
