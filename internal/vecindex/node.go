package vecindex

// edge is a directed adjacency entry with its traversal weight
type edge struct {
	id   int64
	dist float32
}

// node is a single graph vertex. Only hubs retain embeddings; leaf
// embeddings live in the staged map until the next pruning pass and are
// recomputed on demand afterwards.
type node struct {
	id        int64
	neighbors []edge
	isHub     bool
	tombstone bool
}

// degree returns the node's live out-degree
func (n *node) degree() int {
	return len(n.neighbors)
}

// hasNeighbor reports whether an edge to id already exists
func (n *node) hasNeighbor(id int64) bool {
	for _, e := range n.neighbors {
		if e.id == id {
			return true
		}
	}
	return false
}

// addNeighbor appends an edge unless one to the same node exists
func (n *node) addNeighbor(id int64, dist float32) {
	if id == n.id || n.hasNeighbor(id) {
		return
	}
	n.neighbors = append(n.neighbors, edge{id: id, dist: dist})
}

// removeNeighbor drops the edge to id if present
func (n *node) removeNeighbor(id int64) {
	for i, e := range n.neighbors {
		if e.id == id {
			n.neighbors = append(n.neighbors[:i], n.neighbors[i+1:]...)
			return
		}
	}
}
