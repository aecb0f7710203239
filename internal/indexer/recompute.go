package indexer

import (
	"context"
	"fmt"

	"github.com/hubgrep/hubgrep-mcp/internal/embedder"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

// NewRecomputer builds the callback the vector index uses to regenerate a
// discarded leaf embedding: fetch the snippet's content by primary key and
// re-embed it. The index caches results, so repeated hits on the same
// snippet within a search session cost one storage read.
func NewRecomputer(store storage.Storage, emb embedder.Embedder) vecindex.Recomputer {
	return func(ctx context.Context, id int64) ([]float32, error) {
		content, err := store.GetSnippetContent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch snippet %d: %w", id, err)
		}
		e, err := emb.EmbedCode(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("failed to re-embed snippet %d: %w", id, err)
		}
		return e.Vector, nil
	}
}
