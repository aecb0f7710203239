package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hubgrep/hubgrep-mcp/internal/embedder"
	"github.com/hubgrep/hubgrep-mcp/internal/indexer"
	"github.com/hubgrep/hubgrep-mcp/internal/persist"
	"github.com/hubgrep/hubgrep-mcp/internal/searcher"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

const (
	// ServerName is the MCP server name
	ServerName = "hubgrep-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Deps carries the assembled application components. Indexer and searcher
// share one embedder instance so embeddings cached during indexing are
// available to search.
type Deps struct {
	Store    storage.Storage
	Embedder embedder.Embedder
	Index    *vecindex.Index
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Persist  *persist.Manager
	Logger   *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    storage.Storage
	index    *vecindex.Index
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	persist  *persist.Manager
	logger   *zap.Logger
}

// NewServer creates an MCP server over the given components
func NewServer(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Index == nil || deps.Indexer == nil || deps.Searcher == nil {
		return nil, errors.New("store, index, indexer, and searcher are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		store:    deps.Store,
		index:    deps.Index,
		indexer:  deps.Indexer,
		searcher: deps.Searcher,
		persist:  deps.Persist,
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until the client
// disconnects
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio",
		zap.String("name", ServerName),
		zap.String("version", ServerVersion))
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(indexCodeTool(), s.handleIndexCode)
	s.mcp.AddTool(semanticSearchTool(), s.handleSemanticSearch)
	s.mcp.AddTool(findSimilarCodeTool(), s.handleFindSimilarCode)
	s.mcp.AddTool(deleteSnippetTool(), s.handleDeleteSnippet)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
}
