package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hubgrep/hubgrep-mcp/internal/indexer"
	"github.com/hubgrep/hubgrep-mcp/internal/searcher"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

// MCP error codes for malformed requests. Operational failures never use
// these; they come back as {success: false} results instead.
const (
	ErrorCodeInvalidParams = -32602
)

// handleIndexRepository handles index_repository
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(request)
	if err != nil {
		return nil, err
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, paramError("path", "missing or empty")
	}
	if err := validatePath(path); err != nil {
		return nil, paramError("path", err.Error())
	}

	config := &indexer.Config{
		ForceReindex: getBoolDefault(args, "force_reindex", false),
		IncludeTests: getBoolDefault(args, "include_tests", true),
		Languages:    parseLanguages(args["languages"]),
	}

	stats, err := s.indexer.IndexRepository(ctx, path, config)
	if err != nil {
		return failure(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"success":     true,
		"message":     fmt.Sprintf("indexed %d files (%d snippets)", stats.FilesIndexed, stats.SnippetsIndexed),
		"run_id":      stats.RunID,
		"indexed":     stats.FilesIndexed,
		"skipped":     stats.FilesSkipped,
		"failed":      stats.FilesFailed,
		"snippets":    stats.SnippetsIndexed,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		msgs := stats.ErrorMessages
		if len(msgs) > 5 {
			response["error_count"] = len(msgs)
			msgs = msgs[:5]
		}
		response["errors"] = msgs
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexCode handles index_code
func (s *Server) handleIndexCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(request)
	if err != nil {
		return nil, err
	}

	code, ok := args["code"].(string)
	if !ok || code == "" {
		return nil, paramError("code", "missing or empty")
	}
	filePath, ok := args["file_path"].(string)
	if !ok || filePath == "" {
		return nil, paramError("file_path", "missing or empty")
	}

	md := types.CodeMetadata{
		FilePath:   filePath,
		StartLine:  getIntDefault(args, "start_line", 1),
		Language:   types.Language(getStringDefault(args, "language", "")),
		SymbolType: types.SymbolType(getStringDefault(args, "symbol_type", "")),
		SymbolName: getStringDefault(args, "symbol_name", ""),
		Repository: getStringDefault(args, "repository", ""),
	}

	id, err := s.indexer.IndexCode(ctx, code, md)
	if err != nil {
		if errors.Is(err, indexer.ErrEmptySnippet) {
			return nil, paramError("code", "snippet is empty")
		}
		return failure(fmt.Sprintf("failed to index snippet: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"success": true,
		"message": "snippet indexed",
		"id":      id,
	})), nil
}

// handleSemanticSearch handles semantic_search
func (s *Server) handleSemanticSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, paramError("query", "missing or empty")
	}

	opts, err := parseSearchOptions(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.SemanticSearch(ctx, query, opts)
	if err != nil {
		if errors.Is(err, types.ErrEmptyQuery) {
			return nil, paramError("query", "query is empty")
		}
		return failure(fmt.Sprintf("search failed: %v", err)), nil
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = resultMap(r)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"success":           true,
		"message":           fmt.Sprintf("%d results", len(results)),
		"results":           results,
		"approx":            resp.Approximate,
		"embedding_time_ms": resp.EmbeddingTime.Milliseconds(),
		"search_time_ms":    resp.SearchTime.Milliseconds(),
	})), nil
}

// handleFindSimilarCode handles find_similar_code
func (s *Server) handleFindSimilarCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(request)
	if err != nil {
		return nil, err
	}

	code, ok := args["code"].(string)
	if !ok || code == "" {
		return nil, paramError("code", "missing or empty")
	}

	opts, err := parseSearchOptions(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.FindSimilarCode(ctx, code, opts)
	if err != nil {
		if errors.Is(err, types.ErrEmptySnippet) {
			return nil, paramError("code", "snippet is empty")
		}
		return failure(fmt.Sprintf("search failed: %v", err)), nil
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		m := resultMap(r.CodeSearchResult)
		m["band"] = string(r.Band)
		results[i] = m
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"success":           true,
		"message":           fmt.Sprintf("%d results", len(results)),
		"results":           results,
		"approx":            resp.Approximate,
		"embedding_time_ms": resp.EmbeddingTime.Milliseconds(),
		"search_time_ms":    resp.SearchTime.Milliseconds(),
	})), nil
}

// handleDeleteSnippet handles delete_snippet
func (s *Server) handleDeleteSnippet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(request)
	if err != nil {
		return nil, err
	}

	idVal, ok := args["id"].(float64)
	if !ok || idVal <= 0 {
		return nil, paramError("id", "missing or not a positive integer")
	}
	id := int64(idVal)

	if err := s.indexer.DeleteSnippet(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failure(fmt.Sprintf("snippet %d not found", id)), nil
		}
		return failure(fmt.Sprintf("failed to delete snippet %d: %v", id, err)), nil
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("snippet %d deleted", id),
	})), nil
}

// handleGetStats handles get_stats
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.index.Stats()

	snippets, err := s.store.CountSnippets(ctx)
	if err != nil {
		s.logger.Warn("failed to count snippets", zap.Error(err))
		snippets = -1
	}

	response := map[string]interface{}{
		"success":      true,
		"message":      "ok",
		"nodes":        stats.Nodes,
		"hubs":         stats.Hubs,
		"hub_fraction": stats.HubFraction,
		"tombstones":   stats.Tombstones,
		"snippets":     snippets,
		"dimension":    stats.Dimension,
		"metric":       string(stats.Metric),
	}
	if s.persist != nil {
		if last := s.persist.LastSavedAt(); !last.IsZero() {
			response["last_saved_at"] = last.Format("2006-01-02T15:04:05Z07:00")
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// requestArgs extracts the argument map from a tool call
func requestArgs(request mcp.CallToolRequest) (map[string]interface{}, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// parseSearchOptions builds searcher options from shared tool parameters
func parseSearchOptions(args map[string]interface{}) (searcher.Options, error) {
	opts := searcher.Options{
		Limit:        getIntDefault(args, "limit", searcher.DefaultLimit),
		ExcludeExact: getBoolDefault(args, "exclude_exact", false),
		UseCache:     true,
	}
	if opts.Limit < 1 || opts.Limit > searcher.MaxLimit {
		return opts, paramError("limit", fmt.Sprintf("must be between 1 and %d", searcher.MaxLimit))
	}

	if v, ok := args["min_score"].(float64); ok {
		if v < 0 || v > 1 {
			return opts, paramError("min_score", "must be between 0.0 and 1.0")
		}
		opts.MinScore = v
	}

	if raw, ok := args["filters"].(map[string]interface{}); ok {
		opts.Filters = &types.SearchFilters{
			FilePattern: getStringDefault(raw, "file_pattern", ""),
			Repository:  getStringDefault(raw, "repository", ""),
			Languages:   parseLanguages(raw["languages"]),
		}
		for _, v := range toStringSlice(raw["symbol_types"]) {
			opts.Filters.SymbolTypes = append(opts.Filters.SymbolTypes, types.SymbolType(v))
		}
	}
	return opts, nil
}

func parseLanguages(raw interface{}) []types.Language {
	var langs []types.Language
	for _, v := range toStringSlice(raw) {
		langs = append(langs, types.Language(v))
	}
	return langs
}

func toStringSlice(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// resultMap flattens a search result for the tool response
func resultMap(r types.CodeSearchResult) map[string]interface{} {
	return map[string]interface{}{
		"id":          r.ID,
		"rank":        r.Rank,
		"similarity":  r.Similarity,
		"file_path":   r.Metadata.FilePath,
		"start_line":  r.Metadata.StartLine,
		"end_line":    r.Metadata.EndLine,
		"language":    string(r.Metadata.Language),
		"symbol_type": string(r.Metadata.SymbolType),
		"symbol_name": r.Metadata.SymbolName,
		"repository":  r.Metadata.Repository,
		"code":        r.Code,
	}
}

// failure builds a {success: false} tool result for an operational error
func failure(message string) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"success": false,
		"message": message,
	}))
}

// paramError rejects a malformed request at the protocol boundary
func paramError(param, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid parameter %s: %s", param, reason), map[string]interface{}{
		"param":  param,
		"reason": reason,
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that a repository path exists and is a readable
// directory
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors for repository paths
var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
