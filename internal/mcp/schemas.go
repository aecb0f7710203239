package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var languageEnum = []string{"go", "python", "javascript", "typescript", "java", "rust", "c", "cpp", "ruby"}

var symbolTypeEnum = []string{"function", "method", "class", "struct", "interface", "type", "const", "var", "block"}

// filtersProperty is the shared filters object used by both search tools
func filtersProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Optional filters applied after the index lookup",
		"properties": map[string]interface{}{
			"languages": map[string]interface{}{
				"type":        "array",
				"description": "Restrict results to these languages",
				"items":       map[string]interface{}{"type": "string", "enum": languageEnum},
			},
			"symbol_types": map[string]interface{}{
				"type":        "array",
				"description": "Restrict results to these symbol kinds",
				"items":       map[string]interface{}{"type": "string", "enum": symbolTypeEnum},
			},
			"file_pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern matched against result file paths (e.g. '*.go')",
			},
			"repository": map[string]interface{}{
				"type":        "string",
				"description": "Restrict results to one indexed repository root",
			},
		},
	}
}

// indexRepositoryTool defines index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index a source repository so its code is semantically searchable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"languages": map[string]interface{}{
					"type":        "array",
					"description": "Only index files in these languages (default: all supported)",
					"items":       map[string]interface{}{"type": "string", "enum": languageEnum},
				},
				"include_tests": map[string]interface{}{
					"type":        "boolean",
					"description": "Index test files as well",
					"default":     true,
				},
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "Reprocess every file, ignoring content hashes",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// indexCodeTool defines index_code
func indexCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_code",
		Description: "Index a single code snippet directly, without a repository walk",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The snippet source text",
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Logical file path for the snippet",
				},
				"language": map[string]interface{}{
					"type":        "string",
					"description": "Snippet language (default: inferred from file_path)",
					"enum":        languageEnum,
				},
				"symbol_type": map[string]interface{}{
					"type":        "string",
					"description": "Symbol kind of the snippet (default: block)",
					"enum":        symbolTypeEnum,
				},
				"symbol_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the snippet's symbol",
				},
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository the snippet belongs to",
				},
				"start_line": map[string]interface{}{
					"type":        "integer",
					"description": "First line of the snippet in its file",
					"default":     1,
					"minimum":     1,
				},
			},
			Required: []string{"code", "file_path"},
		},
	}
}

// semanticSearchTool defines semantic_search
func semanticSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "semantic_search",
		Description: "Search indexed code with a natural-language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language description of the code to find",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"exclude_exact": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop results that are exact matches of the query embedding",
					"default":     false,
				},
				"filters": filtersProperty(),
			},
			Required: []string{"query"},
		},
	}
}

// findSimilarCodeTool defines find_similar_code
func findSimilarCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_similar_code",
		Description: "Find indexed snippets similar to a probe snippet, with a similarity band per result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The probe snippet",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"exclude_exact": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop exact copies of the probe, keep near-duplicates and below",
					"default":     false,
				},
				"filters": filtersProperty(),
			},
			Required: []string{"code"},
		},
	}
}

// deleteSnippetTool defines delete_snippet
func deleteSnippetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_snippet",
		Description: "Remove an indexed snippet by id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Snippet id as returned by index_code or search results",
				},
			},
			Required: []string{"id"},
		},
	}
}

// getStatsTool defines get_stats
func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report index and storage statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
