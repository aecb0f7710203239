package storage

import (
	"context"
	"time"

	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

// Storage persists indexed snippets and the bookkeeping around them.
// Snippet row ids double as vector ids in the search index, so the snippet
// text a recompute call needs is always one primary-key lookup away.
type Storage interface {
	// Repository operations
	CreateRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, rootPath string) (*Repository, error)
	UpdateRepository(ctx context.Context, repo *Repository) error
	ListRepositories(ctx context.Context) ([]*Repository, error)

	// File operations
	UpsertFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, repositoryID int64, filePath string) (*File, error)
	DeleteFile(ctx context.Context, fileID int64) error
	ListFiles(ctx context.Context, repositoryID int64) ([]*File, error)

	// Snippet operations
	InsertSnippet(ctx context.Context, snippet *Snippet) error
	GetSnippet(ctx context.Context, snippetID int64) (*Snippet, error)
	GetSnippetContent(ctx context.Context, snippetID int64) (string, error)
	ListSnippetsByFile(ctx context.Context, fileID int64) ([]*Snippet, error)
	ListSnippetIDs(ctx context.Context) ([]int64, error)
	DeleteSnippet(ctx context.Context, snippetID int64) error
	DeleteSnippetsByFile(ctx context.Context, fileID int64) (deletedIDs []int64, err error)
	CountSnippets(ctx context.Context) (int, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transactional view of the store
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// Repository is an indexed source tree
type Repository struct {
	ID            int64
	RootPath      string
	Name          string
	LastRunID     string // uuid of the most recent indexing run
	TotalFiles    int
	TotalSnippets int
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// File is a tracked source file. The content hash drives incremental
// reindexing: an unchanged hash skips re-embedding the whole file.
type File struct {
	ID            int64
	RepositoryID  int64
	FilePath      string // relative to the repository root
	Language      string
	ContentHash   [32]byte
	ModTime       time.Time
	SizeBytes     int64
	SnippetCount  int
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snippet is an embedded unit of code with its source location
type Snippet struct {
	ID          int64
	FileID      *int64 // nil for ad-hoc snippets indexed directly
	Repository  string
	FilePath    string
	StartLine   int
	EndLine     int
	Language    string
	SymbolType  string
	SymbolName  string
	Content     string
	ContentHash [32]byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Metadata converts a snippet row to the shared metadata type
func (s *Snippet) Metadata() types.CodeMetadata {
	return types.CodeMetadata{
		FilePath:    s.FilePath,
		StartLine:   s.StartLine,
		EndLine:     s.EndLine,
		Language:    types.Language(s.Language),
		SymbolType:  types.SymbolType(s.SymbolType),
		SymbolName:  s.SymbolName,
		Repository:  s.Repository,
		ContentHash: s.ContentHash,
	}
}

// FromMetadata builds a snippet row from metadata and content
func FromMetadata(md types.CodeMetadata, content string) *Snippet {
	return &Snippet{
		Repository:  md.Repository,
		FilePath:    md.FilePath,
		StartLine:   md.StartLine,
		EndLine:     md.EndLine,
		Language:    string(md.Language),
		SymbolType:  string(md.SymbolType),
		SymbolName:  md.SymbolName,
		Content:     content,
		ContentHash: md.ContentHash,
	}
}
