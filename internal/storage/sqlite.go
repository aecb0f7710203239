package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode keeps readers unblocked while the indexer writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (or creates) the snippet database at dbPath
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Repository operations

func (s *SQLiteStorage) createRepositoryWithQuerier(ctx context.Context, q querier, repo *Repository) error {
	query := `
		INSERT INTO repositories (root_path, name, last_run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		repo.RootPath, repo.Name, repo.LastRunID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	repo.ID = id
	repo.CreatedAt = now
	repo.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateRepository(ctx context.Context, repo *Repository) error {
	return s.createRepositoryWithQuerier(ctx, s.querier(), repo)
}

func (s *SQLiteStorage) getRepositoryWithQuerier(ctx context.Context, q querier, rootPath string) (*Repository, error) {
	query := `
		SELECT id, root_path, name, last_run_id, total_files, total_snippets,
		       last_indexed_at, created_at, updated_at
		FROM repositories
		WHERE root_path = ?
	`
	var repo Repository
	var lastIndexedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, rootPath).Scan(
		&repo.ID, &repo.RootPath, &repo.Name, &repo.LastRunID,
		&repo.TotalFiles, &repo.TotalSnippets,
		&lastIndexedAt, &repo.CreatedAt, &repo.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		repo.LastIndexedAt = lastIndexedAt.Time
	}
	return &repo, nil
}

func (s *SQLiteStorage) GetRepository(ctx context.Context, rootPath string) (*Repository, error) {
	return s.getRepositoryWithQuerier(ctx, s.querier(), rootPath)
}

func (s *SQLiteStorage) updateRepositoryWithQuerier(ctx context.Context, q querier, repo *Repository) error {
	query := `
		UPDATE repositories
		SET name = ?, last_run_id = ?, total_files = ?, total_snippets = ?,
		    last_indexed_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		repo.Name, repo.LastRunID, repo.TotalFiles, repo.TotalSnippets,
		repo.LastIndexedAt, now, repo.ID)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	repo.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateRepository(ctx context.Context, repo *Repository) error {
	return s.updateRepositoryWithQuerier(ctx, s.querier(), repo)
}

func (s *SQLiteStorage) listRepositoriesWithQuerier(ctx context.Context, q querier) ([]*Repository, error) {
	query := `
		SELECT id, root_path, name, last_run_id, total_files, total_snippets,
		       last_indexed_at, created_at, updated_at
		FROM repositories
		ORDER BY root_path
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*Repository
	for rows.Next() {
		var repo Repository
		var lastIndexedAt sql.NullTime
		if err := rows.Scan(
			&repo.ID, &repo.RootPath, &repo.Name, &repo.LastRunID,
			&repo.TotalFiles, &repo.TotalSnippets,
			&lastIndexedAt, &repo.CreatedAt, &repo.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if lastIndexedAt.Valid {
			repo.LastIndexedAt = lastIndexedAt.Time
		}
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return s.listRepositoriesWithQuerier(ctx, s.querier())
}

// File operations

func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (repository_id, file_path, language, content_hash, mod_time, size_bytes, snippet_count, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, file_path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			snippet_count = excluded.snippet_count,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		file.RepositoryID, file.FilePath, file.Language, file.ContentHash[:],
		file.ModTime, file.SizeBytes, file.SnippetCount, now, now, now).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	file.LastIndexedAt = now
	file.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, repositoryID int64, filePath string) (*File, error) {
	query := `
		SELECT id, repository_id, file_path, language, content_hash, mod_time,
		       size_bytes, snippet_count, last_indexed_at, created_at, updated_at
		FROM files
		WHERE repository_id = ? AND file_path = ?
	`
	return scanFile(q.QueryRowContext(ctx, query, repositoryID, filePath))
}

func (s *SQLiteStorage) GetFile(ctx context.Context, repositoryID int64, filePath string) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), repositoryID, filePath)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*File, error) {
	var file File
	var hash []byte
	var modTime, lastIndexedAt sql.NullTime
	err := row.Scan(
		&file.ID, &file.RepositoryID, &file.FilePath, &file.Language, &hash,
		&modTime, &file.SizeBytes, &file.SnippetCount,
		&lastIndexedAt, &file.CreatedAt, &file.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(file.ContentHash[:], hash)
	if modTime.Valid {
		file.ModTime = modTime.Time
	}
	if lastIndexedAt.Valid {
		file.LastIndexedAt = lastIndexedAt.Time
	}
	return &file, nil
}

func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, fileID int64) error {
	result, err := q.ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	return s.deleteFileWithQuerier(ctx, s.querier(), fileID)
}

func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier, repositoryID int64) ([]*File, error) {
	query := `
		SELECT id, repository_id, file_path, language, content_hash, mod_time,
		       size_bytes, snippet_count, last_indexed_at, created_at, updated_at
		FROM files
		WHERE repository_id = ?
		ORDER BY file_path
	`
	rows, err := q.QueryContext(ctx, query, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListFiles(ctx context.Context, repositoryID int64) ([]*File, error) {
	return s.listFilesWithQuerier(ctx, s.querier(), repositoryID)
}

// Snippet operations

func (s *SQLiteStorage) insertSnippetWithQuerier(ctx context.Context, q querier, snippet *Snippet) error {
	query := `
		INSERT INTO snippets (file_id, repository, file_path, start_line, end_line,
		                      language, symbol_type, symbol_name, content, content_hash,
		                      created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		snippet.FileID, snippet.Repository, snippet.FilePath,
		snippet.StartLine, snippet.EndLine,
		snippet.Language, snippet.SymbolType, snippet.SymbolName,
		snippet.Content, snippet.ContentHash[:], now, now)
	if err != nil {
		return fmt.Errorf("failed to insert snippet: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	snippet.ID = id
	snippet.CreatedAt = now
	snippet.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) InsertSnippet(ctx context.Context, snippet *Snippet) error {
	return s.insertSnippetWithQuerier(ctx, s.querier(), snippet)
}

const snippetColumns = `id, file_id, repository, file_path, start_line, end_line,
	language, symbol_type, symbol_name, content, content_hash, created_at, updated_at`

func scanSnippet(row rowScanner) (*Snippet, error) {
	var sn Snippet
	var fileID sql.NullInt64
	var hash []byte
	err := row.Scan(
		&sn.ID, &fileID, &sn.Repository, &sn.FilePath, &sn.StartLine, &sn.EndLine,
		&sn.Language, &sn.SymbolType, &sn.SymbolName, &sn.Content, &hash,
		&sn.CreatedAt, &sn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if fileID.Valid {
		sn.FileID = &fileID.Int64
	}
	copy(sn.ContentHash[:], hash)
	return &sn, nil
}

func (s *SQLiteStorage) getSnippetWithQuerier(ctx context.Context, q querier, snippetID int64) (*Snippet, error) {
	query := "SELECT " + snippetColumns + " FROM snippets WHERE id = ?"
	return scanSnippet(q.QueryRowContext(ctx, query, snippetID))
}

func (s *SQLiteStorage) GetSnippet(ctx context.Context, snippetID int64) (*Snippet, error) {
	return s.getSnippetWithQuerier(ctx, s.querier(), snippetID)
}

func (s *SQLiteStorage) getSnippetContentWithQuerier(ctx context.Context, q querier, snippetID int64) (string, error) {
	var content string
	err := q.QueryRowContext(ctx, "SELECT content FROM snippets WHERE id = ?", snippetID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

// GetSnippetContent fetches only the code text. This is the hot path for
// on-demand embedding recomputation during search.
func (s *SQLiteStorage) GetSnippetContent(ctx context.Context, snippetID int64) (string, error) {
	return s.getSnippetContentWithQuerier(ctx, s.querier(), snippetID)
}

func (s *SQLiteStorage) listSnippetsByFileWithQuerier(ctx context.Context, q querier, fileID int64) ([]*Snippet, error) {
	query := "SELECT " + snippetColumns + " FROM snippets WHERE file_id = ? ORDER BY start_line"
	rows, err := q.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snippets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snippets []*Snippet
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, err
		}
		snippets = append(snippets, sn)
	}
	return snippets, rows.Err()
}

func (s *SQLiteStorage) ListSnippetsByFile(ctx context.Context, fileID int64) ([]*Snippet, error) {
	return s.listSnippetsByFileWithQuerier(ctx, s.querier(), fileID)
}

func (s *SQLiteStorage) listSnippetIDsWithQuerier(ctx context.Context, q querier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM snippets ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list snippet ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) ListSnippetIDs(ctx context.Context) ([]int64, error) {
	return s.listSnippetIDsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) deleteSnippetWithQuerier(ctx context.Context, q querier, snippetID int64) error {
	result, err := q.ExecContext(ctx, "DELETE FROM snippets WHERE id = ?", snippetID)
	if err != nil {
		return fmt.Errorf("failed to delete snippet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteSnippet(ctx context.Context, snippetID int64) error {
	return s.deleteSnippetWithQuerier(ctx, s.querier(), snippetID)
}

func (s *SQLiteStorage) deleteSnippetsByFileWithQuerier(ctx context.Context, q querier, fileID int64) ([]int64, error) {
	// The caller removes the returned ids from the vector index.
	rows, err := q.QueryContext(ctx, "SELECT id FROM snippets WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snippets for delete: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if _, err := q.ExecContext(ctx, "DELETE FROM snippets WHERE file_id = ?", fileID); err != nil {
		return nil, fmt.Errorf("failed to delete snippets: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStorage) DeleteSnippetsByFile(ctx context.Context, fileID int64) ([]int64, error) {
	return s.deleteSnippetsByFileWithQuerier(ctx, s.querier(), fileID)
}

func (s *SQLiteStorage) countSnippetsWithQuerier(ctx context.Context, q querier) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM snippets").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snippets: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) CountSnippets(ctx context.Context) (int, error) {
	return s.countSnippetsWithQuerier(ctx, s.querier())
}
