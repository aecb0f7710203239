package storage

import (
	"context"
	"database/sql"
)

// sqliteTx routes every Storage method through the open transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) CreateRepository(ctx context.Context, repo *Repository) error {
	return t.storage.createRepositoryWithQuerier(ctx, t.tx, repo)
}

func (t *sqliteTx) GetRepository(ctx context.Context, rootPath string) (*Repository, error) {
	return t.storage.getRepositoryWithQuerier(ctx, t.tx, rootPath)
}

func (t *sqliteTx) UpdateRepository(ctx context.Context, repo *Repository) error {
	return t.storage.updateRepositoryWithQuerier(ctx, t.tx, repo)
}

func (t *sqliteTx) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return t.storage.listRepositoriesWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.tx, file)
}

func (t *sqliteTx) GetFile(ctx context.Context, repositoryID int64, filePath string) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.tx, repositoryID, filePath)
}

func (t *sqliteTx) DeleteFile(ctx context.Context, fileID int64) error {
	return t.storage.deleteFileWithQuerier(ctx, t.tx, fileID)
}

func (t *sqliteTx) ListFiles(ctx context.Context, repositoryID int64) ([]*File, error) {
	return t.storage.listFilesWithQuerier(ctx, t.tx, repositoryID)
}

func (t *sqliteTx) InsertSnippet(ctx context.Context, snippet *Snippet) error {
	return t.storage.insertSnippetWithQuerier(ctx, t.tx, snippet)
}

func (t *sqliteTx) GetSnippet(ctx context.Context, snippetID int64) (*Snippet, error) {
	return t.storage.getSnippetWithQuerier(ctx, t.tx, snippetID)
}

func (t *sqliteTx) GetSnippetContent(ctx context.Context, snippetID int64) (string, error) {
	return t.storage.getSnippetContentWithQuerier(ctx, t.tx, snippetID)
}

func (t *sqliteTx) ListSnippetsByFile(ctx context.Context, fileID int64) ([]*Snippet, error) {
	return t.storage.listSnippetsByFileWithQuerier(ctx, t.tx, fileID)
}

func (t *sqliteTx) ListSnippetIDs(ctx context.Context) ([]int64, error) {
	return t.storage.listSnippetIDsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) DeleteSnippet(ctx context.Context, snippetID int64) error {
	return t.storage.deleteSnippetWithQuerier(ctx, t.tx, snippetID)
}

func (t *sqliteTx) DeleteSnippetsByFile(ctx context.Context, fileID int64) ([]int64, error) {
	return t.storage.deleteSnippetsByFileWithQuerier(ctx, t.tx, fileID)
}

func (t *sqliteTx) CountSnippets(ctx context.Context) (int, error) {
	return t.storage.countSnippetsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) Close() error {
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support nested transactions; reuse the current one.
	return t, nil
}
