// Package blobs provides the PostgreSQL-backed content store: one row per
// unique byte sequence, keyed by its SHA-256 hash and shared across users.
package blobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/dbx"
	"github.com/dmitrijs2005/filevault/internal/server/models"
)

// PostgresRepository implements content-blob storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const blobColumns = `id, hash, size, storage_path, mime_type, created_at`

func scanBlob(row *sql.Row) (*models.ContentBlob, error) {
	blob := &models.ContentBlob{}
	err := row.Scan(&blob.ID, &blob.Hash, &blob.Size, &blob.StoragePath, &blob.MimeType, &blob.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return blob, nil
}

// FindByHash returns the blob row for a content hash, or common.ErrorNotFound.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.ContentBlob, error) {
	query := `SELECT ` + blobColumns + ` FROM files WHERE hash = $1`
	return scanBlob(r.db.QueryRowContext(ctx, query, hash))
}

// GetByID returns the blob row by primary key, or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.ContentBlob, error) {
	query := `SELECT ` + blobColumns + ` FROM files WHERE id = $1`
	return scanBlob(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts a new content row. A concurrent first-writer race on the
// hash unique index yields common.ErrHashConflict; the caller is expected to
// retry and land on the dedup path.
func (r *PostgresRepository) Create(ctx context.Context, blob *models.ContentBlob) (*models.ContentBlob, error) {
	query := `
		INSERT INTO files (hash, size, storage_path, mime_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, blob.Hash, blob.Size, blob.StoragePath, blob.MimeType).
		Scan(&blob.ID, &blob.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return nil, common.ErrHashConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return blob, nil
}

// LockByID returns the blob row by primary key while holding a row lock for
// the remainder of the transaction. Used to serialize the refcount re-check
// against concurrent undeletes before physical reclamation.
func (r *PostgresRepository) LockByID(ctx context.Context, id int64) (*models.ContentBlob, error) {
	query := `SELECT ` + blobColumns + ` FROM files WHERE id = $1 FOR UPDATE`
	return scanBlob(r.db.QueryRowContext(ctx, query, id))
}

// Delete removes the content row; association rows referencing it go with it
// via ON DELETE CASCADE. Deleting an already-removed row is a no-op.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM files WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
