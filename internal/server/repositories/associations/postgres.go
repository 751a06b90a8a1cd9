// Package associations provides the PostgreSQL-backed ownership ledger:
// per-user, per-content, per-name rows with a soft-delete flag. Rows are
// never removed on their own; they disappear only when their content row is
// reclaimed and the foreign key cascades.
package associations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/dbx"
	"github.com/dmitrijs2005/filevault/internal/server/models"
)

// PostgresRepository implements the ownership ledger over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("tags marshal error: %w", err)
	}
	return b, nil
}

func unmarshalTags(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = []string{}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("tags unmarshal error: %w", err)
	}
	return nil
}

// Create inserts an active association row. A collision on the
// (user, file, filename) uniqueness anchor yields common.ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, assoc *models.FileAssociation) (*models.FileAssociation, error) {
	tags, err := marshalTags(assoc.Tags)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO user_files (user_id, file_id, original_filename, tags)
		VALUES ($1, $2, $3, $4)
		RETURNING id, uploaded_at
	`
	err = r.db.QueryRowContext(ctx, query, assoc.UserID, assoc.BlobID, assoc.OriginalFilename, tags).
		Scan(&assoc.ID, &assoc.UploadedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "unique_user_file_name") {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	assoc.Deleted = false
	return assoc, nil
}

const assocColumns = `id, user_id, file_id, original_filename, tags, uploaded_at, deleted`

func scanAssoc(row *sql.Row) (*models.FileAssociation, error) {
	assoc := &models.FileAssociation{}
	var tags []byte
	err := row.Scan(&assoc.ID, &assoc.UserID, &assoc.BlobID, &assoc.OriginalFilename,
		&tags, &assoc.UploadedAt, &assoc.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := unmarshalTags(tags, &assoc.Tags); err != nil {
		return nil, err
	}
	return assoc, nil
}

func (r *PostgresRepository) findByTriple(ctx context.Context, userID, blobID int64, filename string, deleted bool) (*models.FileAssociation, error) {
	query := `
		SELECT ` + assocColumns + ` FROM user_files
		WHERE user_id = $1 AND file_id = $2 AND original_filename = $3 AND deleted = $4
	`
	return scanAssoc(r.db.QueryRowContext(ctx, query, userID, blobID, filename, deleted))
}

// FindActive returns the active association for the (user, blob, filename)
// triple, or common.ErrorNotFound.
func (r *PostgresRepository) FindActive(ctx context.Context, userID, blobID int64, filename string) (*models.FileAssociation, error) {
	return r.findByTriple(ctx, userID, blobID, filename, false)
}

// FindSoftDeleted returns the soft-deleted association for the triple, if any.
func (r *PostgresRepository) FindSoftDeleted(ctx context.Context, userID, blobID int64, filename string) (*models.FileAssociation, error) {
	return r.findByTriple(ctx, userID, blobID, filename, true)
}

// Undelete restores a soft-deleted row to active, replacing its tags and
// refreshing uploaded_at.
func (r *PostgresRepository) Undelete(ctx context.Context, id int64, tags []string) error {
	raw, err := marshalTags(tags)
	if err != nil {
		return err
	}
	query := `
		UPDATE user_files SET deleted = FALSE, tags = $2, uploaded_at = now()
		WHERE id = $1 AND deleted = TRUE
	`
	return r.execExpectOne(ctx, query, id, raw)
}

// SoftDelete hides an active row, keeping it for a later undelete.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		UPDATE user_files SET deleted = TRUE
		WHERE id = $1 AND deleted = FALSE
	`
	return r.execExpectOne(ctx, query, id)
}

func (r *PostgresRepository) execExpectOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

// GetActiveByID returns the active association with the given id owned by
// userID. Rows owned by other users and soft-deleted rows read as absent.
func (r *PostgresRepository) GetActiveByID(ctx context.Context, userID, id int64) (*models.FileAssociation, error) {
	query := `
		SELECT ` + assocColumns + ` FROM user_files
		WHERE id = $1 AND user_id = $2 AND deleted = FALSE
	`
	return scanAssoc(r.db.QueryRowContext(ctx, query, id, userID))
}

const recordColumns = `uf.id, uf.original_filename, uf.tags, uf.uploaded_at, f.size, f.mime_type, f.hash`

func scanRecordRow(scan func(...any) error) (*models.FileRecord, error) {
	rec := &models.FileRecord{}
	var tags []byte
	if err := scan(&rec.ID, &rec.OriginalFilename, &tags, &rec.UploadedAt, &rec.Size, &rec.MimeType, &rec.Hash); err != nil {
		return nil, err
	}
	if err := unmarshalTags(tags, &rec.Tags); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetActiveRecord returns the association joined with its content metadata.
func (r *PostgresRepository) GetActiveRecord(ctx context.Context, userID, id int64) (*models.FileRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM user_files uf
		JOIN files f ON f.id = uf.file_id
		WHERE uf.id = $1 AND uf.user_id = $2 AND uf.deleted = FALSE
	`
	rec, err := scanRecordRow(r.db.QueryRowContext(ctx, query, id, userID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// CountActiveForBlob returns the number of active associations, across all
// users, that reference the content blob. The result decides physical
// reclamation and must be read under the same lock as the deciding delete.
func (r *PostgresRepository) CountActiveForBlob(ctx context.Context, blobID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM user_files WHERE file_id = $1 AND deleted = FALSE`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, blobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// ListActive returns the page of active records matching filter plus the
// total match count before pagination.
func (r *PostgresRepository) ListActive(ctx context.Context, userID int64, filter ListFilter) ([]*models.FileRecord, int64, error) {
	where, args, err := buildWhere(userID, filter)
	if err != nil {
		return nil, 0, err
	}

	countQuery := `
		SELECT COUNT(*)
		FROM user_files uf
		JOIN files f ON f.id = uf.file_id
		` + where
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `
		SELECT ` + recordColumns + `
		FROM user_files uf
		JOIN files f ON f.id = uf.file_id
		` + where + orderClause(filter)
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func buildWhere(userID int64, filter ListFilter) (string, []any, error) {
	conds := []string{"uf.user_id = $1", "uf.deleted = FALSE"}
	args := []any{userID}

	next := func() int { return len(args) + 1 }

	if filter.Search != "" {
		n := next()
		conds = append(conds, fmt.Sprintf("(uf.original_filename ILIKE '%%' || $%d || '%%' OR uf.tags::text ILIKE '%%' || $%d || '%%')", n, n))
		args = append(args, filter.Search)
	}
	if filter.Filename != "" {
		conds = append(conds, fmt.Sprintf("uf.original_filename ILIKE '%%' || $%d || '%%'", next()))
		args = append(args, filter.Filename)
	}
	if filter.Tag != "" {
		member, err := json.Marshal([]string{filter.Tag})
		if err != nil {
			return "", nil, fmt.Errorf("tags marshal error: %w", err)
		}
		conds = append(conds, fmt.Sprintf("uf.tags @> $%d::jsonb", next()))
		args = append(args, member)
	}
	if filter.MimeType != "" {
		conds = append(conds, fmt.Sprintf("f.mime_type = $%d", next()))
		args = append(args, filter.MimeType)
	}
	if filter.SizeMin != nil {
		conds = append(conds, fmt.Sprintf("f.size >= $%d", next()))
		args = append(args, *filter.SizeMin)
	}
	if filter.SizeMax != nil {
		conds = append(conds, fmt.Sprintf("f.size <= $%d", next()))
		args = append(args, *filter.SizeMax)
	}
	if filter.UploadedAfter != nil {
		conds = append(conds, fmt.Sprintf("uf.uploaded_at >= $%d", next()))
		args = append(args, *filter.UploadedAfter)
	}
	if filter.UploadedBefore != nil {
		conds = append(conds, fmt.Sprintf("uf.uploaded_at <= $%d", next()))
		args = append(args, *filter.UploadedBefore)
	}

	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(filter ListFilter) string {
	var col string
	switch filter.OrderBy {
	case OrderByFilename:
		col = "uf.original_filename"
	case OrderBySize:
		col = "f.size"
	default:
		col = "uf.uploaded_at"
	}
	dir := "ASC"
	if filter.OrderDesc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, uf.id %s", col, dir, dir)
}

// SumActiveSizes returns the number of active associations for the user and
// the live sum of their content sizes.
func (r *PostgresRepository) SumActiveSizes(ctx context.Context, userID int64) (int64, int64, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(f.size), 0)
		FROM user_files uf
		JOIN files f ON f.id = uf.file_id
		WHERE uf.user_id = $1 AND uf.deleted = FALSE
	`
	var count, total int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count, &total); err != nil {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}
	return count, total, nil
}
