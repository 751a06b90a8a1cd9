package associations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/filevault/internal/server/models"
)

// ListFilter narrows and orders an active-file listing. Zero values mean
// "no constraint". OrderBy must be one of the OrderBy* constants.
type ListFilter struct {
	Search         string
	Filename       string
	Tag            string
	MimeType       string
	SizeMin        *int64
	SizeMax        *int64
	UploadedAfter  *time.Time
	UploadedBefore *time.Time
	OrderBy        string
	OrderDesc      bool
	Limit          int
	Offset         int
}

// Permitted ListFilter.OrderBy values.
const (
	OrderByFilename   = "original_filename"
	OrderBySize       = "size"
	OrderByUploadedAt = "uploaded_at"
)

type Repository interface {
	Create(ctx context.Context, assoc *models.FileAssociation) (*models.FileAssociation, error)
	FindActive(ctx context.Context, userID, blobID int64, filename string) (*models.FileAssociation, error)
	FindSoftDeleted(ctx context.Context, userID, blobID int64, filename string) (*models.FileAssociation, error)
	Undelete(ctx context.Context, id int64, tags []string) error
	SoftDelete(ctx context.Context, id int64) error
	GetActiveByID(ctx context.Context, userID, id int64) (*models.FileAssociation, error)
	GetActiveRecord(ctx context.Context, userID, id int64) (*models.FileRecord, error)
	CountActiveForBlob(ctx context.Context, blobID int64) (int64, error)
	ListActive(ctx context.Context, userID int64, filter ListFilter) ([]*models.FileRecord, int64, error)
	SumActiveSizes(ctx context.Context, userID int64) (count int64, total int64, err error)
}
