package blobs

import (
	"context"

	"github.com/dmitrijs2005/filevault/internal/server/models"
)

type Repository interface {
	FindByHash(ctx context.Context, hash string) (*models.ContentBlob, error)
	GetByID(ctx context.Context, id int64) (*models.ContentBlob, error)
	Create(ctx context.Context, blob *models.ContentBlob) (*models.ContentBlob, error)
	LockByID(ctx context.Context, id int64) (*models.ContentBlob, error)
	Delete(ctx context.Context, id int64) error
}
