// This file implements VaultService, the ingest and lifecycle engine: uploads
// with content-addressed deduplication, soft delete with undelete on
// re-upload, and physical reclamation of unreferenced content.
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/dbx"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/blobstore"
	"github.com/dmitrijs2005/filevault/internal/server/models"
	"github.com/dmitrijs2005/filevault/internal/server/repositories/associations"
	"github.com/dmitrijs2005/filevault/internal/server/repositories/repomanager"
)

// StorageStats summarizes a user's holdings: the live count/sum over active
// files next to the maintained counter and quota.
type StorageStats struct {
	TotalFiles   int64   `json:"total_files"`
	TotalSize    int64   `json:"total_size"`
	StorageUsed  int64   `json:"storage_used"`
	StorageQuota int64   `json:"storage_quota"`
	UsagePercent float64 `json:"usage_percent"`
}

// VaultService owns the file lifecycle. Metadata transitions run inside
// database transactions; object bytes live in the blob store and are written
// before the owning transaction commits.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blobstore.Store
	logger      logging.Logger
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, store blobstore.Store, logger logging.Logger) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		store:       store,
		logger:      logger,
	}
}

// mimeFromFilename infers the content type from the filename extension.
// Unknown extensions yield nil.
func mimeFromFilename(filename string) *string {
	mt := mime.TypeByExtension(filepath.Ext(filename))
	if mt == "" {
		return nil
	}
	return &mt
}

// Upload stores the content under the user's chosen filename. Identical bytes
// already known to the system are not stored again; a soft-deleted claim on
// the same (content, filename) pair is restored in place with the new tags.
// An active claim on the same pair is rejected with ErrDuplicateAssociation.
func (s *VaultService) Upload(ctx context.Context, userID int64, filename string, r io.Reader, tags []string) (*models.FileRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading upload: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	rec, err := s.uploadTx(ctx, userID, filename, hash, data, tags)
	if errors.Is(err, common.ErrHashConflict) {
		// lost the first-writer race on the content hash; the row exists
		// now, so a second attempt takes the dedup path
		rec, err = s.uploadTx(ctx, userID, filename, hash, data, tags)
	}
	return rec, err
}

func (s *VaultService) uploadTx(ctx context.Context, userID int64, filename, hash string, data []byte, tags []string) (*models.FileRecord, error) {
	var rec *models.FileRecord
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		blobRepo := s.repomanager.Blobs(tx)
		assocRepo := s.repomanager.Associations(tx)
		userRepo := s.repomanager.Users(tx)

		blob, err := blobRepo.FindByHash(ctx, hash)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		fresh := blob == nil
		if fresh {
			blob, err = blobRepo.Create(ctx, &models.ContentBlob{
				Hash:        hash,
				Size:        int64(len(data)),
				StoragePath: blobstore.ShardedKey(hash),
				MimeType:    mimeFromFilename(filename),
			})
			if err != nil {
				return err
			}
		}

		var assocID int64
		if fresh {
			assoc, err := assocRepo.Create(ctx, &models.FileAssociation{
				UserID:           userID,
				BlobID:           blob.ID,
				OriginalFilename: filename,
				Tags:             tags,
			})
			if err != nil {
				return err
			}
			assocID = assoc.ID
		} else {
			assocID, err = s.claimExisting(ctx, assocRepo, userID, blob.ID, filename, tags)
			if err != nil {
				return err
			}
		}

		if err := userRepo.AdjustStorageUsed(ctx, userID, blob.Size); err != nil {
			return err
		}

		if fresh {
			// object bytes must exist before the metadata commits
			if err := s.store.Put(ctx, blob.StoragePath, bytes.NewReader(data), blob.Size); err != nil {
				return fmt.Errorf("error storing object: %w", err)
			}
		}

		rec, err = assocRepo.GetActiveRecord(ctx, userID, assocID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// claimExisting resolves an upload of already-known content: an active claim
// on the same name is a duplicate, a soft-deleted one is restored with the
// new tags, and otherwise a new claim is created.
func (s *VaultService) claimExisting(ctx context.Context, repo associations.Repository, userID, blobID int64, filename string, tags []string) (int64, error) {
	if _, err := repo.FindActive(ctx, userID, blobID, filename); err == nil {
		return 0, common.ErrDuplicateAssociation
	} else if !errors.Is(err, common.ErrorNotFound) {
		return 0, err
	}

	deleted, err := repo.FindSoftDeleted(ctx, userID, blobID, filename)
	if err == nil {
		if err := repo.Undelete(ctx, deleted.ID, tags); err != nil {
			return 0, err
		}
		return deleted.ID, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return 0, err
	}

	assoc, err := repo.Create(ctx, &models.FileAssociation{
		UserID:           userID,
		BlobID:           blobID,
		OriginalFilename: filename,
		Tags:             tags,
	})
	if err != nil {
		return 0, err
	}
	return assoc.ID, nil
}

// Delete soft-deletes the user's claim and releases its quota, then reclaims
// the content row and object if no active claim remains anywhere.
func (s *VaultService) Delete(ctx context.Context, userID, id int64) error {
	var blobID int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		assocRepo := s.repomanager.Associations(tx)
		assoc, err := assocRepo.GetActiveByID(ctx, userID, id)
		if err != nil {
			return err
		}
		blobID = assoc.BlobID

		blob, err := s.repomanager.Blobs(tx).GetByID(ctx, assoc.BlobID)
		if err != nil {
			return err
		}
		if err := assocRepo.SoftDelete(ctx, assoc.ID); err != nil {
			return err
		}
		return s.repomanager.Users(tx).AdjustStorageUsed(ctx, userID, -blob.Size)
	})
	if err != nil {
		return err
	}

	if err := s.reclaim(ctx, blobID); err != nil {
		return fmt.Errorf("error reclaiming content: %w", err)
	}
	return nil
}

// reclaim deletes the content row and its object once no active claim
// references it. The row is locked so a concurrent upload of the same content
// either finds it intact or retries against its absence. A row already gone
// means another delete finished the job; that is success.
func (s *VaultService) reclaim(ctx context.Context, blobID int64) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		blobRepo := s.repomanager.Blobs(tx)

		blob, err := blobRepo.LockByID(ctx, blobID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil
			}
			return err
		}

		n, err := s.repomanager.Associations(tx).CountActiveForBlob(ctx, blob.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		if err := s.store.Delete(ctx, blob.StoragePath); err != nil {
			// the metadata wins; an orphaned object is harmless and can be
			// swept later
			s.logger.Warn(ctx, "object delete failed", "key", blob.StoragePath, "error", err)
		}
		return blobRepo.Delete(ctx, blob.ID)
	})
}

// Get returns the user's active file record by id.
func (s *VaultService) Get(ctx context.Context, userID, id int64) (*models.FileRecord, error) {
	return s.repomanager.Associations(s.db).GetActiveRecord(ctx, userID, id)
}

// Download opens the content stream for the user's active file.
func (s *VaultService) Download(ctx context.Context, userID, id int64) (io.ReadCloser, *models.FileRecord, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, blobstore.ShardedKey(rec.Hash))
	if err != nil {
		return nil, nil, fmt.Errorf("error opening object: %w", err)
	}
	return rc, rec, nil
}

// List returns the page of active records matching the filter and the total
// match count.
func (s *VaultService) List(ctx context.Context, userID int64, filter associations.ListFilter) ([]*models.FileRecord, int64, error) {
	return s.repomanager.Associations(s.db).ListActive(ctx, userID, filter)
}

// Stats reports the user's live file count and size sum next to the
// maintained usage counter and quota.
func (s *VaultService) Stats(ctx context.Context, userID int64) (*StorageStats, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, total, err := s.repomanager.Associations(s.db).SumActiveSizes(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := &StorageStats{
		TotalFiles:   count,
		TotalSize:    total,
		StorageUsed:  user.StorageUsed,
		StorageQuota: user.StorageQuota,
	}
	if user.StorageQuota > 0 {
		stats.UsagePercent = float64(user.StorageUsed) / float64(user.StorageQuota) * 100
	}
	return stats, nil
}
