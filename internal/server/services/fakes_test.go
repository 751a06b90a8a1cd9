package services

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/dbx"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/models"
	associationsrepo "github.com/dmitrijs2005/filevault/internal/server/repositories/associations"
	blobsrepo "github.com/dmitrijs2005/filevault/internal/server/repositories/blobs"
	refreshtokensrepo "github.com/dmitrijs2005/filevault/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/filevault/internal/server/repositories/users"

	_ "modernc.org/sqlite"
)

// Stateful in-memory repositories. The services under test drive real
// transactions against an in-memory sqlite database, but all data lives in
// these fakes, which ignore the DBTX they are bound to.

type fakeUsersRepo struct {
	nextID int64
	byID   map[int64]*models.User

	createErr error
	adjustErr error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{nextID: 1, byID: map[int64]*models.User{}}
}

func (f *fakeUsersRepo) add(u *models.User) *models.User {
	u.ID = f.nextID
	f.nextID++
	u.CreatedAt = time.Now()
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if existing.Username == u.Username {
			return nil, common.ErrAlreadyExists
		}
	}
	return f.add(u), nil
}

func (f *fakeUsersRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) AdjustStorageUsed(ctx context.Context, userID, delta int64) error {
	if f.adjustErr != nil {
		return f.adjustErr
	}
	u, ok := f.byID[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.StorageUsed += delta
	return nil
}

type fakeRefreshRepo struct {
	tokens map[string]*models.RefreshToken

	createErr error
	findErr   error
	delErr    error
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID int64, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	if _, ok := f.tokens[token]; !ok {
		return common.ErrorNotFound
	}
	delete(f.tokens, token)
	return nil
}

type fakeBlobsRepo struct {
	nextID int64
	byID   map[int64]*models.ContentBlob

	// raceOnHash simulates losing the first-writer race: the first Create
	// for this hash inserts the row as if another writer committed it, then
	// reports the unique violation.
	raceOnHash string
}

func newFakeBlobsRepo() *fakeBlobsRepo {
	return &fakeBlobsRepo{nextID: 1, byID: map[int64]*models.ContentBlob{}}
}

func (f *fakeBlobsRepo) FindByHash(ctx context.Context, hash string) (*models.ContentBlob, error) {
	for _, b := range f.byID {
		if b.Hash == hash {
			return b, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeBlobsRepo) GetByID(ctx context.Context, id int64) (*models.ContentBlob, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return b, nil
}

func (f *fakeBlobsRepo) insert(blob *models.ContentBlob) *models.ContentBlob {
	blob.ID = f.nextID
	f.nextID++
	blob.CreatedAt = time.Now()
	f.byID[blob.ID] = blob
	return blob
}

func (f *fakeBlobsRepo) Create(ctx context.Context, blob *models.ContentBlob) (*models.ContentBlob, error) {
	if f.raceOnHash == blob.Hash {
		f.raceOnHash = ""
		f.insert(&models.ContentBlob{Hash: blob.Hash, Size: blob.Size, StoragePath: blob.StoragePath, MimeType: blob.MimeType})
		return nil, common.ErrHashConflict
	}
	if b, err := f.FindByHash(ctx, blob.Hash); err == nil && b != nil {
		return nil, common.ErrHashConflict
	}
	return f.insert(blob), nil
}

func (f *fakeBlobsRepo) LockByID(ctx context.Context, id int64) (*models.ContentBlob, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeBlobsRepo) Delete(ctx context.Context, id int64) error {
	delete(f.byID, id)
	return nil
}

type fakeAssocRepo struct {
	nextID int64
	byID   map[int64]*models.FileAssociation
	blobs  *fakeBlobsRepo
}

func newFakeAssocRepo(blobs *fakeBlobsRepo) *fakeAssocRepo {
	return &fakeAssocRepo{nextID: 1, byID: map[int64]*models.FileAssociation{}, blobs: blobs}
}

func (f *fakeAssocRepo) Create(ctx context.Context, a *models.FileAssociation) (*models.FileAssociation, error) {
	for _, e := range f.byID {
		if e.UserID == a.UserID && e.BlobID == a.BlobID && e.OriginalFilename == a.OriginalFilename {
			return nil, common.ErrAlreadyExists
		}
	}
	a.ID = f.nextID
	f.nextID++
	a.UploadedAt = time.Now()
	if a.Tags == nil {
		a.Tags = []string{}
	}
	f.byID[a.ID] = a
	return a, nil
}

func (f *fakeAssocRepo) findTriple(userID, blobID int64, filename string, deleted bool) (*models.FileAssociation, error) {
	for _, a := range f.byID {
		if a.UserID == userID && a.BlobID == blobID && a.OriginalFilename == filename && a.Deleted == deleted {
			return a, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeAssocRepo) FindActive(ctx context.Context, userID, blobID int64, filename string) (*models.FileAssociation, error) {
	return f.findTriple(userID, blobID, filename, false)
}

func (f *fakeAssocRepo) FindSoftDeleted(ctx context.Context, userID, blobID int64, filename string) (*models.FileAssociation, error) {
	return f.findTriple(userID, blobID, filename, true)
}

func (f *fakeAssocRepo) Undelete(ctx context.Context, id int64, tags []string) error {
	a, ok := f.byID[id]
	if !ok || !a.Deleted {
		return common.ErrorNotFound
	}
	a.Deleted = false
	a.Tags = tags
	a.UploadedAt = time.Now()
	return nil
}

func (f *fakeAssocRepo) SoftDelete(ctx context.Context, id int64) error {
	a, ok := f.byID[id]
	if !ok || a.Deleted {
		return common.ErrorNotFound
	}
	a.Deleted = true
	return nil
}

func (f *fakeAssocRepo) GetActiveByID(ctx context.Context, userID, id int64) (*models.FileAssociation, error) {
	a, ok := f.byID[id]
	if !ok || a.Deleted || a.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return a, nil
}

func (f *fakeAssocRepo) record(a *models.FileAssociation) *models.FileRecord {
	b := f.blobs.byID[a.BlobID]
	return &models.FileRecord{
		ID:               a.ID,
		OriginalFilename: a.OriginalFilename,
		Tags:             a.Tags,
		UploadedAt:       a.UploadedAt,
		Size:             b.Size,
		MimeType:         b.MimeType,
		Hash:             b.Hash,
	}
}

func (f *fakeAssocRepo) GetActiveRecord(ctx context.Context, userID, id int64) (*models.FileRecord, error) {
	a, err := f.GetActiveByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return f.record(a), nil
}

func (f *fakeAssocRepo) CountActiveForBlob(ctx context.Context, blobID int64) (int64, error) {
	var n int64
	for _, a := range f.byID {
		if a.BlobID == blobID && !a.Deleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeAssocRepo) ListActive(ctx context.Context, userID int64, filter associationsrepo.ListFilter) ([]*models.FileRecord, int64, error) {
	var recs []*models.FileRecord
	for _, a := range f.byID {
		if a.UserID == userID && !a.Deleted {
			recs = append(recs, f.record(a))
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, int64(len(recs)), nil
}

func (f *fakeAssocRepo) SumActiveSizes(ctx context.Context, userID int64) (int64, int64, error) {
	var count, total int64
	for _, a := range f.byID {
		if a.UserID == userID && !a.Deleted {
			count++
			total += f.blobs.byID[a.BlobID].Size
		}
	}
	return count, total, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
	b *fakeBlobsRepo
	a *fakeAssocRepo
}

func newFakeRepoManager() *fakeRepoManager {
	b := newFakeBlobsRepo()
	return &fakeRepoManager{
		u: newFakeUsersRepo(),
		r: newFakeRefreshRepo(),
		b: b,
		a: newFakeAssocRepo(b),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository      { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository {
	return m.r
}
func (m *fakeRepoManager) Blobs(db dbx.DBTX) blobsrepo.Repository { return m.b }
func (m *fakeRepoManager) Associations(db dbx.DBTX) associationsrepo.Repository {
	return m.a
}

type nopLogger struct{}

func (l nopLogger) Debug(context.Context, string, ...any) {}
func (l nopLogger) Info(context.Context, string, ...any)  {}
func (l nopLogger) Warn(context.Context, string, ...any)  {}
func (l nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger            { return l }
