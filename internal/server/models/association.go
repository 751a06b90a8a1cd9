package models

import "time"

// FileAssociation is one user's claim on one content blob under one display
// name. At most one row exists per (user, blob, filename) regardless of the
// Deleted flag; a soft-deleted row is hidden but kept so a matching re-upload
// can restore it with the same id.
type FileAssociation struct {
	ID               int64
	UserID           int64
	BlobID           int64
	OriginalFilename string
	Tags             []string
	UploadedAt       time.Time
	Deleted          bool
}

// FileRecord is an association joined with its content metadata; it is what
// upload, list and detail return to callers.
type FileRecord struct {
	ID               int64     `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Tags             []string  `json:"tags"`
	UploadedAt       time.Time `json:"uploaded_at"`
	Size             int64     `json:"size"`
	MimeType         *string   `json:"mime_type"`
	Hash             string    `json:"file_hash"`
}
