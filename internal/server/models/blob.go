package models

import "time"

// ContentBlob is one unique byte sequence, shared by every user that uploads
// it. Hash is the lowercase hex SHA-256 of the content and is globally unique.
// The row exists if and only if the bytes exist in object storage; the vault
// service maintains that invariant.
type ContentBlob struct {
	ID          int64
	Hash        string
	Size        int64
	StoragePath string
	// MimeType is inferred from the filename extension at first upload; nil
	// when the extension is unknown.
	MimeType  *string
	CreatedAt time.Time
}
