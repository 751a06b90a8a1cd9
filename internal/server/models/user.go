// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account row. StorageQuota and StorageUsed are byte counters;
// StorageUsed is maintained by the vault service inside the same transaction
// as the file association change it accounts for.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	StorageQuota int64
	StorageUsed  int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
