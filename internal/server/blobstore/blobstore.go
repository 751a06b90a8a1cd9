// Package blobstore abstracts the object store holding file content. Keys are
// derived from the content hash so identical payloads always land on the same
// object.
package blobstore

import (
	"context"
	"io"
)

// Store reads and writes content objects by key.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ShardedKey maps a 64-hex content hash to an object key with two levels of
// prefix directories, e.g. "ab/cd/abcd....".
func ShardedKey(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return hash[0:2] + "/" + hash[2:4] + "/" + hash
}
