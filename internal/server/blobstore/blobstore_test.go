package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedKey(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want string
	}{
		{"full hash", "abcdef0123456789", "ab/cd/abcdef0123456789"},
		{"short input passes through", "ab", "ab"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShardedKey(tt.hash))
		})
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Put(ctx, "ab/cd/abcd", strings.NewReader("payload"), 7)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "ab/cd/abcd")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Open(ctx, "ab/cd/abcd")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	require.NoError(t, s.Delete(ctx, "ab/cd/abcd"))
	ok, err = s.Exists(ctx, "ab/cd/abcd")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_OpenMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Open(context.Background(), "missing")
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}

func TestMemoryStore_InjectedErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	s.PutErr = boom
	assert.ErrorIs(t, s.Put(ctx, "k", strings.NewReader("x"), 1), boom)

	s.DeleteErr = boom
	assert.ErrorIs(t, s.Delete(ctx, "k"), boom)
}
