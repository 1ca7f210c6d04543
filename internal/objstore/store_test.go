package objstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/pkg/errdefs"
)

func backends(t *testing.T) map[string]objstore.Store {
	t.Helper()
	return map[string]objstore.Store{
		"memory":     objstore.NewMemory(),
		"filesystem": objstore.NewFilesystem(afero.NewMemMapFs(), "/log-root"),
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "MANIFEST")
			assert.ErrorIs(t, err, errdefs.ErrNotFound)
		})
	}
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			etag, err := store.PutIfAbsent(ctx, "MANIFEST", []byte("v1"))
			require.NoError(t, err)
			assert.NotEmpty(t, etag)

			_, err = store.PutIfAbsent(ctx, "MANIFEST", []byte("v2"))
			assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)

			obj, err := store.Get(ctx, "MANIFEST")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), obj.Data)
			assert.Equal(t, etag, obj.ETag)
		})
	}
}

func TestPutIfMatchCAS(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			etag1, err := store.PutIfMatch(ctx, "MANIFEST", []byte("v1"), "")
			require.NoError(t, err)

			_, err = store.PutIfMatch(ctx, "MANIFEST", []byte("v2"), "stale-etag")
			assert.ErrorIs(t, err, errdefs.ErrConflict)

			etag2, err := store.PutIfMatch(ctx, "MANIFEST", []byte("v2"), etag1)
			require.NoError(t, err)
			assert.NotEqual(t, etag1, etag2)

			obj, err := store.Get(ctx, "MANIFEST")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), obj.Data)
		})
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.PutIfAbsent(ctx, "log/0000000001.fragment", []byte("a"))
			require.NoError(t, err)
			_, err = store.PutIfAbsent(ctx, "log/0000000002.fragment", []byte("b"))
			require.NoError(t, err)
			_, err = store.PutIfAbsent(ctx, "cursor/compactor", []byte("c"))
			require.NoError(t, err)

			keys, err := store.List(ctx, "log/")
			require.NoError(t, err)
			assert.Equal(t, []string{"log/0000000001.fragment", "log/0000000002.fragment"}, keys)
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.PutIfAbsent(ctx, "gc/GARBAGE", []byte("x"))
			require.NoError(t, err)

			require.NoError(t, store.Delete(ctx, "gc/GARBAGE"))
			require.NoError(t, store.Delete(ctx, "gc/GARBAGE"))

			_, err = store.Get(ctx, "gc/GARBAGE")
			assert.True(t, errors.Is(err, errdefs.ErrNotFound))
		})
	}
}
