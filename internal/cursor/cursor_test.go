package cursor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/vlog/internal/cursor"
	"github.com/wuxler/vlog/internal/manifest"
	"github.com/wuxler/vlog/internal/objstore"
	"github.com/wuxler/vlog/pkg/errdefs"
)

func TestCreateLoadAdvance(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	created, err := cursor.Create(ctx, store, "logs/one", cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition})
	require.NoError(t, err)

	loaded, err := cursor.Load(ctx, store, "logs/one", "compactor")
	require.NoError(t, err)
	assert.Equal(t, created.Cursor, loaded.Cursor)

	advanced, err := cursor.Advance(ctx, store, "logs/one", loaded, cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition.Add(50)})
	require.NoError(t, err)
	assert.Equal(t, manifest.FirstPosition.Add(50), advanced.Cursor.Position)
}

func TestAdvanceRejectsStaleETag(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	created, err := cursor.Create(ctx, store, "logs/one", cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition})
	require.NoError(t, err)

	_, err = cursor.Advance(ctx, store, "logs/one", created, cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition.Add(1)})
	require.NoError(t, err)

	_, err = cursor.Advance(ctx, store, "logs/one", created, cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition.Add(2)})
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestAdvanceRejectsBackwardMove(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	created, err := cursor.Create(ctx, store, "logs/one", cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition.Add(10)})
	require.NoError(t, err)

	_, err = cursor.Advance(ctx, store, "logs/one", created, cursor.Cursor{Name: "compactor", Position: manifest.FirstPosition})
	assert.Error(t, err)
}

func TestMinPositionAcrossCursors(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	_, err := cursor.Create(ctx, store, "logs/one", cursor.Cursor{Name: "a", Position: manifest.FirstPosition.Add(50)})
	require.NoError(t, err)
	_, err = cursor.Create(ctx, store, "logs/one", cursor.Cursor{Name: "b", Position: manifest.FirstPosition.Add(20)})
	require.NoError(t, err)

	min, found, err := cursor.MinPosition(ctx, store, "logs/one")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, manifest.FirstPosition.Add(20), min)
}

func TestMinPositionNoCursors(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	_, found, err := cursor.MinPosition(ctx, store, "logs/one")
	require.NoError(t, err)
	assert.False(t, found)
}
