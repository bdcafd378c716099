package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRead(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	path, err := store.Save(context.Background(), "kyc/abc", "Licence.PDF", strings.NewReader("data"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "kyc/abc/"))
	assert.True(t, strings.HasSuffix(path, ".pdf"))

	data, err := store.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestSaveCannotEscapeRoot(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	path, err := store.Save(context.Background(), "../../etc", "x.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "etc/"))

	_, err = store.Read(context.Background(), "../secret")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRemove(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	path, err := store.Save(ctx, "payments/p1", "proof.png", strings.NewReader("png"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, path))
	_, err = store.Read(ctx, path)
	assert.Error(t, err)

	assert.NoError(t, store.Remove(ctx, path))
	assert.ErrorIs(t, store.Remove(ctx, "../outside"), ErrInvalidPath)
}
