package infostore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

func int64Ptr(v int64) *int64 { return &v }

func newFileStore(t *testing.T) Storage {
	t.Helper()
	store, err := NewFile(config.InfoStorageConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Prepare(context.Background()))
	return store
}

func TestFile_CreateGet(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	ctx := context.Background()

	info := types.NewFileInfo("abc", int64Ptr(10), store.Name(), map[string]string{"filename": "x"})
	require.NoError(t, store.Create(ctx, info))

	loaded, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, info, loaded)
}

func TestFile_Create_AlreadyExists(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	ctx := context.Background()

	info := types.NewFileInfo("abc", nil, store.Name(), nil)
	require.NoError(t, store.Create(ctx, info))

	err := store.Create(ctx, info)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFileAlreadyExists))
}

func TestFile_Update(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	ctx := context.Background()

	info := types.NewFileInfo("abc", int64Ptr(10), store.Name(), nil)
	require.NoError(t, store.Create(ctx, info))

	info.Offset = 5
	require.NoError(t, store.Update(ctx, info))

	loaded, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), loaded.Offset)
}

func TestFile_Get_NotFound(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, types.ErrFileNotFound))
}

func TestFile_Delete(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	ctx := context.Background()

	info := types.NewFileInfo("abc", nil, store.Name(), nil)
	require.NoError(t, store.Create(ctx, info))
	require.NoError(t, store.Delete(ctx, "abc"))

	_, err := store.Get(ctx, "abc")
	assert.True(t, errors.Is(err, types.ErrFileNotFound))

	err = store.Delete(ctx, "abc")
	assert.True(t, errors.Is(err, types.ErrFileNotFound))
}

func TestFile_ListIDs(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, types.NewFileInfo(id, nil, store.Name(), nil)))
	}

	lister, ok := store.(Lister)
	require.True(t, ok)
	ids, err := lister.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestRegistry_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New(config.InfoStorageConfig{Backend: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown info storage backend")
}

func TestRegistry_Memory(t *testing.T) {
	t.Parallel()

	store, err := New(config.InfoStorageConfig{Backend: BackendMemory})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()
}
