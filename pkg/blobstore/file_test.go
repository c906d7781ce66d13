package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

func int64Ptr(v int64) *int64 { return &v }

func newFileStore(t *testing.T, dirStruct string) *File {
	t.Helper()
	store, err := NewFile(config.StorageConfig{
		Backend:      "file",
		DataDir:      t.TempDir(),
		DirStructure: dirStruct,
	})
	require.NoError(t, err)
	require.NoError(t, store.Prepare(context.Background()))
	return store
}

func createUpload(t *testing.T, store Storage, id string, length *int64) *types.FileInfo {
	t.Helper()
	info := types.NewFileInfo(id, length, store.Name(), nil)
	path, err := store.Create(context.Background(), info)
	require.NoError(t, err)
	info.SetPath(path)
	return info
}

func TestFile_CreateAppendRead(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(11))

	offset, err := store.Append(ctx, info, 0, strings.NewReader("hello "))
	require.NoError(t, err)
	assert.Equal(t, int64(6), offset)

	offset, err = store.Append(ctx, info, 6, strings.NewReader("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), offset)

	reader, err := store.Read(ctx, info)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFile_Append_OffsetMismatch(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(11))

	_, err := store.Append(ctx, info, 0, strings.NewReader("hello"))
	require.NoError(t, err)

	stored, err := store.Append(ctx, info, 3, strings.NewReader("xxx"))
	assert.True(t, errors.Is(err, types.ErrOffsetMismatch))
	assert.Equal(t, int64(5), stored)

	// The stored payload is untouched.
	length, err := store.Length(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		n := copy(p, r.data)
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestFile_Append_RollsBackPartialChunk(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(100))

	_, err := store.Append(ctx, info, 0, strings.NewReader("stable"))
	require.NoError(t, err)

	offset, err := store.Append(ctx, info, 6, &failingReader{data: "partial"})
	require.Error(t, err)
	assert.Equal(t, int64(6), offset)

	length, err := store.Length(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, int64(6), length)
}

func TestFile_Truncate(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(100))

	_, err := store.Append(ctx, info, 0, strings.NewReader("hello world"))
	require.NoError(t, err)
	require.NoError(t, store.Truncate(ctx, info, 5))

	length, err := store.Length(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)
}

func TestFile_ReadRange(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(16))

	_, err := store.Append(ctx, info, 0, strings.NewReader("0123456789ABCDEF"))
	require.NoError(t, err)

	reader, err := store.ReadRange(ctx, info, 4, 8)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "456789AB", string(data))
}

func TestFile_DirStructure(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store, err := NewFile(config.StorageConfig{
		Backend:      "file",
		DataDir:      tmpDir,
		DirStructure: "{year}/{month}",
	})
	require.NoError(t, err)
	require.NoError(t, store.Prepare(context.Background()))

	info := createUpload(t, store, "abc", int64Ptr(1))
	rel, err := filepath.Rel(tmpDir, *info.Path)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(rel, string(filepath.Separator))))
}

func TestFile_DirStructure_UnresolvedFallsFlat(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store, err := NewFile(config.StorageConfig{
		Backend:      "file",
		DataDir:      tmpDir,
		DirStructure: "{unknown}/{tokens}",
	})
	require.NoError(t, err)
	require.NoError(t, store.Prepare(context.Background()))

	info := createUpload(t, store, "abc", int64Ptr(1))
	assert.Equal(t, filepath.Join(tmpDir, "abc"), *info.Path)
}

func TestFile_Concat(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()

	p1 := createUpload(t, store, "p1", int64Ptr(3))
	_, err := store.Append(ctx, p1, 0, strings.NewReader("foo"))
	require.NoError(t, err)

	p2 := createUpload(t, store, "p2", int64Ptr(3))
	_, err = store.Append(ctx, p2, 0, strings.NewReader("bar"))
	require.NoError(t, err)

	final := createUpload(t, store, "final", nil)
	require.NoError(t, store.Concat(ctx, final, []*types.FileInfo{p1, p2}))

	reader, err := store.Read(ctx, final)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(data))
}

func TestFile_Concat_MissingPartLeavesNoTarget(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()

	p1 := createUpload(t, store, "p1", int64Ptr(3))
	_, err := store.Append(ctx, p1, 0, strings.NewReader("foo"))
	require.NoError(t, err)

	ghost := types.NewFileInfo("ghost", nil, store.Name(), nil)
	ghost.SetPath(filepath.Join(t.TempDir(), "ghost"))

	final := createUpload(t, store, "final", nil)
	err = store.Concat(ctx, final, []*types.FileInfo{p1, ghost})
	require.Error(t, err)

	// The pre-existing empty target is still empty: no partial result.
	length, err := store.Length(ctx, final)
	require.NoError(t, err)
	assert.Zero(t, length)

	_, err = os.Stat(*final.Path + ".concat")
	assert.True(t, os.IsNotExist(err))
}

func TestFile_Delete(t *testing.T) {
	t.Parallel()

	store := newFileStore(t, "")
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(1))

	require.NoError(t, store.Delete(ctx, info))
	err := store.Delete(ctx, info)
	assert.True(t, errors.Is(err, types.ErrFileNotFound))
}

func TestRegistry_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New(config.StorageConfig{Backend: "tape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown data storage backend")
}

func TestMemory_AppendRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()
	info := createUpload(t, store, "abc", int64Ptr(10))

	_, err := store.Append(ctx, info, 0, strings.NewReader("0123456789"))
	require.NoError(t, err)

	_, err = store.Append(ctx, info, 4, strings.NewReader("zzz"))
	assert.True(t, errors.Is(err, types.ErrOffsetMismatch))

	reader, err := store.ReadRange(ctx, info, 2, 3)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))
}
