package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestNewFileInfo_DeferredSize(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", nil, "file", nil)
	assert.True(t, info.DeferredSize)
	assert.Nil(t, info.Length)
	assert.NotNil(t, info.Metadata)

	info = NewFileInfo("abc", int64Ptr(10), "file", nil)
	assert.False(t, info.DeferredSize)
	require.NotNil(t, info.Length)
	assert.Equal(t, int64(10), *info.Length)
}

func TestFileInfo_SetLength(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", nil, "file", nil)
	info.SetLength(42)
	assert.False(t, info.DeferredSize)
	require.NotNil(t, info.Length)
	assert.Equal(t, int64(42), *info.Length)
}

func TestFileInfo_Completed(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", int64Ptr(5), "file", nil)
	assert.False(t, info.Completed())

	info.Offset = 5
	assert.True(t, info.Completed())

	deferred := NewFileInfo("def", nil, "file", nil)
	deferred.Offset = 100
	assert.False(t, deferred.Completed())
}

func TestFileInfo_MetadataHeader(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", nil, "file", map[string]string{
		"filename": "cat.jpg",
		"empty":    "",
	})
	assert.Equal(t, "empty,filename Y2F0LmpwZw==", info.MetadataHeader())

	bare := NewFileInfo("abc", nil, "file", nil)
	assert.Empty(t, bare.MetadataHeader())
}

func TestFileInfo_Filename(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", nil, "file", map[string]string{"filename": "cat.jpg"})
	assert.Equal(t, "cat.jpg", info.Filename())

	info = NewFileInfo("abc", nil, "file", map[string]string{"name": "dog.png"})
	assert.Equal(t, "dog.png", info.Filename())

	info = NewFileInfo("abc", nil, "file", nil)
	assert.Equal(t, "abc", info.Filename())
}

func TestFileInfo_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", int64Ptr(100), "s3_hybrid", map[string]string{"filename": "x"})
	info.Offset = 50
	info.SetPath("/data/abc")
	info.IsPartial = true

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"deferred_size":false`)
	assert.Contains(t, string(data), `"created_at"`)

	var restored FileInfo
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, *info, restored)
}

func TestFileInfo_Clone(t *testing.T) {
	t.Parallel()

	info := NewFileInfo("abc", int64Ptr(100), "file", map[string]string{"a": "b"})
	info.Parts = []string{"p1", "p2"}
	clone := info.Clone()

	clone.Metadata["a"] = "changed"
	clone.Parts[0] = "changed"
	clone.SetLength(7)

	assert.Equal(t, "b", info.Metadata["a"])
	assert.Equal(t, "p1", info.Parts[0])
	assert.Equal(t, int64(100), *info.Length)
}
