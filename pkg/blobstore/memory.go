package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

const BackendMemory = "memory"

func init() {
	Register(BackendMemory, func(cfg config.StorageConfig) (Storage, error) {
		return NewMemory(), nil
	})
}

// Memory keeps payloads in process memory. Used by tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Name() string { return "memory_storage" }

func (m *Memory) Prepare(ctx context.Context) error { return nil }

func (m *Memory) Create(ctx context.Context, info *types.FileInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[info.ID]; ok {
		return "", types.ErrFileAlreadyExists
	}
	m.blobs[info.ID] = nil
	return "memory://" + info.ID, nil
}

func (m *Memory) Append(ctx context.Context, info *types.FileInfo, offset int64, body io.Reader) (int64, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return offset, fmt.Errorf("read chunk: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[info.ID]
	if !ok {
		return 0, types.ErrFileNotFound
	}
	if int64(len(blob)) != offset {
		return int64(len(blob)), types.ErrOffsetMismatch
	}
	m.blobs[info.ID] = append(blob, data...)
	return int64(len(blob) + len(data)), nil
}

func (m *Memory) Truncate(ctx context.Context, info *types.FileInfo, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[info.ID]
	if !ok {
		return types.ErrFileNotFound
	}
	if size < int64(len(blob)) {
		m.blobs[info.ID] = blob[:size]
	}
	return nil
}

func (m *Memory) Read(ctx context.Context, info *types.FileInfo) (io.ReadCloser, error) {
	return m.ReadRange(ctx, info, 0, 0)
}

func (m *Memory) ReadRange(ctx context.Context, info *types.FileInfo, offset, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[info.ID]
	if !ok {
		return nil, types.ErrFileNotFound
	}
	if offset > int64(len(blob)) {
		offset = int64(len(blob))
	}
	section := blob[offset:]
	if length > 0 && length < int64(len(section)) {
		section = section[:length]
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), section...))), nil
}

func (m *Memory) Length(ctx context.Context, info *types.FileInfo) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[info.ID]
	if !ok {
		return 0, types.ErrFileNotFound
	}
	return int64(len(blob)), nil
}

func (m *Memory) Concat(ctx context.Context, info *types.FileInfo, parts []*types.FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var joined []byte
	for _, part := range parts {
		blob, ok := m.blobs[part.ID]
		if !ok {
			return types.ErrFileNotFound
		}
		joined = append(joined, blob...)
	}
	m.blobs[info.ID] = joined
	return nil
}

func (m *Memory) Finalize(ctx context.Context, info *types.FileInfo) error { return nil }

func (m *Memory) Delete(ctx context.Context, info *types.FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[info.ID]; !ok {
		return types.ErrFileNotFound
	}
	delete(m.blobs, info.ID)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = make(map[string][]byte)
	return nil
}
