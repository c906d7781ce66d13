package infostore

import (
	"context"
	"sync"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

const BackendMemory = "memory"

func init() {
	Register(BackendMemory, func(cfg config.InfoStorageConfig) (Storage, error) {
		return NewMemory(), nil
	})
}

// Memory keeps records in a map. Used by tests and as the simplest
// registry example; records do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*types.FileInfo
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*types.FileInfo)}
}

func (m *Memory) Name() string { return "memory_info_storage" }

func (m *Memory) Prepare(ctx context.Context) error { return nil }

func (m *Memory) Create(ctx context.Context, info *types.FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[info.ID]; ok {
		return types.ErrFileAlreadyExists
	}
	m.records[info.ID] = info.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*types.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.records[id]
	if !ok {
		return nil, types.ErrFileNotFound
	}
	return info.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, info *types.FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[info.ID] = info.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return types.ErrFileNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) ListIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*types.FileInfo)
	return nil
}
