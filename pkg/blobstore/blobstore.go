// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore provides storage for upload payloads.
// All backends implement the Storage interface.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

// Storage holds the opaque byte payload of each upload.
//
// Append must reject a write whose offset differs from the stored
// length and must either commit the whole chunk or leave the stored
// length unchanged. Concat must be atomic from the engine's point of
// view.
type Storage interface {
	// Name returns the backend tag stored in every record.
	Name() string

	// Prepare runs startup work such as data directory creation.
	Prepare(ctx context.Context) error

	// Create allocates an empty blob and returns its locator.
	Create(ctx context.Context, info *types.FileInfo) (path string, err error)

	// Append streams a chunk onto the blob at the given offset and
	// returns the new length.
	Append(ctx context.Context, info *types.FileInfo, offset int64, body io.Reader) (int64, error)

	// Truncate discards bytes beyond size. Used to roll a failed or
	// checksum-rejected chunk back to the previous offset.
	Truncate(ctx context.Context, info *types.FileInfo, size int64) error

	// Read returns the full payload.
	Read(ctx context.Context, info *types.FileInfo) (io.ReadCloser, error)

	// ReadRange returns length bytes starting at offset. A length of
	// zero reads to the end.
	ReadRange(ctx context.Context, info *types.FileInfo, offset, length int64) (io.ReadCloser, error)

	// Length returns the authoritative stored size.
	Length(ctx context.Context, info *types.FileInfo) (int64, error)

	// Concat materializes info as the in-order concatenation of parts.
	Concat(ctx context.Context, info *types.FileInfo, parts []*types.FileInfo) error

	// Finalize is invoked once when the upload completes. Backends
	// promoting blobs to remote storage do so here.
	Finalize(ctx context.Context, info *types.FileInfo) error

	// Delete removes the payload.
	Delete(ctx context.Context, info *types.FileInfo) error

	Close() error
}

// Factory creates a Storage from config
type Factory func(cfg config.StorageConfig) (Storage, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory for a data storage backend tag.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New creates a Storage from config.
func New(cfg config.StorageConfig) (Storage, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown data storage backend: %s", cfg.Backend)
	}
	return f(cfg)
}
