// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

// Package infostore provides durable storage for upload records.
// All backends implement the Storage interface.
package infostore

import (
	"context"
	"fmt"
	"sync"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

// Storage is the durable mapping from upload id to upload record.
//
// Get must return the most recently committed record, Create must fail
// when the id already exists and Update is a full replace.
type Storage interface {
	// Name returns the backend tag stored in every record.
	Name() string

	// Prepare runs startup work such as directory or schema creation.
	Prepare(ctx context.Context) error

	// Create persists a fresh record. Fails with
	// types.ErrFileAlreadyExists when the id is taken.
	Create(ctx context.Context, info *types.FileInfo) error

	// Get loads a record or fails with types.ErrFileNotFound.
	Get(ctx context.Context, id string) (*types.FileInfo, error)

	// Update replaces an existing record.
	Update(ctx context.Context, info *types.FileInfo) error

	// Delete removes a record or fails with types.ErrFileNotFound.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Lister is implemented by backends that can enumerate stored uploads.
// It is only used by administrative tooling.
type Lister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Factory creates a Storage from config
type Factory func(cfg config.InfoStorageConfig) (Storage, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory for an info storage backend tag.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New creates a Storage from config.
func New(cfg config.InfoStorageConfig) (Storage, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown info storage backend: %s", cfg.Backend)
	}
	return f(cfg)
}
