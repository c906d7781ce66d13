// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package infostore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

func init() {
	Register("file", NewFile)
}

// File stores one "{id}.info" JSON sidecar per upload.
type File struct {
	infoDir string
}

// NewFile creates the sidecar-file info storage.
func NewFile(cfg config.InfoStorageConfig) (Storage, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("info_dir required for the file info storage")
	}
	return &File{infoDir: cfg.Dir}, nil
}

func (f *File) Name() string { return "file_info_storage" }

func (f *File) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(f.infoDir, 0o755); err != nil {
		return fmt.Errorf("create info dir: %w", err)
	}
	return nil
}

func (f *File) infoPath(id string) string {
	return filepath.Join(f.infoDir, id+".info")
}

func (f *File) write(info *types.FileInfo, flags int) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal upload record: %w", err)
	}
	file, err := os.OpenFile(f.infoPath(info.ID), flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return types.ErrFileAlreadyExists
		}
		return fmt.Errorf("open info file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write info file: %w", err)
	}
	return file.Sync()
}

func (f *File) Create(ctx context.Context, info *types.FileInfo) error {
	return f.write(info, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
}

func (f *File) Update(ctx context.Context, info *types.FileInfo) error {
	return f.write(info, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

func (f *File) Get(ctx context.Context, id string) (*types.FileInfo, error) {
	data, err := os.ReadFile(f.infoPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrFileNotFound
		}
		return nil, fmt.Errorf("read info file: %w", err)
	}
	var info types.FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse info file: %w", err)
	}
	return &info, nil
}

func (f *File) Delete(ctx context.Context, id string) error {
	err := os.Remove(f.infoPath(id))
	if os.IsNotExist(err) {
		return types.ErrFileNotFound
	}
	return err
}

// ListIDs enumerates every stored upload id.
func (f *File) ListIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.infoDir)
	if err != nil {
		return nil, fmt.Errorf("read info dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".info") {
			ids = append(ids, strings.TrimSuffix(name, ".info"))
		}
	}
	return ids, nil
}

func (f *File) Close() error { return nil }
