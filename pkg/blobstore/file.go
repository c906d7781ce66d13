// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
	"github.com/s3rius/rustus/pkg/utils"
)

func init() {
	Register("file", func(cfg config.StorageConfig) (Storage, error) {
		return NewFile(cfg)
	})
}

// File stores each payload as a plain file under the data root. The
// subdirectory is derived from the configured directory structure
// template at creation time.
type File struct {
	dataDir    string
	dirStruct  string
	forceFsync bool
}

// NewFile creates the local filesystem data storage.
func NewFile(cfg config.StorageConfig) (*File, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir required for the file storage")
	}
	return &File{
		dataDir:    cfg.DataDir,
		dirStruct:  cfg.DirStructure,
		forceFsync: cfg.ForceFsync,
	}, nil
}

func (f *File) Name() string { return "file_storage" }

func (f *File) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// dataFilePath derives the on-disk location for a new blob. Templates
// with unresolved tokens fall back to a flat layout instead of failing
// the write.
func (f *File) dataFilePath(id string, createdAt time.Time) (string, error) {
	sub := utils.ExpandDirStruct(f.dirStruct, createdAt)
	if utils.HasUnresolvedTokens(sub) {
		sub = ""
	}
	dir := filepath.Join(f.dataDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	return filepath.Join(dir, id), nil
}

func pathOf(info *types.FileInfo) (string, error) {
	if info.Path == nil || *info.Path == "" {
		return "", types.ErrFileNotFound
	}
	return *info.Path, nil
}

func (f *File) Create(ctx context.Context, info *types.FileInfo) (string, error) {
	path, err := f.dataFilePath(info.ID, time.Unix(info.CreatedAt, 0))
	if err != nil {
		return "", err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create data file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close data file: %w", err)
	}
	return path, nil
}

func (f *File) Append(ctx context.Context, info *types.FileInfo, offset int64, body io.Reader) (int64, error) {
	path, err := pathOf(info)
	if err != nil {
		return 0, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, types.ErrFileNotFound
		}
		return 0, fmt.Errorf("stat data file: %w", err)
	}
	if stat.Size() != offset {
		return stat.Size(), types.ErrOffsetMismatch
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	buf := utils.GetBuffer(256 << 10)
	defer utils.PutBuffer(buf)

	written, copyErr := io.CopyBuffer(onlyWriter{file}, body, buf)
	if copyErr != nil {
		// Partially written chunks must not become observable.
		if truncErr := file.Truncate(offset); truncErr != nil {
			return offset, fmt.Errorf("truncate after failed append: %v: %w", truncErr, copyErr)
		}
		return offset, fmt.Errorf("append chunk: %w", copyErr)
	}
	if f.forceFsync {
		if err := file.Sync(); err != nil {
			return offset, fmt.Errorf("fsync data file: %w", err)
		}
	}
	return offset + written, nil
}

// onlyWriter hides File.ReadFrom so CopyBuffer always goes through our
// pooled buffer.
type onlyWriter struct{ io.Writer }

func (f *File) Truncate(ctx context.Context, info *types.FileInfo, size int64) error {
	path, err := pathOf(info)
	if err != nil {
		return err
	}
	return os.Truncate(path, size)
}

func (f *File) Read(ctx context.Context, info *types.FileInfo) (io.ReadCloser, error) {
	return f.ReadRange(ctx, info, 0, 0)
}

func (f *File) ReadRange(ctx context.Context, info *types.FileInfo, offset, length int64) (io.ReadCloser, error) {
	path, err := pathOf(info)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrFileNotFound
		}
		return nil, fmt.Errorf("open data file: %w", err)
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek data file: %w", err)
		}
	}
	if length > 0 {
		return &limitedReadCloser{Reader: io.LimitReader(file, length), Closer: file}, nil
	}
	return file, nil
}

func (f *File) Length(ctx context.Context, info *types.FileInfo) (int64, error) {
	path, err := pathOf(info)
	if err != nil {
		return 0, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, types.ErrFileNotFound
		}
		return 0, fmt.Errorf("stat data file: %w", err)
	}
	return stat.Size(), nil
}

func (f *File) Concat(ctx context.Context, info *types.FileInfo, parts []*types.FileInfo) error {
	path, err := pathOf(info)
	if err != nil {
		return err
	}
	tmp := path + ".concat"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create concat target: %w", err)
	}

	buf := utils.GetBuffer(256 << 10)
	defer utils.PutBuffer(buf)

	for _, part := range parts {
		reader, err := f.Read(ctx, part)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("open part %s: %w", part.ID, err)
		}
		_, err = io.CopyBuffer(onlyWriter{out}, reader, buf)
		reader.Close()
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("copy part %s: %w", part.ID, err)
		}
	}
	if f.forceFsync {
		if err := out.Sync(); err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("fsync concat target: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close concat target: %w", err)
	}
	// The rename makes the fully materialized target visible at once.
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish concat target: %w", err)
	}
	return nil
}

func (f *File) Finalize(ctx context.Context, info *types.FileInfo) error {
	return nil
}

func (f *File) Delete(ctx context.Context, info *types.FileInfo) error {
	path, err := pathOf(info)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return types.ErrFileNotFound
		}
		return fmt.Errorf("remove data file: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }

// limitedReadCloser wraps a limited reader with a closer
type limitedReadCloser struct {
	io.Reader
	io.Closer
}
