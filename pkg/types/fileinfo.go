// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/base64"
	"sort"
	"strings"
	"time"
)

// FileInfo describes a single upload. It is the unit of state shared
// between the info storage, the data storage and the hook pipeline.
type FileInfo struct {
	ID           string            `json:"id"`
	Offset       int64             `json:"offset"`
	Length       *int64            `json:"length"`
	Path         *string           `json:"path"`
	CreatedAt    int64             `json:"created_at"`
	DeferredSize bool              `json:"deferred_size"`
	IsPartial    bool              `json:"is_partial"`
	IsFinal      bool              `json:"is_final"`
	Parts        []string          `json:"parts,omitempty"`
	Storage      string            `json:"storage"`
	Metadata     map[string]string `json:"metadata"`
}

// NewFileInfo creates a fresh upload record. A nil length marks the
// upload as deferred-size until a concrete length is supplied.
func NewFileInfo(id string, length *int64, storage string, metadata map[string]string) *FileInfo {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &FileInfo{
		ID:           id,
		Offset:       0,
		Length:       length,
		CreatedAt:    time.Now().Unix(),
		DeferredSize: length == nil,
		Storage:      storage,
		Metadata:     metadata,
	}
}

// SetLength resolves a deferred size. Once a length is known it never
// becomes deferred again.
func (f *FileInfo) SetLength(length int64) {
	f.Length = &length
	f.DeferredSize = false
}

// Completed reports whether all declared bytes have been received.
// Uploads with a deferred size are never complete.
func (f *FileInfo) Completed() bool {
	return f.Length != nil && f.Offset == *f.Length
}

// SetPath records the storage-specific locator assigned when the blob is
// created.
func (f *FileInfo) SetPath(path string) {
	f.Path = &path
}

// MetadataHeader builds the Upload-Metadata header value: comma
// separated "key base64(value)" pairs. Returns "" when no metadata is
// attached. Keys are emitted in sorted order so the value is stable.
func (f *FileInfo) MetadataHeader() string {
	if len(f.Metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f.Metadata))
	for key := range f.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		encoded := base64.StdEncoding.EncodeToString([]byte(f.Metadata[key]))
		pairs = append(pairs, strings.TrimRight(key+" "+encoded, " "))
	}
	return strings.Join(pairs, ",")
}

// Filename returns the client supplied file name, falling back to the
// upload id when the metadata carries none.
func (f *FileInfo) Filename() string {
	if name, ok := f.Metadata["filename"]; ok && name != "" {
		return name
	}
	if name, ok := f.Metadata["name"]; ok && name != "" {
		return name
	}
	return f.ID
}

// Clone returns a deep copy. Hook payloads are built from copies so a
// notifier can never observe a record mid-mutation.
func (f *FileInfo) Clone() *FileInfo {
	clone := *f
	if f.Length != nil {
		length := *f.Length
		clone.Length = &length
	}
	if f.Path != nil {
		path := *f.Path
		clone.Path = &path
	}
	if f.Parts != nil {
		clone.Parts = append([]string(nil), f.Parts...)
	}
	clone.Metadata = make(map[string]string, len(f.Metadata))
	for key, val := range f.Metadata {
		clone.Metadata[key] = val
	}
	return &clone
}
