// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the upload state machine. It owns every
// mutation of upload records and coordinates the info storage, the
// data storage and the hook pipeline.
package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/s3rius/rustus/pkg/blobstore"
	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/hooks"
	"github.com/s3rius/rustus/pkg/infostore"
	"github.com/s3rius/rustus/pkg/logger"
	"github.com/s3rius/rustus/pkg/types"
	"github.com/s3rius/rustus/pkg/utils"
)

// RequestContext captures the HTTP request details forwarded to hook
// notifiers.
type RequestContext struct {
	URI        string
	Method     string
	RemoteAddr string
	Headers    http.Header
}

// Engine orchestrates one protocol operation at a time. It holds no
// per-upload state: everything lives in the info and data storages.
type Engine struct {
	cfg   *config.Config
	info  infostore.Storage
	data  blobstore.Storage
	hooks *hooks.Dispatcher
}

func New(cfg *config.Config, info infostore.Storage, data blobstore.Storage, dispatcher *hooks.Dispatcher) *Engine {
	return &Engine{cfg: cfg, info: info, data: data, hooks: dispatcher}
}

func (e *Engine) snapshot(req *RequestContext, info *types.FileInfo) *hooks.Snapshot {
	remoteAddr := ""
	headers := map[string][]string{}
	uri, method := "", ""
	if req != nil {
		uri = req.URI
		method = req.Method
		headers = req.Headers
		remoteAddr = utils.RemoteIP(req.RemoteAddr, req.Headers, e.cfg.Server.BehindProxy)
	}
	return &hooks.Snapshot{
		Upload:     info.Clone(),
		URI:        uri,
		Method:     method,
		RemoteAddr: remoteAddr,
		Headers:    headers,
	}
}

// dispatchPost fires a post-event without blocking the response. Post
// hook failures are logged by the dispatcher and never propagate.
func (e *Engine) dispatchPost(hook hooks.Hook, req *RequestContext, info *types.FileInfo) {
	if !e.hooks.Active(hook) {
		return
	}
	snap := e.snapshot(req, info)
	go func() {
		if err := e.hooks.Dispatch(context.Background(), hook, snap); err != nil {
			logger.Warn().Err(err).Str("hook", hook.String()).Msg("post hook dispatch failed")
		}
	}()
}

// CreateOptions carries the parsed creation headers.
type CreateOptions struct {
	Length      *int64
	DeferLength bool
	Metadata    map[string]string
	IsPartial   bool
	IsFinal     bool
	Parts       []string

	// Body is the inline creation-with-upload payload, nil when the
	// request carried none.
	Body          io.Reader
	ContentLength int64 // declared body size, -1 when unknown
	Checksum      string
}

// Create allocates a fresh upload. Final uploads are materialized by
// concatenating their parts and complete atomically at creation.
func (e *Engine) Create(ctx context.Context, req *RequestContext, opts CreateOptions) (*types.FileInfo, error) {
	if opts.IsPartial && opts.IsFinal {
		return nil, types.ErrConflictingHeaders
	}

	var parts []*types.FileInfo
	if opts.IsFinal {
		if !e.cfg.ExtensionEnabled(config.ExtConcatenation) {
			return nil, types.ErrUnsupportedExt
		}
		if opts.Length != nil || opts.DeferLength {
			return nil, types.ErrConflictingHeaders
		}
		if len(opts.Parts) == 0 {
			return nil, fmt.Errorf("%w: no parts to concatenate", types.ErrInvalidConcat)
		}
		var total int64
		for _, partID := range opts.Parts {
			part, err := e.info.Get(ctx, partID)
			if err != nil {
				return nil, fmt.Errorf("%w: part %s not found", types.ErrInvalidConcat, partID)
			}
			if !part.IsPartial {
				return nil, fmt.Errorf("%w: upload %s is not partial", types.ErrInvalidConcat, partID)
			}
			if !part.Completed() {
				return nil, fmt.Errorf("%w: part %s is not completed", types.ErrInvalidConcat, partID)
			}
			parts = append(parts, part)
			total += *part.Length
		}
		length := total
		opts.Length = &length
	} else {
		if opts.Length == nil && !opts.DeferLength {
			return nil, types.ErrMissingLength
		}
		if opts.DeferLength && !e.cfg.ExtensionEnabled(config.ExtCreationDeferLength) {
			return nil, types.ErrUnsupportedExt
		}
		if opts.Length != nil && *opts.Length == 0 && !e.cfg.AllowEmpty {
			return nil, types.ErrEmptyUpload
		}
	}
	if e.cfg.MaxFileSize > 0 && opts.Length != nil && *opts.Length > e.cfg.MaxFileSize {
		return nil, types.ErrSizeLimitExceeded
	}
	if opts.Body != nil && !opts.IsFinal && !e.cfg.ExtensionEnabled(config.ExtCreationWithUpload) {
		return nil, types.ErrUnsupportedExt
	}

	info := types.NewFileInfo(uuid.New().String(), opts.Length, e.data.Name(), opts.Metadata)
	info.IsPartial = opts.IsPartial
	info.IsFinal = opts.IsFinal
	if opts.IsFinal {
		info.Parts = append([]string(nil), opts.Parts...)
		info.DeferredSize = false
	}

	// Nothing may be persisted until every blocking pre-hook passed.
	if e.hooks.Active(hooks.PreCreate) {
		if err := e.hooks.Dispatch(ctx, hooks.PreCreate, e.snapshot(req, info)); err != nil {
			return nil, err
		}
	}

	path, err := e.data.Create(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("create upload blob: %w", err)
	}
	info.SetPath(path)

	if opts.IsFinal {
		if err := e.data.Concat(ctx, info, parts); err != nil {
			return nil, fmt.Errorf("concatenate parts: %w", err)
		}
		info.Offset = *info.Length
	}

	if err := e.info.Create(ctx, info); err != nil {
		return nil, fmt.Errorf("persist upload record: %w", err)
	}

	StartedUploads.Inc()
	ActiveUploads.Inc()

	if !opts.IsFinal && opts.Body != nil {
		if info.Length != nil && opts.ContentLength > 0 && opts.ContentLength > *info.Length {
			return nil, types.ErrSizeLimitExceeded
		}
		info, err = e.appendChunk(ctx, info, opts.Body, opts.Checksum)
		if err != nil {
			return nil, err
		}
	}

	if opts.IsFinal && e.cfg.RemoveParts {
		e.removeParts(ctx, parts)
	}

	if info.Completed() {
		e.finishUpload(ctx, req, info)
	} else {
		e.dispatchPost(hooks.PostCreate, req, info)
	}
	return info, nil
}

// removeParts deletes part uploads after a successful concatenation.
// Failures are logged: the final upload is already durable.
func (e *Engine) removeParts(ctx context.Context, parts []*types.FileInfo) {
	for _, part := range parts {
		if err := e.data.Delete(ctx, part); err != nil {
			logger.Warn().Err(err).Str("upload_id", part.ID).Msg("failed to remove part blob")
			continue
		}
		if err := e.info.Delete(ctx, part.ID); err != nil {
			logger.Warn().Err(err).Str("upload_id", part.ID).Msg("failed to remove part record")
		}
	}
}

// finishUpload promotes the blob and fires post-finish exactly once.
// Final uploads are already materialized by Concat and skip promotion.
func (e *Engine) finishUpload(ctx context.Context, req *RequestContext, info *types.FileInfo) {
	if !info.IsFinal {
		if err := e.data.Finalize(ctx, info); err != nil {
			logger.Error().Err(err).Str("upload_id", info.ID).Msg("failed to finalize upload blob")
		}
	}
	FinishedUploads.Inc()
	ActiveUploads.Dec()
	if info.Length != nil {
		UploadSizes.Observe(float64(*info.Length))
	}
	e.dispatchPost(hooks.PostFinish, req, info)
}

// WriteOptions carries the parsed PATCH headers.
type WriteOptions struct {
	Offset        int64
	Body          io.Reader
	ContentLength int64  // declared body size, -1 when unknown
	Checksum      string // raw Upload-Checksum header value, "" when absent
	NewLength     *int64 // Upload-Length supplied on a deferred upload
}

// Write appends one chunk. Either the whole chunk is committed and the
// record's offset advanced, or the stored state is rolled back to the
// previous offset.
func (e *Engine) Write(ctx context.Context, req *RequestContext, id string, opts WriteOptions) (*types.FileInfo, error) {
	info, err := e.info.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Final uploads are never writable.
	if info.IsFinal {
		return nil, types.ErrFrozenFile
	}
	// Records written by another storage backend are invisible here.
	if info.Storage != e.data.Name() {
		return nil, types.ErrFileNotFound
	}
	if info.Offset != opts.Offset {
		return nil, types.ErrOffsetMismatch
	}

	if opts.NewLength != nil {
		if !e.cfg.ExtensionEnabled(config.ExtCreationDeferLength) {
			return nil, types.ErrUnsupportedExt
		}
		if *opts.NewLength < info.Offset {
			return nil, types.ErrOffsetMismatch
		}
		if info.Length != nil {
			return nil, types.ErrSizeAlreadyKnown
		}
		if e.cfg.MaxFileSize > 0 && *opts.NewLength > e.cfg.MaxFileSize {
			return nil, types.ErrSizeLimitExceeded
		}
		info.SetLength(*opts.NewLength)
	}

	if info.Completed() {
		return nil, types.ErrFrozenFile
	}
	if info.Length != nil && opts.ContentLength > 0 && info.Offset+opts.ContentLength > *info.Length {
		return nil, types.ErrSizeLimitExceeded
	}

	info, err = e.appendChunk(ctx, info, opts.Body, opts.Checksum)
	if err != nil {
		return nil, err
	}

	if info.Completed() {
		e.finishUpload(ctx, req, info)
	} else {
		e.dispatchPost(hooks.PostReceive, req, info)
	}
	return info, nil
}

// appendChunk streams the body into the data storage, verifies an
// optional checksum and persists the advanced offset. The record
// passed in is mutated and returned.
func (e *Engine) appendChunk(ctx context.Context, info *types.FileInfo, body io.Reader, checksum string) (*types.FileInfo, error) {
	prevOffset := info.Offset

	reader := body
	var verify func() error
	if checksum != "" {
		if !e.cfg.ExtensionEnabled(config.ExtChecksum) {
			return nil, types.ErrUnsupportedExt
		}
		algo, expected, err := utils.ParseChecksumHeader(checksum)
		if err != nil {
			return nil, err
		}
		hasher, err := utils.NewChecksumHash(algo)
		if err != nil {
			return nil, err
		}
		reader = io.TeeReader(reader, hasher)
		verify = func() error {
			if subtle.ConstantTimeCompare(hasher.Sum(nil), expected) != 1 {
				return types.ErrChecksumMismatch
			}
			return nil
		}
	}

	newOffset, err := e.data.Append(ctx, info, prevOffset, reader)
	if err != nil {
		// Restore the invariant info.offset == blob length before the
		// error surfaces, so the client can resume from a HEAD.
		e.rollback(ctx, info, prevOffset)
		return nil, fmt.Errorf("append chunk: %w", err)
	}

	if verify != nil {
		if err := verify(); err != nil {
			if truncErr := e.data.Truncate(ctx, info, prevOffset); truncErr != nil {
				logger.Error().Err(truncErr).Str("upload_id", info.ID).Msg("failed to discard chunk after checksum mismatch")
			}
			return nil, err
		}
	}

	if info.Length != nil && newOffset > *info.Length {
		if truncErr := e.data.Truncate(ctx, info, prevOffset); truncErr != nil {
			logger.Error().Err(truncErr).Str("upload_id", info.ID).Msg("failed to discard oversized chunk")
		}
		return nil, types.ErrSizeLimitExceeded
	}

	info.Offset = newOffset
	if err := e.info.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("persist upload record: %w", err)
	}
	return info, nil
}

// rollback re-reads the authoritative blob length and records it as
// the upload's offset.
func (e *Engine) rollback(ctx context.Context, info *types.FileInfo, fallback int64) {
	length, err := e.data.Length(ctx, info)
	if err != nil {
		length = fallback
	}
	if length != info.Offset {
		info.Offset = length
		if err := e.info.Update(ctx, info); err != nil {
			logger.Error().Err(err).Str("upload_id", info.ID).Msg("failed to persist rolled back offset")
		}
	}
}

// Head returns the current record. No hooks fire.
func (e *Engine) Head(ctx context.Context, id string) (*types.FileInfo, error) {
	info, err := e.info.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if info.Storage != e.data.Name() {
		return nil, types.ErrFileNotFound
	}
	return info, nil
}

// Read streams stored bytes. A zero length reads to the end. No hooks
// fire.
func (e *Engine) Read(ctx context.Context, id string, offset, length int64) (*types.FileInfo, io.ReadCloser, error) {
	info, err := e.Head(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reader, err := e.data.ReadRange(ctx, info, offset, length)
	if err != nil {
		return nil, nil, err
	}
	return info, reader, nil
}

// Terminate removes the upload: pre-terminate may veto, then the blob
// is deleted before the record so a failed blob deletion keeps the
// upload retryable.
func (e *Engine) Terminate(ctx context.Context, req *RequestContext, id string) error {
	info, err := e.info.Get(ctx, id)
	if err != nil {
		return err
	}

	if e.hooks.Active(hooks.PreTerminate) {
		if err := e.hooks.Dispatch(ctx, hooks.PreTerminate, e.snapshot(req, info)); err != nil {
			return err
		}
	}

	if err := e.data.Delete(ctx, info); err != nil && !errors.Is(err, types.ErrFileNotFound) {
		return fmt.Errorf("delete upload blob: %w", err)
	}
	if err := e.info.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}

	TerminatedUploads.Inc()
	if !info.Completed() {
		ActiveUploads.Dec()
	}
	e.dispatchPost(hooks.PostTerminate, req, info)
	return nil
}
