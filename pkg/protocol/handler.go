// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol translates TUS 1.0.0 HTTP requests into engine
// calls and engine results into protocol responses.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/engine"
	"github.com/s3rius/rustus/pkg/logger"
	"github.com/s3rius/rustus/pkg/types"
)

const (
	tusVersion       = "1.0.0"
	offsetOctetStream = "application/offset+octet-stream"
)

// Handler serves the TUS endpoints under the configured base URL. It
// is method-routed internally so it can sit on any mux.
type Handler struct {
	cfg    *config.Config
	engine *engine.Engine
}

func New(cfg *config.Config, eng *engine.Engine) *Handler {
	return &Handler{cfg: cfg, engine: eng}
}

func (h *Handler) requestContext(r *http.Request) *engine.RequestContext {
	return &engine.RequestContext{
		URI:        r.URL.RequestURI(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Headers:    r.Header,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r, h.cfg.Server.CORSOrigins)
	w.Header().Set("Tus-Resumable", tusVersion)

	rest, ok := strings.CutPrefix(r.URL.Path, h.cfg.BaseURL())
	if !ok {
		h.writeError(w, types.ErrFileNotFound)
		return
	}
	id := strings.Trim(rest, "/")

	if r.Method == http.MethodOptions {
		h.serverInfo(w)
		return
	}

	// Browsers fetch downloads without protocol headers.
	if r.Method != http.MethodGet && r.Header.Get("Tus-Resumable") != tusVersion {
		w.Header().Set("Tus-Version", tusVersion)
		h.writeError(w, types.ErrWrongVersion)
		return
	}

	if id == "" {
		if r.Method == http.MethodPost {
			h.create(w, r)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch r.Method {
	case http.MethodHead:
		h.head(w, r, id)
	case http.MethodPatch:
		h.write(w, r, id)
	case http.MethodDelete:
		h.terminate(w, r, id)
	case http.MethodGet:
		h.get(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := types.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

// serverInfo answers OPTIONS with the advertised capabilities.
func (h *Handler) serverInfo(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Tus-Version", tusVersion)
	header.Set("Tus-Extension", h.cfg.ExtensionHeader())
	if h.cfg.MaxFileSize > 0 {
		header.Set("Tus-Max-Size", strconv.FormatInt(h.cfg.MaxFileSize, 10))
	}
	if h.cfg.ExtensionEnabled(config.ExtChecksum) {
		header.Set("Tus-Checksum-Algorithm", "md5,sha1,sha256,sha512")
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIntHeader(r *http.Request, name string) (*int64, error) {
	raw := r.Header.Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return nil, fmt.Errorf("%w: invalid %s header", types.ErrConflictingHeaders, name)
	}
	return &value, nil
}

// location builds the absolute upload URL for Location headers.
func (h *Handler) location(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.cfg.Server.BehindProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, h.cfg.FileURL(id))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.ExtensionEnabled(config.ExtCreation) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	length, err := parseIntHeader(r, "Upload-Length")
	if err != nil {
		h.writeError(w, err)
		return
	}
	concat := ParseConcat(r.Header.Get("Upload-Concat"))
	deferLength := r.Header.Get("Upload-Defer-Length") == "1"
	if deferLength && length != nil {
		h.writeError(w, types.ErrConflictingHeaders)
		return
	}

	opts := engine.CreateOptions{
		Length:        length,
		DeferLength:   deferLength,
		Metadata:      ParseMetadata(r.Header.Get("Upload-Metadata")),
		IsPartial:     concat.IsPartial,
		IsFinal:       concat.IsFinal,
		Parts:         concat.Parts,
		ContentLength: r.ContentLength,
	}

	// An inline body turns the creation into creation-with-upload.
	if r.ContentLength != 0 && !concat.IsFinal {
		if r.Header.Get("Content-Type") != offsetOctetStream {
			h.writeError(w, types.ErrWrongContentType)
			return
		}
		opts.Body = h.requestBody(w, r)
		opts.Checksum = r.Header.Get("Upload-Checksum")
	}

	info, err := h.engine.Create(r.Context(), h.requestContext(r), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}

	header := w.Header()
	header.Set("Location", h.location(r, info.ID))
	header.Set("Upload-Offset", strconv.FormatInt(info.Offset, 10))
	w.WriteHeader(http.StatusCreated)
}

// requestBody bounds the incoming stream by the configured request
// body cap.
func (h *Handler) requestBody(w http.ResponseWriter, r *http.Request) io.Reader {
	if h.cfg.Server.MaxBodySize > 0 {
		return http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodySize)
	}
	return r.Body
}

func (h *Handler) head(w http.ResponseWriter, r *http.Request, id string) {
	info, err := h.engine.Head(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	header := w.Header()
	header.Set("Cache-Control", "no-store")
	header.Set("Upload-Offset", strconv.FormatInt(info.Offset, 10))
	header.Set("Content-Length", strconv.FormatInt(info.Offset, 10))
	if info.Length != nil {
		header.Set("Upload-Length", strconv.FormatInt(*info.Length, 10))
	} else {
		header.Set("Upload-Defer-Length", "1")
	}
	if meta := info.MetadataHeader(); meta != "" {
		header.Set("Upload-Metadata", meta)
	}
	if info.IsPartial {
		header.Set("Upload-Concat", "partial")
	}
	if info.IsFinal {
		urls := make([]string, 0, len(info.Parts))
		for _, partID := range info.Parts {
			urls = append(urls, h.cfg.FileURL(partID))
		}
		header.Set("Upload-Concat", "final;"+strings.Join(urls, " "))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, id string) {
	if r.Header.Get("Content-Type") != offsetOctetStream {
		h.writeError(w, types.ErrWrongContentType)
		return
	}
	offset, err := parseIntHeader(r, "Upload-Offset")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if offset == nil {
		h.writeError(w, types.ErrWrongContentType)
		return
	}
	newLength, err := parseIntHeader(r, "Upload-Length")
	if err != nil {
		h.writeError(w, err)
		return
	}

	info, err := h.engine.Write(r.Context(), h.requestContext(r), id, engine.WriteOptions{
		Offset:        *offset,
		Body:          h.requestBody(w, r),
		ContentLength: r.ContentLength,
		Checksum:      r.Header.Get("Upload-Checksum"),
		NewLength:     newLength,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	header := w.Header()
	header.Set("Cache-Control", "no-cache")
	header.Set("Upload-Offset", strconv.FormatInt(info.Offset, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) terminate(w http.ResponseWriter, r *http.Request, id string) {
	if !h.cfg.ExtensionEnabled(config.ExtTermination) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.engine.Terminate(r.Context(), h.requestContext(r), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseRange understands single "bytes=a-b" ranges; anything else
// falls back to a full read.
func parseRange(header string, size int64) (offset, length int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	if startStr == "" {
		// Suffix range: the last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, true
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	if endStr == "" {
		return start, size - start, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end - start + 1, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, id string) {
	if !h.cfg.ExtensionEnabled(config.ExtGetting) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	info, err := h.engine.Head(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var offset, length int64
	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		if parsedOffset, parsedLength, ok := parseRange(rangeHeader, info.Offset); ok {
			offset, length = parsedOffset, parsedLength
			status = http.StatusPartialContent
		}
	}

	_, reader, err := h.engine.Read(r.Context(), id, offset, length)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer reader.Close()

	disposition, contentType := contentDisposition(info.Filename())
	header := w.Header()
	header.Set("Content-Disposition", disposition)
	header.Set("Content-Type", contentType)
	header.Set("Accept-Ranges", "bytes")
	if status == http.StatusPartialContent {
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, info.Offset))
		header.Set("Content-Length", strconv.FormatInt(length, 10))
	} else {
		header.Set("Content-Length", strconv.FormatInt(info.Offset, 10))
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, reader); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		logger.Debug().Err(err).Str("upload_id", id).Msg("download interrupted")
	}
}
