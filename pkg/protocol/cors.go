// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Content-Type, Upload-Offset, Upload-Length, Upload-Metadata, Upload-Defer-Length, Upload-Concat, Upload-Checksum, Tus-Resumable, Authorization, Origin, X-Requested-With, X-Request-ID, X-HTTP-Method-Override"
	corsExposeHeaders = "Location, Upload-Offset, Upload-Length, Upload-Metadata, Upload-Defer-Length, Upload-Concat, Tus-Version, Tus-Resumable, Tus-Max-Size, Tus-Extension, Tus-Checksum-Algorithm"
)

// originAllowed matches an Origin header against the configured
// allowlist. A single "*" entry or a "*" wildcard inside an entry is
// honored.
func originAllowed(origin string, allowed []string) bool {
	for _, pattern := range allowed {
		if pattern == "*" || pattern == origin {
			return true
		}
		if prefix, suffix, ok := strings.Cut(pattern, "*"); ok {
			if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}

// applyCORS sets the response CORS headers when the request origin is
// allowed. With no allowlist configured every origin is mirrored.
func applyCORS(w http.ResponseWriter, r *http.Request, allowed []string) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if len(allowed) > 0 && !originAllowed(origin, allowed) {
		return
	}
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "OPTIONS, POST, HEAD, PATCH, DELETE, GET")
	header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	header.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	header.Set("Access-Control-Max-Age", "86400")
	header.Add("Vary", "Origin")
}
