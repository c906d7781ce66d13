// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"encoding/json"
	"fmt"

	"github.com/s3rius/rustus/pkg/types"
)

// Format selects the wire shape of hook payloads.
type Format string

const (
	// FormatDefault nests lowercase "upload" and "request" objects.
	FormatDefault Format = "default"
	// FormatV2 is FormatDefault with a lowercase request "uri" key.
	FormatV2 Format = "v2"
	// FormatTusd mimics tusd's hook payloads so existing consumers can
	// be pointed at rustus unchanged.
	FormatTusd Format = "tusd"
)

// ParseFormat maps a config value onto a Format, defaulting to
// FormatDefault.
func ParseFormat(value string) (Format, error) {
	switch value {
	case "", string(FormatDefault):
		return FormatDefault, nil
	case string(FormatV2):
		return FormatV2, nil
	case string(FormatTusd):
		return FormatTusd, nil
	default:
		return "", fmt.Errorf("unknown hooks format: %s", value)
	}
}

// Snapshot carries a copy of the upload record plus request context
// into every notifier.
type Snapshot struct {
	Upload     *types.FileInfo
	URI        string
	Method     string
	RemoteAddr string
	Headers    map[string][]string
}

func (f Format) headerMap(headers map[string][]string, useArrays bool) map[string]any {
	out := make(map[string]any, len(headers))
	for name, vals := range headers {
		if len(vals) == 0 {
			continue
		}
		if useArrays {
			out[name] = []string{vals[0]}
		} else {
			out[name] = vals[0]
		}
	}
	return out
}

// Marshal renders the snapshot in the selected format.
func (f Format) Marshal(snap *Snapshot) ([]byte, error) {
	switch f {
	case FormatTusd:
		return json.Marshal(map[string]any{
			"Upload": map[string]any{
				"ID":             snap.Upload.ID,
				"Offset":         snap.Upload.Offset,
				"Size":           snap.Upload.Length,
				"CreatedAt":      snap.Upload.CreatedAt,
				"SizeIsDeferred": snap.Upload.DeferredSize,
				"IsPartial":      snap.Upload.IsPartial,
				"IsFinal":        snap.Upload.IsFinal,
				"MetaData":       snap.Upload.Metadata,
				"Parts":          snap.Upload.Parts,
				"Storage": map[string]any{
					"Type": snap.Upload.Storage,
					"Path": snap.Upload.Path,
				},
			},
			"HTTPRequest": map[string]any{
				"URI":        snap.URI,
				"Method":     snap.Method,
				"RemoteAddr": snap.RemoteAddr,
				"Header":     f.headerMap(snap.Headers, true),
			},
		})
	case FormatV2, FormatDefault, "":
		uriKey := "URI"
		if f == FormatV2 {
			uriKey = "uri"
		}
		return json.Marshal(map[string]any{
			"upload": map[string]any{
				"id":            snap.Upload.ID,
				"offset":        snap.Upload.Offset,
				"length":        snap.Upload.Length,
				"path":          snap.Upload.Path,
				"created_at":    snap.Upload.CreatedAt,
				"deferred_size": snap.Upload.DeferredSize,
				"is_partial":    snap.Upload.IsPartial,
				"is_final":      snap.Upload.IsFinal,
				"metadata":      snap.Upload.Metadata,
				"storage":       snap.Upload.Storage,
				"parts":         snap.Upload.Parts,
			},
			"request": map[string]any{
				uriKey:        snap.URI,
				"method":      snap.Method,
				"remote_addr": snap.RemoteAddr,
				"headers":     f.headerMap(snap.Headers, false),
			},
		})
	default:
		return nil, fmt.Errorf("unknown hooks format: %s", f)
	}
}
