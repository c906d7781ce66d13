// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/base64"
	"strings"
)

// ParseMetadata decodes an Upload-Metadata header: a comma separated
// list of "key base64(value)" pairs. A key without a value decodes to
// the empty string. Pairs with undecodable values are dropped.
func ParseMetadata(header string) map[string]string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	meta := make(map[string]string)
	for pair := range strings.SplitSeq(header, ",") {
		fields := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		key := fields[0]
		if key == "" {
			continue
		}
		if len(fields) == 1 || fields[1] == "" {
			meta[key] = ""
			continue
		}
		value, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			continue
		}
		meta[key] = string(value)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// ConcatHeader is the parsed Upload-Concat header.
type ConcatHeader struct {
	IsPartial bool
	IsFinal   bool
	// Parts holds the upload ids extracted from the final header's
	// space separated URL list, in order.
	Parts []string
}

// ParseConcat decodes an Upload-Concat header. Part ids are the last
// path segment of each referenced URL.
func ParseConcat(header string) ConcatHeader {
	header = strings.TrimSpace(header)
	switch {
	case header == "partial":
		return ConcatHeader{IsPartial: true}
	case strings.HasPrefix(header, "final;"):
		parsed := ConcatHeader{IsFinal: true}
		for rawURL := range strings.FieldsSeq(strings.TrimPrefix(header, "final;")) {
			trimmed := strings.TrimRight(rawURL, "/")
			if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
				trimmed = trimmed[idx+1:]
			}
			if trimmed != "" {
				parsed.Parts = append(parsed.Parts, trimmed)
			}
		}
		return parsed
	default:
		return ConcatHeader{}
	}
}
