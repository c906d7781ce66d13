// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/s3rius/rustus/pkg/types"
)

// ChecksumAlgorithms lists the supported Upload-Checksum algorithms in
// the order they are advertised via Tus-Checksum-Algorithm.
var ChecksumAlgorithms = []string{"md5", "sha1", "sha256", "sha512"}

// NewChecksumHash returns a running hash for the given algorithm.
func NewChecksumHash(algo string) (hash.Hash, error) {
	switch algo {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownChecksumAlg, algo)
	}
}

// ParseChecksumHeader splits an Upload-Checksum header value into its
// algorithm and the expected digest. The header format is
// "<algorithm> <base64 encoded checksum>".
func ParseChecksumHeader(value string) (algo string, sum []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", nil, fmt.Errorf("%w: malformed Upload-Checksum header", types.ErrUnknownChecksumAlg)
	}
	sum, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("%w: checksum is not valid base64", types.ErrUnknownChecksumAlg)
	}
	return parts[0], sum, nil
}
