// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"net/http"
)

// Event is one serialized lifecycle notification ready for delivery.
type Event struct {
	Hook     Hook
	UploadID string
	Payload  []byte
	// Headers are those of the request that triggered the transition;
	// transports forward a subset.
	Headers http.Header
}

// Notifier delivers hook events over one transport.
type Notifier interface {
	// Name returns the transport identifier (e.g. "http", "amqp").
	Name() string

	// Blocking reports whether a failed delivery may veto a pre-event.
	// Fire-and-forget broker transports must return false.
	Blocking() bool

	// Prepare establishes connections and declares broker topology.
	Prepare(ctx context.Context) error

	// Send delivers one event.
	Send(ctx context.Context, event *Event) error

	// Close releases transport resources.
	Close() error
}
