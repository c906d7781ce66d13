// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/s3rius/rustus/pkg/logger"
)

const defaultHTTPTimeout = 2 * time.Second

// HTTPNotifier POSTs the serialized payload to each configured URL.
// The hook kind travels in the Hook-Name header and an allowlist of
// incoming request headers is forwarded. Any non-2xx response rejects
// the event.
type HTTPNotifier struct {
	urls           []string
	forwardHeaders []string
	client         *http.Client
	timeout        time.Duration
}

func NewHTTPNotifier(urls, forwardHeaders []string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPNotifier{
		urls:           urls,
		forwardHeaders: forwardHeaders,
		client:         &http.Client{},
		timeout:        timeout,
	}
}

func (h *HTTPNotifier) Name() string   { return "http" }
func (h *HTTPNotifier) Blocking() bool { return true }

func (h *HTTPNotifier) Prepare(ctx context.Context) error { return nil }

func (h *HTTPNotifier) Send(ctx context.Context, event *Event) error {
	idempotencyKey := uuid.New().String()
	for _, url := range h.urls {
		logger.Debug().Str("url", url).Str("hook", event.Hook.String()).Msg("sending http hook")

		reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(event.Payload))
		if err != nil {
			cancel()
			return fmt.Errorf("build hook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Hook-Name", event.Hook.String())
		req.Header.Set("Idempotency-Key", idempotencyKey)
		for _, name := range h.forwardHeaders {
			if value := event.Headers.Get(name); value != "" {
				req.Header.Set(name, value)
			}
		}

		resp, err := h.client.Do(req)
		if err != nil {
			cancel()
			return fmt.Errorf("hook request to %s: %w", url, err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		resp.Body.Close()
		cancel()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Warn().
				Str("hook", event.Hook.String()).
				Int("status", resp.StatusCode).
				Str("body", string(body)).
				Msg("got wrong response for hook")
			return fmt.Errorf("hook endpoint %s returned %d: %s", url, resp.StatusCode, string(body))
		}
	}
	return nil
}

func (h *HTTPNotifier) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
