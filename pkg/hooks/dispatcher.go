// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/logger"
	"github.com/s3rius/rustus/pkg/types"
)

// Dispatcher fans lifecycle events out across the configured
// notifiers. Blocking notifiers run concurrently and the event result
// is the conjunction of their results; non-blocking notifiers can only
// ever log failures.
type Dispatcher struct {
	notifiers []Notifier
	format    Format
	enabled   map[Hook]struct{}
}

// NewDispatcher builds the dispatcher from configuration. Notifier
// construction order follows the original priority documentation:
// file, dir, http, then brokers.
func NewDispatcher(cfg config.HooksConfig) (*Dispatcher, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{format: format}

	if len(cfg.Events) > 0 {
		d.enabled = make(map[Hook]struct{}, len(cfg.Events))
		for _, name := range cfg.Events {
			hook, ok := ParseHook(name)
			if !ok {
				return nil, fmt.Errorf("unknown hook event: %s", name)
			}
			d.enabled[hook] = struct{}{}
		}
	}

	if cfg.File != "" {
		logger.Debug().Str("path", cfg.File).Msg("found hooks file")
		d.notifiers = append(d.notifiers, NewFileNotifier(cfg.File, cfg.HTTPTimeout))
	}
	if cfg.Dir != "" {
		logger.Debug().Str("path", cfg.Dir).Msg("found hooks directory")
		d.notifiers = append(d.notifiers, NewDirNotifier(cfg.Dir, cfg.HTTPTimeout))
	}
	if len(cfg.HTTPURLs) > 0 {
		logger.Debug().Strs("urls", cfg.HTTPURLs).Msg("found http hook urls")
		d.notifiers = append(d.notifiers, NewHTTPNotifier(cfg.HTTPURLs, cfg.HTTPHeaders, cfg.HTTPTimeout))
	}
	if cfg.AMQP.URL != "" {
		logger.Debug().Msg("found AMQP notifier")
		d.notifiers = append(d.notifiers, NewAMQPNotifier(cfg.AMQP))
	}
	if len(cfg.Kafka.URLs) > 0 {
		logger.Debug().Strs("urls", cfg.Kafka.URLs).Msg("found kafka notifier")
		kafka, err := NewKafkaNotifier(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		d.notifiers = append(d.notifiers, kafka)
	}
	if len(cfg.NATS.URLs) > 0 {
		logger.Debug().Strs("urls", cfg.NATS.URLs).Msg("found nats notifier")
		d.notifiers = append(d.notifiers, NewNATSNotifier(cfg.NATS))
	}

	return d, nil
}

// NewTestDispatcher wires explicit notifiers; used by tests.
func NewTestDispatcher(format Format, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{format: format, notifiers: notifiers}
}

// Prepare readies every transport. A transport that cannot be prepared
// aborts process start.
func (d *Dispatcher) Prepare(ctx context.Context) error {
	for _, notifier := range d.notifiers {
		if err := notifier.Prepare(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Active reports whether the hook kind is subscribed and at least one
// notifier is configured.
func (d *Dispatcher) Active(hook Hook) bool {
	if len(d.notifiers) == 0 {
		return false
	}
	if d.enabled == nil {
		return true
	}
	_, ok := d.enabled[hook]
	return ok
}

// Dispatch serializes the snapshot once and delivers it to every
// notifier. It returns the first blocking failure; non-blocking
// failures are logged and swallowed. For pre-events the returned error
// carries the transition veto.
func (d *Dispatcher) Dispatch(ctx context.Context, hook Hook, snap *Snapshot) error {
	if !d.Active(hook) {
		return nil
	}
	payload, err := d.format.Marshal(snap)
	if err != nil {
		return err
	}
	event := &Event{
		Hook:     hook,
		UploadID: snap.Upload.ID,
		Payload:  payload,
		Headers:  http.Header(snap.Headers),
	}

	var fireAndForget []Notifier
	group, groupCtx := errgroup.WithContext(ctx)
	for _, notifier := range d.notifiers {
		if !notifier.Blocking() {
			fireAndForget = append(fireAndForget, notifier)
			continue
		}
		group.Go(func() error {
			start := time.Now()
			err := notifier.Send(groupCtx, event)
			HookDuration.WithLabelValues(notifier.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				HookErrors.WithLabelValues(notifier.Name(), hook.String()).Inc()
				logger.Warn().
					Err(err).
					Str("notifier", notifier.Name()).
					Str("hook", hook.String()).
					Msg("blocking hook delivery failed")
				return err
			}
			HooksSent.WithLabelValues(notifier.Name(), hook.String()).Inc()
			return nil
		})
	}

	for _, notifier := range fireAndForget {
		go func() {
			// Broker deliveries outlive the request; they can never
			// cancel the upload.
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := notifier.Send(sendCtx, event); err != nil {
				HookErrors.WithLabelValues(notifier.Name(), hook.String()).Inc()
				logger.Warn().
					Err(err).
					Str("notifier", notifier.Name()).
					Str("hook", hook.String()).
					Msg("hook delivery failed")
				return
			}
			HooksSent.WithLabelValues(notifier.Name(), hook.String()).Inc()
		}()
	}

	if err := group.Wait(); err != nil {
		return &types.HookError{Hook: hook.String(), Reason: err.Error()}
	}
	return nil
}

// Close shuts down every transport.
func (d *Dispatcher) Close() error {
	var firstErr error
	for _, notifier := range d.notifiers {
		if err := notifier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
