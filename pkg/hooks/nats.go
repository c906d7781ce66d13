// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/logger"
)

// NATSNotifier publishes hook events to a subject that is either fixed
// or derived as "{prefix}.{kind}". In wait-for-replies mode every
// event becomes a request and any reply other than "OK" (or empty)
// rejects it, which makes the notifier blocking.
type NATSNotifier struct {
	cfg  config.NATSConfig
	conn *nats.Conn
}

func NewNATSNotifier(cfg config.NATSConfig) *NATSNotifier {
	return &NATSNotifier{cfg: cfg}
}

func (n *NATSNotifier) Name() string   { return "nats" }
func (n *NATSNotifier) Blocking() bool { return n.cfg.WaitForReplies }

func (n *NATSNotifier) Prepare(ctx context.Context) error {
	opts := []nats.Option{nats.Name("rustus")}
	switch {
	case n.cfg.Username != "" && n.cfg.Password != "":
		opts = append(opts, nats.UserInfo(n.cfg.Username, n.cfg.Password))
	case n.cfg.Username != "" || n.cfg.Password != "":
		return fmt.Errorf("both nats username and password must be provided")
	}
	if n.cfg.Token != "" {
		opts = append(opts, nats.Token(n.cfg.Token))
	}

	conn, err := nats.Connect(strings.Join(n.cfg.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	n.conn = conn
	return nil
}

func (n *NATSNotifier) subject(hook Hook) string {
	if n.cfg.Prefix != "" {
		return n.cfg.Prefix + "." + hook.String()
	}
	if n.cfg.Subject != "" {
		return n.cfg.Subject
	}
	return hook.String()
}

func (n *NATSNotifier) Send(ctx context.Context, event *Event) error {
	subject := n.subject(event.Hook)
	msg := nats.NewMsg(subject)
	msg.Data = event.Payload
	for name, vals := range event.Headers {
		for _, val := range vals {
			msg.Header.Add(name, val)
		}
	}

	logger.Debug().Str("subject", subject).Str("hook", event.Hook.String()).Msg("sending message to nats")

	if n.cfg.WaitForReplies {
		reply, err := n.conn.RequestMsgWithContext(ctx, msg)
		if err != nil {
			return fmt.Errorf("nats request: %w", err)
		}
		if len(reply.Data) > 0 && !bytes.Equal(reply.Data, []byte("OK")) {
			return fmt.Errorf("nats consumer rejected the event: %s", reply.Data)
		}
		return nil
	}

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATSNotifier) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
