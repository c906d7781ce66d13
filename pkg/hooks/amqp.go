// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/logger"
)

// AMQPNotifier publishes hook events to RabbitMQ. It maintains a
// bounded channel pool with idle eviction on top of a small connection
// pool and optionally declares the exchange and one queue per hook
// kind bound by "{prefix}.{kind}".
//
// AMQP is fire-and-forget: it can never veto an upload.
type AMQPNotifier struct {
	cfg  config.AMQPConfig
	pool *channelPool
}

func NewAMQPNotifier(cfg config.AMQPConfig) *AMQPNotifier {
	if cfg.ExchangeKind == "" {
		cfg.ExchangeKind = "topic"
	}
	if cfg.QueuesPrefix == "" {
		cfg.QueuesPrefix = "rustus"
	}
	return &AMQPNotifier{
		cfg:  cfg,
		pool: newChannelPool(cfg.URL, cfg.ConnectionPool, cfg.ChannelPool, cfg.IdleTimeout),
	}
}

func (a *AMQPNotifier) Name() string   { return "amqp" }
func (a *AMQPNotifier) Blocking() bool { return false }

// routingKey derives the per-hook routing key unless a fixed key is
// configured.
func (a *AMQPNotifier) routingKey(hook Hook) string {
	if a.cfg.RoutingKey != "" {
		return a.cfg.RoutingKey
	}
	return a.cfg.QueuesPrefix + "." + hook.String()
}

// Prepare declares the exchange and queues when configured to do so.
func (a *AMQPNotifier) Prepare(ctx context.Context) error {
	ch, err := a.pool.get(ctx)
	if err != nil {
		return fmt.Errorf("amqp prepare: %w", err)
	}
	defer a.pool.put(ch)

	if a.cfg.DeclareExchange {
		err = ch.channel.ExchangeDeclare(
			a.cfg.Exchange,
			a.cfg.ExchangeKind,
			a.cfg.DurableExchange,
			false, // autoDelete
			false, // internal
			false, // noWait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
	}
	if a.cfg.DeclareQueues {
		for _, hook := range AllHooks {
			queue := a.routingKey(hook)
			if _, err := ch.channel.QueueDeclare(queue, a.cfg.DurableQueues, false, false, false, nil); err != nil {
				return fmt.Errorf("declare queue %s: %w", queue, err)
			}
			if err := ch.channel.QueueBind(queue, queue, a.cfg.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s: %w", queue, err)
			}
		}
	}
	return nil
}

func (a *AMQPNotifier) Send(ctx context.Context, event *Event) error {
	hook := event.Hook
	body := event.Payload
	headers := amqp.Table{}
	if a.cfg.Celery {
		// Celery message protocol v2: id and task name travel as headers
		// and the payload becomes the single positional task argument.
		body = []byte(fmt.Sprintf("[[%s], {}, {}]", event.Payload))
		headers["id"] = uuid.New().String()
		headers["task"] = a.cfg.QueuesPrefix + "." + hook.String()
	}

	ch, err := a.pool.get(ctx)
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	defer a.pool.put(ch)

	err = ch.channel.PublishWithContext(ctx,
		a.cfg.Exchange,
		a.routingKey(hook),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:         headers,
			ContentType:     "application/json",
			ContentEncoding: "utf-8",
			Body:            body,
		})
	if err != nil {
		ch.broken = true
		return fmt.Errorf("amqp publish: %w", err)
	}
	logger.Debug().Str("hook", hook.String()).Str("routing_key", a.routingKey(hook)).Msg("published hook to amqp")
	return nil
}

func (a *AMQPNotifier) Close() error {
	return a.pool.close()
}

// pooledChannel is one AMQP channel plus the bookkeeping the pool
// needs for idle eviction.
type pooledChannel struct {
	channel  *amqp.Channel
	lastUsed time.Time
	broken   bool
}

// channelPool hands out AMQP channels over a lazily opened connection.
// Idle channels beyond the configured lifetime are evicted on the next
// get or put.
type channelPool struct {
	url         string
	maxConns    int
	maxIdle     int
	idleTimeout time.Duration

	mu     sync.Mutex
	conns  []*amqp.Connection
	next   int
	idle   []*pooledChannel
	closed bool
}

func newChannelPool(url string, maxConns, maxIdle int, idleTimeout time.Duration) *channelPool {
	if maxConns <= 0 {
		maxConns = 2
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	return &channelPool{url: url, maxConns: maxConns, maxIdle: maxIdle, idleTimeout: idleTimeout}
}

// connection returns connections round-robin, dialing lazily up to
// maxConns and replacing ones the broker closed.
func (p *channelPool) connection() (*amqp.Connection, error) {
	if len(p.conns) < p.maxConns {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		p.conns = append(p.conns, conn)
		return conn, nil
	}
	for range p.conns {
		conn := p.conns[p.next%len(p.conns)]
		p.next++
		if !conn.IsClosed() {
			return conn, nil
		}
		fresh, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		p.conns[(p.next-1)%len(p.conns)] = fresh
		return fresh, nil
	}
	return nil, fmt.Errorf("no usable amqp connection")
}

func (p *channelPool) get(ctx context.Context) (*pooledChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("amqp channel pool is closed")
	}

	p.evictLocked()
	if n := len(p.idle); n > 0 {
		ch := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return ch, nil
	}

	conn, err := p.connection()
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &pooledChannel{channel: channel}, nil
}

func (p *channelPool) put(ch *pooledChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || ch.broken || ch.channel.IsClosed() || len(p.idle) >= p.maxIdle {
		ch.channel.Close()
		return
	}
	ch.lastUsed = time.Now()
	p.idle = append(p.idle, ch)
	p.evictLocked()
}

func (p *channelPool) evictLocked() {
	cutoff := time.Now().Add(-p.idleTimeout)
	kept := p.idle[:0]
	for _, ch := range p.idle {
		if ch.lastUsed.Before(cutoff) {
			ch.channel.Close()
			continue
		}
		kept = append(kept, ch)
	}
	p.idle = kept
}

func (p *channelPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, ch := range p.idle {
		ch.channel.Close()
	}
	p.idle = nil
	var firstErr error
	for _, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.conns = nil
	return firstErr
}
