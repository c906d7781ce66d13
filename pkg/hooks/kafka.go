// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/logger"
)

// KafkaNotifier publishes one message per hook event using sarama.
// The upload id is the message key so all events of one upload land on
// the same partition. The topic is either fixed or derived as
// "{prefix}-{kind}".
//
// Kafka is fire-and-forget: it can never veto an upload.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	cfg      config.KafkaConfig
}

func NewKafkaNotifier(cfg config.KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true

	if cfg.ClientID != "" {
		saramaCfg.ClientID = cfg.ClientID
	}

	switch cfg.RequiredAcks {
	case 0:
		saramaCfg.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	default:
		saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	case "none", "":
		saramaCfg.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unknown kafka compression codec: %s", cfg.Compression)
	}

	if cfg.SendTimeout > 0 {
		saramaCfg.Producer.Timeout = cfg.SendTimeout
		saramaCfg.Net.WriteTimeout = cfg.SendTimeout
		saramaCfg.Net.ReadTimeout = cfg.SendTimeout
	}
	if cfg.IdleTimeout > 0 {
		saramaCfg.Metadata.RefreshFrequency = cfg.IdleTimeout
	}

	// Keep per-upload ordering stable across partitions.
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.URLs, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer creation failed: %w", err)
	}

	logger.Info().
		Strs("brokers", cfg.URLs).
		Str("topic", cfg.Topic).
		Str("prefix", cfg.Prefix).
		Msg("kafka hook notifier connected")

	return &KafkaNotifier{producer: producer, cfg: cfg}, nil
}

func (k *KafkaNotifier) Name() string   { return "kafka" }
func (k *KafkaNotifier) Blocking() bool { return false }

func (k *KafkaNotifier) Prepare(ctx context.Context) error { return nil }

func (k *KafkaNotifier) topic(hook Hook) string {
	if k.cfg.Prefix != "" {
		return k.cfg.Prefix + "-" + hook.String()
	}
	if k.cfg.Topic != "" {
		return k.cfg.Topic
	}
	return hook.String()
}

func (k *KafkaNotifier) Send(ctx context.Context, event *Event) error {
	hook := event.Hook
	start := time.Now()

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic(hook),
		Key:   sarama.StringEncoder(event.UploadID),
		Value: sarama.ByteEncoder(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}

	logger.Debug().
		Str("topic", k.topic(hook)).
		Str("key", event.UploadID).
		Int32("partition", partition).
		Int64("offset", offset).
		Dur("took", time.Since(start)).
		Msg("published hook to kafka")
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
