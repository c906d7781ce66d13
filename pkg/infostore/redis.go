// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package infostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

func init() {
	Register("redis", NewRedis)
}

// Redis keeps one key per upload. An optional expiration lets stale
// records age out together with abandoned uploads.
type Redis struct {
	client     *redis.Client
	expiration time.Duration
}

// NewRedis creates the redis info storage from a DSN like
// "redis://localhost:6379/0".
func NewRedis(cfg config.InfoStorageConfig) (Storage, error) {
	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	return &Redis{
		client:     redis.NewClient(opts),
		expiration: cfg.RedisExpiration,
	}, nil
}

func (r *Redis) Name() string { return "redis_info_storage" }

func (r *Redis) Prepare(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *Redis) Create(ctx context.Context, info *types.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal upload record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, info.ID, data, r.expiration).Result()
	if err != nil {
		return fmt.Errorf("set upload record: %w", err)
	}
	if !ok {
		return types.ErrFileAlreadyExists
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, info *types.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal upload record: %w", err)
	}
	if err := r.client.Set(ctx, info.ID, data, r.expiration).Err(); err != nil {
		return fmt.Errorf("set upload record: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*types.FileInfo, error) {
	data, err := r.client.Get(ctx, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.ErrFileNotFound
		}
		return nil, fmt.Errorf("get upload record: %w", err)
	}
	var info types.FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse upload record: %w", err)
	}
	return &info, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	removed, err := r.client.Del(ctx, id).Result()
	if err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}
	if removed == 0 {
		return types.ErrFileNotFound
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
