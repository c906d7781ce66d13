// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package infostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

func init() {
	Register("postgres", NewPostgres)
}

// Postgres stores records in a single table with the upload id as the
// primary key and the JSON record as an opaque payload.
type Postgres struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS rustus (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL
)`

// NewPostgres creates the relational info storage from a pgx DSN.
func NewPostgres(cfg config.InfoStorageConfig) (Storage, error) {
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return "db_info_storage" }

func (p *Postgres) Prepare(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create rustus table: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, info *types.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal upload record: %w", err)
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO rustus (id, data) VALUES ($1, $2)`, info.ID, string(data))
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return types.ErrFileAlreadyExists
		}
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, info *types.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal upload record: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO rustus (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		info.ID, string(data))
	if err != nil {
		return fmt.Errorf("upsert upload record: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*types.FileInfo, error) {
	var data string
	err := p.pool.QueryRow(ctx, `SELECT data FROM rustus WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrFileNotFound
		}
		return nil, fmt.Errorf("select upload record: %w", err)
	}
	var info types.FileInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("parse upload record: %w", err)
	}
	return &info, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rustus WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrFileNotFound
	}
	return nil
}

// ListIDs enumerates every stored upload id.
func (p *Postgres) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM rustus`)
	if err != nil {
		return nil, fmt.Errorf("select upload ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan upload id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
