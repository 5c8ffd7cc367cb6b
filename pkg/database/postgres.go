// Package database owns the engine's PostgreSQL pool and schema
// migrations. The same pool backs the repositories and the analytics
// loader's CopyFrom streams.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the pgx connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config carries the pool settings resolved from the engine config.
// Defaults live in pkg/config, not here.
type Config struct {
	URL          string
	MaxConns     int32
	ConnLifetime time.Duration
	ConnIdleTime time.Duration
}

// Connect opens the pool and verifies the server is reachable before the
// engine starts accepting work.
func Connect(ctx context.Context, cfg *Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.ConnLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
