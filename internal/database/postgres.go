package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// NewPool opens a pgx pool for the snapshot store, retrying while Postgres starts up.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	// Snapshot saves are serialised by the store, so a small pool is enough.
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			log.Printf("[DB] connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
			if !sleep(ctx, connectBackoff) {
				return nil, ctx.Err()
			}
			continue
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			log.Printf("[DB] ping attempt %d/%d failed: %v", attempt, connectAttempts, err)
			if !sleep(ctx, connectBackoff) {
				return nil, ctx.Err()
			}
			continue
		}
		log.Printf("[DB] connected (attempt %d)", attempt)
		return pool, nil
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", connectAttempts, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
