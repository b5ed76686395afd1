package main

import (
	"context"
	"log"
	"time"

	"vatpilot/internal/config"
	"vatpilot/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID serialises concurrent migrators on the same database.
const migrationLockID = 7462839

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[CONFIG] %v", err)
	}

	ctx := context.Background()
	pool := connectDB(ctx, cfg.DatabaseURL)
	defer pool.Close()

	conn := acquireLock(ctx, pool)
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
		conn.Release()
	}()

	before, err := db.MigrationVersion(ctx, pool)
	if err != nil {
		log.Printf("[VERSION] no version recorded yet: %v", err)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("[APPLY] %v", err)
	}

	after, err := db.MigrationVersion(ctx, pool)
	if err != nil {
		log.Fatalf("[VERSION] %v", err)
	}
	if after == before {
		log.Printf("[SKIP] schema already at version %d", after)
	} else {
		log.Printf("[APPLY] schema migrated from version %d to %d", before, after)
	}

	log.Println("[DONE] All migrations processed.")
}

func connectDB(ctx context.Context, url string) *pgxpool.Pool {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := db.NewPool(connCtx, url)
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}

	log.Println("[CONNECT] success")
	return pool
}

func acquireLock(ctx context.Context, pool *pgxpool.Pool) *pgxpool.Conn {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		log.Fatalf("[LOCK] failed to acquire connection for lock: %v", err)
	}

	var locked bool
	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migrationLockID).Scan(&locked)
	if err != nil {
		log.Fatalf("[LOCK] failed to query advisory lock: %v", err)
	}

	if !locked {
		log.Fatalf("[LOCK] failed: another migrator is currently running")
	}

	log.Println("[LOCK] success")
	return conn
}
