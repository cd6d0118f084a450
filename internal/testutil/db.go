package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Migration names, in apply order.
const (
	MigrationIdentities  = "000001_identities"
	MigrationCredentials = "000002_credentials"
	MigrationAPIKeys     = "000003_api_keys"
	MigrationSyncRuns    = "000004_sync_runs"
)

// dbLockKey serializes integration tests from every package on one database.
const dbLockKey int64 = 0x0c10c4de5c

// AcquireDBLock takes a session advisory lock on a dedicated connection and
// returns the function that releases both.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", dbLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	return func() error {
		defer conn.Release()
		_, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", dbLockKey)
		return err
	}, nil
}

func readMigration(name, direction string) (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	sql, err := os.ReadFile(filepath.Join(root, "migrations", name+"."+direction+".sql"))
	if err != nil {
		return "", fmt.Errorf("read migration: %w", err)
	}
	return string(sql), nil
}

// ResetSchema runs the down then up migration of each name, leaving empty
// tables behind.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool, migrations ...string) error {
	for _, name := range migrations {
		for _, direction := range []string{"down", "up"} {
			sql, err := readMigration(name, direction)
			if err != nil {
				return err
			}
			if _, err := pool.Exec(ctx, sql); err != nil {
				return fmt.Errorf("%s %s: %w", name, direction, err)
			}
		}
	}
	return nil
}

// FlushRedis empties the selected Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}
