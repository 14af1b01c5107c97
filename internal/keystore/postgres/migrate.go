package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	migrations "github.com/dropDatabas3/keytrust/migrations/postgres"
)

const migrationLockWait = 30 * time.Second

type migration struct {
	version string
	sql     string
}

// lockID es determinístico: todas las réplicas compiten por el mismo advisory lock.
func lockID() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("keytrust:migrate:trust_keys"))
	return int64(h.Sum64())
}

// Migrate aplica los *_up.sql embebidos que falten en schema_migrations y
// devuelve cuántos se aplicaron. Corre bajo un advisory lock de sesión.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var applied int
	err := withMigrationLock(ctx, pool, migrationLockWait, func(ctx context.Context) error {
		var e error
		applied, e = runMigrations(ctx, pool, migrations.FS)
		return e
	})
	return applied, err
}

// withMigrationLock toma el lock en una conexión dedicada y lo libera en la misma.
func withMigrationLock(ctx context.Context, pool *pgxpool.Pool, wait time.Duration, fn func(ctx context.Context) error) error {
	id := lockID()
	log := logger.L().With(logger.Component("keystore.postgres"))

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pg: acquire: %w", err)
	}
	defer conn.Release()

	lctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var got bool
	if err := conn.QueryRow(lctx, "select pg_try_advisory_lock($1)", id).Scan(&got); err != nil {
		return fmt.Errorf("pg: try lock: %w", err)
	}
	if !got {
		log.Info("migration lock held, waiting")
		if _, err := conn.Exec(lctx, "select pg_advisory_lock($1)", id); err != nil {
			return fmt.Errorf("pg: lock: %w", err)
		}
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "select pg_advisory_unlock($1)", id); err != nil {
			log.Warn("failed to release migration lock", logger.Err(err))
		}
	}()

	return fn(ctx)
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (int, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("pg: ensure schema_migrations: %w", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return 0, fmt.Errorf("pg: query applied migrations: %w", err)
	}
	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, err
		}
		done[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	pending, err := pendingMigrations(fsys, done)
	if err != nil {
		return 0, err
	}

	for i, m := range pending {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return i, err
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return i, fmt.Errorf("pg: migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			_ = tx.Rollback(ctx)
			return i, fmt.Errorf("pg: record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return i, fmt.Errorf("pg: commit migration %s: %w", m.version, err)
		}
	}
	return len(pending), nil
}

// pendingMigrations lista los *_up.sql de fsys que no están en done, ordenados por nombre.
// La versión es el nombre sin el sufijo _up.sql.
func pendingMigrations(fsys fs.FS, done map[string]bool) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("pg: read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "_up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []migration
	for _, name := range names {
		version := strings.TrimSuffix(name, "_up.sql")
		if done[version] {
			continue
		}
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("pg: read %s: %w", name, err)
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		out = append(out, migration{version: version, sql: string(b)})
	}
	return out, nil
}
