// Package postgres implementa el keystore sobre PostgreSQL usando pgxpool.
// Cada clave es una fila de trust_keys; firmas y bloque de confianza van en jsonb.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

func init() {
	keystore.Register(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "postgres" }

func (adapter) Connect(ctx context.Context, cfg keystore.Config) (keystore.Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	} else {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Store es el keystore PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New envuelve un pool existente. No crea el schema.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// EnsureSchema aplica las migraciones embebidas pendientes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	n, err := Migrate(ctx, s.pool)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.L().Info("keystore migrations applied", logger.Driver("postgres"), logger.Count(n))
	}
	return nil
}

// Pool expone el pool para el collector de métricas.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Name() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	const q = `SELECT public_key, owner_id, expiration, signatures, trust
		FROM trust_keys WHERE org_id = $1 AND key_id = $2`

	var (
		rec      trust.Record
		sigsRaw  []byte
		trustRaw []byte
	)
	err := s.pool.QueryRow(ctx, q, orgID, keyID).Scan(&rec.PublicKey, &rec.OwnerID, &rec.Expiration, &sigsRaw, &trustRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", keystore.ErrNotFound, orgID, keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: fetch %s/%s: %w", orgID, keyID, err)
	}
	if err := json.Unmarshal(sigsRaw, &rec.Signatures); err != nil {
		return nil, fmt.Errorf("pg: decode signatures: %w", err)
	}
	if len(rec.Signatures) == 0 {
		rec.Signatures = nil
	}
	if err := json.Unmarshal(trustRaw, &rec.Trust); err != nil {
		return nil, fmt.Errorf("pg: decode trust: %w", err)
	}
	return &rec, nil
}

func (s *Store) PutKey(ctx context.Context, orgID, keyID string, rec *trust.Record) error {
	if err := keystore.ValidateRecord(orgID, keyID, rec); err != nil {
		return err
	}
	sigs, err := json.Marshal(orZero(rec.Signatures))
	if err != nil {
		return fmt.Errorf("pg: encode signatures: %w", err)
	}
	block, err := json.Marshal(rec.Trust)
	if err != nil {
		return fmt.Errorf("pg: encode trust: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var cur trust.Record
		err := tx.QueryRow(ctx,
			`SELECT public_key, owner_id FROM trust_keys WHERE org_id = $1 AND key_id = $2 FOR UPDATE`,
			orgID, keyID).Scan(&cur.PublicKey, &cur.OwnerID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx, `INSERT INTO trust_keys
				(org_id, key_id, public_key, owner_id, expiration, signatures, trust)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				orgID, keyID, rec.PublicKey, rec.OwnerID, rec.Expiration, sigs, block)
			if err != nil {
				return fmt.Errorf("pg: insert key: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("pg: lock key: %w", err)
		}
		if err := keystore.CheckImmutable(&cur, rec); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE trust_keys SET expiration = $3, updated_at = now() WHERE org_id = $1 AND key_id = $2`,
			orgID, keyID, rec.Expiration)
		if err != nil {
			return fmt.Errorf("pg: update key: %w", err)
		}
		return nil
	})
}

func (s *Store) PutSignature(ctx context.Context, orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error {
	if err := keystore.ValidateSignature(orgID, keyID, signingKeyID, sig); err != nil {
		return err
	}
	entry, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("pg: encode signature: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE trust_keys
		SET signatures = jsonb_set(signatures, ARRAY[$3::text], $4::jsonb, true), updated_at = now()
		WHERE org_id = $1 AND key_id = $2`,
		orgID, keyID, signingKeyID, entry)
	if err != nil {
		return fmt.Errorf("pg: put signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unknown key %s", keystore.ErrRejected, keyID)
	}
	return nil
}

func (s *Store) PutTrust(ctx context.Context, orgID, keyID string, block trust.TrustBlock) error {
	if err := keystore.ValidateTrust(orgID, keyID, block); err != nil {
		return err
	}
	if err := keystore.CheckChains(ctx, s, orgID, block); err != nil {
		return err
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("pg: encode trust: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE trust_keys SET trust = $3, updated_at = now() WHERE org_id = $1 AND key_id = $2`,
		orgID, keyID, raw)
	if err != nil {
		return fmt.Errorf("pg: put trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unknown key %s", keystore.ErrRejected, keyID)
	}
	return nil
}

func orZero(m map[string]trust.SignatureEntry) map[string]trust.SignatureEntry {
	if m == nil {
		return map[string]trust.SignatureEntry{}
	}
	return m
}
