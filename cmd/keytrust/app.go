package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/keytrust/internal/attest"
	"github.com/dropDatabas3/keytrust/internal/cache"
	"github.com/dropDatabas3/keytrust/internal/config"
	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/keystore/cached"
	"github.com/dropDatabas3/keytrust/internal/metrics"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/rate"
	"github.com/dropDatabas3/keytrust/internal/resolver"
	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"

	// Adapters: se registran vía init()
	_ "github.com/dropDatabas3/keytrust/internal/keystore/couchdb"
	_ "github.com/dropDatabas3/keytrust/internal/keystore/fs"
	_ "github.com/dropDatabas3/keytrust/internal/keystore/memory"
	_ "github.com/dropDatabas3/keytrust/internal/keystore/postgres"
)

// app agrupa las dependencias armadas a partir de la config.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	hash  signature.Hash
	store keystore.Store
	raw   keystore.Store
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	hash, err := signature.ParseHash(cfg.Signing.Hash)
	if err != nil {
		return nil, err
	}

	dsn := cfg.Store.Postgres.DSN
	if cfg.Store.Driver == "couchdb" {
		dsn = cfg.Store.CouchDB.URL
	}
	raw, err := keystore.Open(ctx, keystore.Config{
		Driver:   cfg.Store.Driver,
		FSRoot:   cfg.Store.FSRoot,
		DSN:      dsn,
		Database: cfg.Store.CouchDB.Database,
		MaxConns: cfg.Store.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	a := &app{cfg: cfg, log: logger.Named("keytrust"), hash: hash, store: raw, raw: raw}
	if cfg.Cache.Kind != "none" {
		cc, err := cache.New(cache.Config{
			Driver:     cfg.Cache.Kind,
			Addr:       cfg.Cache.Redis.Addr,
			Password:   cfg.Cache.Redis.Password,
			DB:         cfg.Cache.Redis.DB,
			Prefix:     cfg.Cache.Redis.Prefix,
			DefaultTTL: cfg.CacheTTL(),
		})
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.store = cached.New(raw, cc, cfg.CacheTTL())
	}
	a.log.Debug("store ready", logger.Driver(a.store.Name()))
	return a, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) resolver() *resolver.Resolver {
	return resolver.New(a.store, signature.NewVerifier(a.hash), resolver.Options{
		MaxRetries:   a.cfg.Resolver.MaxRetries,
		RetryBackoff: a.cfg.RetryBackoff(),
		MaxDepth:     a.cfg.Resolver.MaxDepth,
		Prefetch:     a.cfg.Resolver.Prefetch,
	})
}

// attester arma un Attester cuyo keyring tiene la clave privada de keyFile
// registrada como signingKeyID.
func (a *app) attester(signingKeyID, keyFile string) (*attest.Attester, *signature.Keyring, error) {
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, err
	}
	kr := signature.NewKeyring(a.hash)
	if err := kr.AddPEM(signingKeyID, pemBytes); err != nil {
		return nil, nil, err
	}
	return attest.New(kr, a.store), kr, nil
}

func (a *app) key(ctx context.Context, orgID, keyID string) (*trust.Key, error) {
	rec, err := a.store.Fetch(ctx, orgID, keyID)
	if err != nil {
		return nil, err
	}
	return trust.FromRecord(orgID, keyID, rec)
}

// collectors devuelve los collectors extra según el driver (pool de postgres).
func (a *app) collectors() []prometheus.Collector {
	if p, ok := a.raw.(interface{ Pool() *pgxpool.Pool }); ok {
		return []prometheus.Collector{metrics.NewPoolCollector(p.Pool)}
	}
	return nil
}

// limiter arma el rate limiter de la API. nil si rate_limit.max es 0.
// El close devuelto libera el cliente Redis, si lo hay.
func (a *app) limiter(ctx context.Context) (rate.Limiter, func() error, error) {
	noop := func() error { return nil }
	limit, window := a.cfg.RateLimit.Max, a.cfg.RateLimitWindow()
	if limit <= 0 {
		return nil, noop, nil
	}
	if a.cfg.Cache.Kind != "redis" {
		return rate.NewMemoryLimiter(limit, window), noop, nil
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Cache.Redis.Addr,
		Password: a.cfg.Cache.Redis.Password,
		DB:       a.cfg.Cache.Redis.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, noop, fmt.Errorf("rate limit: redis ping: %w", err)
	}
	return rate.NewRedisLimiter(rc, a.cfg.Cache.Redis.Prefix+"rl:", limit, window), rc.Close, nil
}

func expiresIn(d time.Duration) time.Time { return time.Now().Add(d) }
