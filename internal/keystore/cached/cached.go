// Package cached envuelve un keystore.Store con un cache.Client.
// Sólo se cachean lecturas exitosas; cada escritura invalida la clave.
package cached

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/keytrust/internal/cache"
	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/metrics"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

// Store es un keystore.Store con cache de lectura.
type Store struct {
	next  keystore.Store
	cache cache.Client
	ttl   time.Duration

	// sf evita descargar la misma clave varias veces en paralelo
	sf singleflight.Group
}

// New envuelve next. ttl 0 usa el TTL por defecto del cliente.
func New(next keystore.Store, c cache.Client, ttl time.Duration) *Store {
	return &Store{next: next, cache: c, ttl: ttl}
}

func cacheKey(orgID, keyID string) string {
	return "keys:" + orgID + ":" + keyID
}

func (s *Store) Name() string { return s.next.Name() + "+cache" }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.next.Ping(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

// Close cierra el store envuelto y el cache.
func (s *Store) Close() error {
	err := s.next.Close()
	if cerr := s.cache.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	k := cacheKey(orgID, keyID)
	if raw, err := s.cache.Get(ctx, k); err == nil {
		var rec trust.Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return &rec, nil
		}
		_ = s.cache.Delete(ctx, k)
	} else if !cache.IsNotFound(err) {
		logger.From(ctx).Warn("key cache get failed", logger.CacheKey(k), logger.Err(err))
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := s.sf.Do(k, func() (any, error) {
		rec, err := s.next.Fetch(ctx, orgID, keyID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(rec); err == nil {
			if err := s.cache.Set(ctx, k, raw, s.ttl); err != nil {
				logger.From(ctx).Warn("key cache set failed", logger.CacheKey(k), logger.Err(err))
			}
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*trust.Record).Clone(), nil
}

func (s *Store) invalidate(ctx context.Context, orgID, keyID string) {
	k := cacheKey(orgID, keyID)
	if err := s.cache.Delete(ctx, k); err != nil {
		logger.From(ctx).Warn("key cache invalidate failed", logger.CacheKey(k), zap.Error(err))
	}
}

func (s *Store) PutKey(ctx context.Context, orgID, keyID string, rec *trust.Record) error {
	defer s.invalidate(ctx, orgID, keyID)
	return s.next.PutKey(ctx, orgID, keyID, rec)
}

func (s *Store) PutSignature(ctx context.Context, orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error {
	defer s.invalidate(ctx, orgID, keyID)
	return s.next.PutSignature(ctx, orgID, keyID, signingKeyID, sig)
}

func (s *Store) PutTrust(ctx context.Context, orgID, keyID string, block trust.TrustBlock) error {
	defer s.invalidate(ctx, orgID, keyID)
	return s.next.PutTrust(ctx, orgID, keyID, block)
}
