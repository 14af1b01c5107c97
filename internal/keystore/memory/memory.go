// Package memory implementa un keystore in-process. Útil para tests,
// demos y como store de un solo proceso.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

func init() {
	keystore.Register(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "memory" }

func (adapter) Connect(context.Context, keystore.Config) (keystore.Store, error) {
	return New(), nil
}

// Store guarda registros en memoria. Todo lo que entra y sale se copia.
type Store struct {
	mu     sync.RWMutex
	orgs   map[string]map[string]*trust.Record
	closed bool
}

// New crea un store vacío.
func New() *Store {
	return &Store{orgs: make(map[string]map[string]*trust.Record)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return keystore.ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Put guarda rec tal cual, sin validar. Pensado para sembrar datos.
func (s *Store) Put(orgID, keyID string, rec *trust.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.org(orgID)[keyID] = rec.Clone()
}

// Delete borra una clave.
func (s *Store) Delete(orgID, keyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orgs[orgID], keyID)
}

func (s *Store) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, keystore.ErrClosed
	}
	rec, ok := s.orgs[orgID][keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", keystore.ErrNotFound, orgID, keyID)
	}
	return rec.Clone(), nil
}

func (s *Store) PutKey(ctx context.Context, orgID, keyID string, rec *trust.Record) error {
	if err := keystore.ValidateRecord(orgID, keyID, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrClosed
	}
	keys := s.org(orgID)
	cur, ok := keys[keyID]
	if !ok {
		keys[keyID] = rec.Clone()
		return nil
	}
	if err := keystore.CheckImmutable(cur, rec); err != nil {
		return err
	}
	cur.Expiration = rec.Expiration
	return nil
}

func (s *Store) PutSignature(ctx context.Context, orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error {
	if err := keystore.ValidateSignature(orgID, keyID, signingKeyID, sig); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrClosed
	}
	cur, ok := s.orgs[orgID][keyID]
	if !ok {
		return fmt.Errorf("%w: unknown key %s", keystore.ErrRejected, keyID)
	}
	if cur.Signatures == nil {
		cur.Signatures = make(map[string]trust.SignatureEntry)
	}
	cur.Signatures[signingKeyID] = sig
	return nil
}

func (s *Store) PutTrust(ctx context.Context, orgID, keyID string, block trust.TrustBlock) error {
	if err := keystore.ValidateTrust(orgID, keyID, block); err != nil {
		return err
	}
	if err := keystore.CheckChains(ctx, s, orgID, block); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.ErrClosed
	}
	cur, ok := s.orgs[orgID][keyID]
	if !ok {
		return fmt.Errorf("%w: unknown key %s", keystore.ErrRejected, keyID)
	}
	cur.Trust = block.Clone()
	return nil
}

func (s *Store) org(orgID string) map[string]*trust.Record {
	keys, ok := s.orgs[orgID]
	if !ok {
		keys = make(map[string]*trust.Record)
		s.orgs[orgID] = keys
	}
	return keys
}
