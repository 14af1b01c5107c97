// Package fs implementa el keystore sobre archivos YAML:
// {root}/orgs/{orgID}/keys/{keyID}.yaml.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

func init() {
	keystore.Register(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "fs" }

func (adapter) Connect(_ context.Context, cfg keystore.Config) (keystore.Store, error) {
	return Open(cfg.FSRoot)
}

// validID limita los IDs a un único segmento de path.
var validID = regexp.MustCompile(`^[A-Za-z0-9_@:+=-][A-Za-z0-9_@:+=.-]*$`)

// Store guarda cada clave en un archivo YAML. Las escrituras son atómicas
// y se serializan dentro del proceso.
type Store struct {
	root string
	mu   sync.RWMutex
}

// Open abre (y crea si hace falta) el directorio raíz.
func Open(root string) (*Store, error) {
	if root == "" {
		root = "data"
	}
	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("fs: root path error: %w", err)
		}
		if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
			return nil, fmt.Errorf("fs: failed to create root path %s: %w", root, mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("fs: root path is not a directory: %s", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) Name() string { return "fs" }

func (s *Store) Ping(context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func (s *Store) Close() error { return nil }

func (s *Store) path(orgID, keyID string) (string, error) {
	if !validID.MatchString(orgID) || !validID.MatchString(keyID) {
		return "", fmt.Errorf("%w: invalid id %q/%q", keystore.ErrRejected, orgID, keyID)
	}
	return filepath.Join(s.root, "orgs", orgID, "keys", keyID+".yaml"), nil
}

func (s *Store) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(orgID, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", keystore.ErrNotFound, orgID, keyID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return read(p)
}

func read(p string) (*trust.Record, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrNotFound, filepath.Base(p))
		}
		return nil, fmt.Errorf("fs: read %s: %w", p, err)
	}
	var rec trust.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("fs: parse %s: %w", p, err)
	}
	return &rec, nil
}

func write(p string, rec *trust.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("fs: marshal: %w", err)
	}
	return writeFileAtomic(p, data, 0o644)
}

// update lee el registro de (orgID, keyID), aplica fn y lo reescribe.
func (s *Store) update(orgID, keyID string, fn func(cur *trust.Record) error) error {
	p, err := s.path(orgID, keyID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := read(p)
	if err != nil {
		if keystore.IsNotFound(err) {
			return fmt.Errorf("%w: unknown key %s", keystore.ErrRejected, keyID)
		}
		return err
	}
	if err := fn(cur); err != nil {
		return err
	}
	return write(p, cur)
}

func (s *Store) PutKey(ctx context.Context, orgID, keyID string, rec *trust.Record) error {
	if err := keystore.ValidateRecord(orgID, keyID, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(orgID, keyID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := read(p)
	switch {
	case keystore.IsNotFound(err):
		return write(p, rec)
	case err != nil:
		return err
	}
	if err := keystore.CheckImmutable(cur, rec); err != nil {
		return err
	}
	cur.Expiration = rec.Expiration
	return write(p, cur)
}

func (s *Store) PutSignature(ctx context.Context, orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error {
	if err := keystore.ValidateSignature(orgID, keyID, signingKeyID, sig); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(orgID, keyID, func(cur *trust.Record) error {
		if cur.Signatures == nil {
			cur.Signatures = make(map[string]trust.SignatureEntry)
		}
		cur.Signatures[signingKeyID] = sig
		return nil
	})
}

func (s *Store) PutTrust(ctx context.Context, orgID, keyID string, block trust.TrustBlock) error {
	if err := keystore.ValidateTrust(orgID, keyID, block); err != nil {
		return err
	}
	if err := keystore.CheckChains(ctx, s, orgID, block); err != nil {
		return err
	}
	return s.update(orgID, keyID, func(cur *trust.Record) error {
		cur.Trust = block.Clone()
		return nil
	})
}
