// Package couchdb implementa el keystore sobre CouchDB usando kivik.
// Cada clave es un documento "orgs:{orgID}:keys:{keyID}".
package couchdb

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // driver "couch"

	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

func init() {
	keystore.Register(adapter{})
}

// maxConflictRetries acota los reintentos ante 409 en read-modify-write.
const maxConflictRetries = 3

type adapter struct{}

func (adapter) Name() string { return "couchdb" }

func (adapter) Connect(ctx context.Context, cfg keystore.Config) (keystore.Store, error) {
	client, err := kivik.New("couch", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("couchdb: connect: %w", err)
	}
	name := cfg.Database
	if name == "" {
		name = "keytrust"
	}

	exists, err := client.DBExists(ctx, name)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("couchdb: check database: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, name); err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
			_ = client.Close()
			return nil, fmt.Errorf("couchdb: create database: %w", err)
		}
	}
	return &Store{client: client, db: client.DB(name)}, nil
}

// Store es el keystore CouchDB.
type Store struct {
	client *kivik.Client
	db     *kivik.DB
}

type keyDoc struct {
	ID    string `json:"_id"`
	Rev   string `json:"_rev,omitempty"`
	Type  string `json:"type"`
	OrgID string `json:"orgID"`
	KeyID string `json:"keyID"`
	trust.Record
}

// DocID devuelve el _id del documento de una clave.
func DocID(orgID, keyID string) string {
	return fmt.Sprintf("orgs:%s:keys:%s", orgID, keyID)
}

func (s *Store) Name() string { return "couchdb" }

func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("couchdb: server not ready")
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) get(ctx context.Context, orgID, keyID string) (*keyDoc, error) {
	var doc keyDoc
	if err := s.db.Get(ctx, DocID(orgID, keyID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s/%s", keystore.ErrNotFound, orgID, keyID)
		}
		return nil, fmt.Errorf("couchdb: get %s/%s: %w", orgID, keyID, err)
	}
	return &doc, nil
}

func (s *Store) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	doc, err := s.get(ctx, orgID, keyID)
	if err != nil {
		return nil, err
	}
	rec := doc.Record
	return &rec, nil
}

// update hace read-modify-write con control de _rev; reintenta en 409.
func (s *Store) update(ctx context.Context, orgID, keyID string, fn func(*trust.Record) error) error {
	for attempt := 0; ; attempt++ {
		doc, err := s.get(ctx, orgID, keyID)
		if err != nil {
			if keystore.IsNotFound(err) {
				return fmt.Errorf("%w: unknown key %s", keystore.ErrRejected, keyID)
			}
			return err
		}
		if err := fn(&doc.Record); err != nil {
			return err
		}
		_, err = s.db.Put(ctx, doc.ID, doc)
		if err == nil {
			return nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict || attempt >= maxConflictRetries {
			return fmt.Errorf("couchdb: put %s: %w", doc.ID, err)
		}
	}
}

func (s *Store) PutKey(ctx context.Context, orgID, keyID string, rec *trust.Record) error {
	if err := keystore.ValidateRecord(orgID, keyID, rec); err != nil {
		return err
	}
	doc := keyDoc{ID: DocID(orgID, keyID), Type: "key", OrgID: orgID, KeyID: keyID, Record: *rec.Clone()}
	_, err := s.db.Put(ctx, doc.ID, doc)
	if err == nil {
		return nil
	}
	if kivik.HTTPStatus(err) != http.StatusConflict {
		return fmt.Errorf("couchdb: put %s: %w", doc.ID, err)
	}
	return s.update(ctx, orgID, keyID, func(cur *trust.Record) error {
		if err := keystore.CheckImmutable(cur, rec); err != nil {
			return err
		}
		cur.Expiration = rec.Expiration
		return nil
	})
}

func (s *Store) PutSignature(ctx context.Context, orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error {
	if err := keystore.ValidateSignature(orgID, keyID, signingKeyID, sig); err != nil {
		return err
	}
	return s.update(ctx, orgID, keyID, func(cur *trust.Record) error {
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
	return s.update(ctx, orgID, keyID, func(cur *trust.Record) error {
		cur.Trust = block.Clone()
		return nil
	})
}
