// Package attest produce y persiste atestaciones: firmas sobre claves y
// bloques de confianza firmados.
package attest

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

// Attester firma con el keyring local y escribe en el keystore.
type Attester struct {
	signer signature.Signer
	store  keystore.Writer
	now    func() time.Time
}

// Option configura un Attester.
type Option func(*Attester)

// WithClock reemplaza time.Now para los timestamps de firma.
func WithClock(now func() time.Time) Option {
	return func(a *Attester) { a.now = now }
}

// New crea un Attester.
func New(signer signature.Signer, store keystore.Writer, opts ...Option) *Attester {
	a := &Attester{signer: signer, store: store, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Attester) timestamp() int64 { return a.now().UnixMilli() }

// Enroll publica una clave nueva: crea el registro, lo auto-firma y firma un
// bloque de confianza vacío. Devuelve la clave tal como quedó en el store.
func (a *Attester) Enroll(ctx context.Context, orgID, ownerID, keyID, publicKeyPEM string, expiration time.Time) (*trust.Key, error) {
	rec := &trust.Record{PublicKey: publicKeyPEM, OwnerID: ownerID, Expiration: expiration.UnixMilli()}
	key, err := trust.FromRecord(orgID, keyID, rec)
	if err != nil {
		return nil, err
	}
	if err := a.store.PutKey(ctx, orgID, keyID, rec); err != nil {
		return nil, fmt.Errorf("attest: enroll %s: %w", keyID, err)
	}
	self, err := a.SignKey(ctx, key, key)
	if err != nil {
		return nil, err
	}
	block, err := a.TrustKeys(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	rec.Signatures = map[string]trust.SignatureEntry{keyID: self}
	rec.Trust = block
	return trust.FromRecord(orgID, keyID, rec)
}

// SignKey firma target con la clave de signer y persiste la firma en
// {target}/signatures/{signer}. Un rechazo del store vuelve como error normal.
func (a *Attester) SignKey(ctx context.Context, signer, target *trust.Key) (trust.SignatureEntry, error) {
	signed, err := a.signer.Sign(ctx, target.FormatForSign(signer), signer.KeyID, signer.OwnerID, a.timestamp())
	if err != nil {
		return trust.SignatureEntry{}, fmt.Errorf("attest: sign %s with %s: %w", target.KeyID, signer.KeyID, err)
	}
	for path, entry := range trust.FormatSignedKey(signed) {
		keyID, signingKeyID, err := trust.ParseSignaturePath(path)
		if err != nil {
			return trust.SignatureEntry{}, err
		}
		if err := a.store.PutSignature(ctx, target.OrgID, keyID, signingKeyID, entry); err != nil {
			return trust.SignatureEntry{}, fmt.Errorf("attest: store %s: %w", path, err)
		}
		return entry, nil
	}
	return trust.SignatureEntry{}, fmt.Errorf("attest: empty signed fragment")
}

// TrustKeys agrega chain al bloque de confianza de issuer, lo firma y lo
// persiste reemplazando el bloque anterior. chain vacío re-firma el set actual.
func (a *Attester) TrustKeys(ctx context.Context, issuer *trust.Key, chain []*trust.Key) (trust.TrustBlock, error) {
	payload := trust.EntitiesPayload(issuer.FormatTrustForSign(chain))
	signed, err := a.signer.Sign(ctx, payload, issuer.KeyID, issuer.OwnerID, a.timestamp())
	if err != nil {
		return trust.TrustBlock{}, fmt.Errorf("attest: sign trust of %s: %w", issuer.KeyID, err)
	}
	block, err := trust.FormatSignedTrust(signed)
	if err != nil {
		return trust.TrustBlock{}, err
	}
	if err := a.store.PutTrust(ctx, issuer.OrgID, issuer.KeyID, block); err != nil {
		return trust.TrustBlock{}, fmt.Errorf("attest: store trust of %s: %w", issuer.KeyID, err)
	}
	return block, nil
}
