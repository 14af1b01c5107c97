// Package trusttest arma organizaciones de prueba: claves EC reales,
// keystore en memoria y atestaciones firmadas.
package trusttest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keytrust/internal/attest"
	"github.com/dropDatabas3/keytrust/internal/keystore/memory"
	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

// Org es una organización de prueba.
type Org struct {
	t testing.TB

	ID       string
	Keyring  *signature.Keyring
	Verifier signature.Verifier
	Store    *memory.Store
	Attester *attest.Attester
}

// NewOrg crea una organización vacía con keystore en memoria.
func NewOrg(t testing.TB, id string) *Org {
	t.Helper()
	kr := signature.NewKeyring(signature.HashSHA256)
	st := memory.New()
	return &Org{
		t:        t,
		ID:       id,
		Keyring:  kr,
		Verifier: signature.NewVerifier(signature.HashSHA256),
		Store:    st,
		Attester: attest.New(kr, st),
	}
}

// AddKey genera un par EC para keyID y lo publica (auto-firma y bloque de
// confianza vacío). La clave vence en una hora.
func (o *Org) AddKey(keyID, ownerID string) *trust.Key {
	return o.AddKeyExpiring(keyID, ownerID, time.Now().Add(time.Hour))
}

// AddKeyExpiring es AddKey con expiración explícita.
func (o *Org) AddKeyExpiring(keyID, ownerID string, exp time.Time) *trust.Key {
	o.t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(o.t, err)
	o.Keyring.Add(keyID, priv)
	pub, err := o.Keyring.PublicKeyPEM(keyID)
	require.NoError(o.t, err)
	k, err := o.Attester.Enroll(context.Background(), o.ID, ownerID, keyID, pub, exp)
	require.NoError(o.t, err)
	return k
}

// Key relee keyID del store.
func (o *Org) Key(keyID string) *trust.Key {
	o.t.Helper()
	rec, err := o.Store.Fetch(context.Background(), o.ID, keyID)
	require.NoError(o.t, err)
	k, err := trust.FromRecord(o.ID, keyID, rec)
	require.NoError(o.t, err)
	return k
}

// Sign hace que signerID firme targetID.
func (o *Org) Sign(signerID, targetID string) {
	o.t.Helper()
	_, err := o.Attester.SignKey(context.Background(), o.Key(signerID), o.Key(targetID))
	require.NoError(o.t, err)
}

// Mutual firma a y b en ambas direcciones.
func (o *Org) Mutual(a, b string) {
	o.t.Helper()
	o.Sign(a, b)
	o.Sign(b, a)
}

// Trust agrega chain al bloque de confianza de issuerID.
func (o *Org) Trust(issuerID string, chain ...string) {
	o.t.Helper()
	keys := make([]*trust.Key, 0, len(chain))
	for _, id := range chain {
		keys = append(keys, o.Key(id))
	}
	_, err := o.Attester.TrustKeys(context.Background(), o.Key(issuerID), keys)
	require.NoError(o.t, err)
}

// Tamper reescribe el registro de keyID sin re-firmar.
func (o *Org) Tamper(keyID string, fn func(*trust.Record)) {
	o.t.Helper()
	rec, err := o.Store.Fetch(context.Background(), o.ID, keyID)
	require.NoError(o.t, err)
	fn(rec)
	o.Store.Put(o.ID, keyID, rec)
}
