package trust

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keytrust/internal/signature"
)

const testPEM = "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----"

func future() int64 { return time.Now().Add(24 * time.Hour).UnixMilli() }

func TestNewKey_Valid(t *testing.T) {
	k, err := NewKey("org", "alice", "k1", testPEM, future(),
		map[string]SignatureEntry{"k1": {SignerID: "alice", Timestamp: 1, Sig: "c2ln"}},
		TrustBlock{Sig: "dHJ1c3Q=", LastModified: 2})
	require.NoError(t, err)
	require.Equal(t, "k1", k.Signatures["k1"].SigningKeyID)
	require.Equal(t, "org", k.Signatures["k1"].OrgID)
	require.Equal(t, "alice", k.Trust.SignerID)
	require.Equal(t, "k1", k.Trust.SigningKeyID)
	require.Equal(t, "dHJ1c3Q=", k.Trust.Signature)
}

func TestNewKey_MissingFields(t *testing.T) {
	cases := []struct {
		name                    string
		org, owner, keyID, pemK string
		field                   string
	}{
		{"org", "", "alice", "k1", testPEM, FieldOrganization},
		{"owner", "org", "", "k1", testPEM, FieldOwner},
		{"keyID", "org", "alice", "", testPEM, FieldKeyMaterial},
		{"pem", "org", "alice", "k1", "", FieldKeyMaterial},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewKey(c.org, c.owner, c.keyID, c.pemK, future(), nil, TrustBlock{})
			require.ErrorIs(t, err, ErrInvalidField)
			require.Equal(t, c.field, InvalidFieldName(err))
		})
	}
}

func TestNewKeySignature_MissingFields(t *testing.T) {
	full := func() (string, string, string, string, int64) { return "c2ln", "org", "alice", "k1", 1 }
	cases := map[string]func(sig, org, signer, key string, ts int64) (string, string, string, string, int64){
		FieldSignature:    func(_, o, s, k string, ts int64) (string, string, string, string, int64) { return "", o, s, k, ts },
		FieldOrganization: func(g, _, s, k string, ts int64) (string, string, string, string, int64) { return g, "", s, k, ts },
		FieldSigner:       func(g, o, _, k string, ts int64) (string, string, string, string, int64) { return g, o, "", k, ts },
		FieldKeyMaterial:  func(g, o, s, _ string, ts int64) (string, string, string, string, int64) { return g, o, s, "", ts },
		FieldTimestamp:    func(g, o, s, k string, _ int64) (string, string, string, string, int64) { return g, o, s, k, 0 },
	}

	_, err := NewKeySignature(full())
	require.NoError(t, err)

	for field, omit := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := NewKeySignature(omit(full()))
			require.ErrorIs(t, err, ErrInvalidField)
			require.Equal(t, field, InvalidFieldName(err))
		})
	}
}

func TestNewKey_PropagatesSignatureError(t *testing.T) {
	_, err := NewKey("org", "alice", "k1", testPEM, future(),
		map[string]SignatureEntry{"k2": {SignerID: "bob", Timestamp: 1}}, TrustBlock{})
	require.Equal(t, FieldSignature, InvalidFieldName(err))
}

func newSigner(t *testing.T, kr *signature.Keyring, keyID, owner string) *Key {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	kr.Add(keyID, priv)
	pub, err := kr.PublicKeyPEM(keyID)
	require.NoError(t, err)
	k, err := NewKey("org", owner, keyID, pub, future(), nil, TrustBlock{})
	require.NoError(t, err)
	return k
}

func TestFormatForSign_VerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	kr := signature.NewKeyring(signature.HashSHA256)
	parent := newSigner(t, kr, "kp", "alice")
	child := newSigner(t, kr, "kc", "bob")

	signed, err := kr.Sign(ctx, child.FormatForSign(parent), parent.KeyID, parent.OwnerID, 1234)
	require.NoError(t, err)

	frag := FormatSignedKey(signed)
	entry, ok := frag["kc/signatures/kp"]
	require.True(t, ok, "fragment keyed by storage path: %v", frag)
	require.Equal(t, "alice", entry.SignerID)
	require.Equal(t, int64(1234), entry.Timestamp)

	rec := child.Record()
	rec.Signatures["kp"] = entry
	child2, err := FromRecord("org", "kc", rec)
	require.NoError(t, err)

	v := signature.NewVerifier(signature.HashSHA256)
	require.NoError(t, v.Verify(ctx, child2.FormatForVerify(parent), parent.PublicKey, parent.OwnerID))

	// La misma firma no valida como si la hubiera emitido child.
	require.Error(t, v.Verify(ctx, child2.FormatForVerify(child2), child2.PublicKey, child2.OwnerID))
}

func TestFormatForVerify_NoParent(t *testing.T) {
	k, err := NewKey("org", "alice", "k1", testPEM, future(), nil, TrustBlock{})
	require.NoError(t, err)
	require.Empty(t, k.FormatForVerify(nil))
}

func TestIsEqual(t *testing.T) {
	mk := func(selfSig, trustSig string) *Key {
		sigs := map[string]SignatureEntry{}
		if selfSig != "" {
			sigs["k1"] = SignatureEntry{SignerID: "alice", Timestamp: 1, Sig: selfSig}
		}
		k, err := NewKey("org", "alice", "k1", testPEM, future(), sigs, TrustBlock{Sig: trustSig})
		require.NoError(t, err)
		return k
	}

	require.True(t, mk("a", "t").IsEqual(mk("a", "t")))
	require.False(t, mk("a", "t").IsEqual(mk("b", "t")))
	require.False(t, mk("a", "t").IsEqual(mk("a", "u")))

	noSelf := mk("", "t")
	require.False(t, noSelf.IsEqual(noSelf))
	noTrust := mk("a", "")
	require.False(t, noTrust.IsEqual(noTrust))
	require.False(t, mk("a", "t").IsEqual(nil))
}

func TestActiveAt(t *testing.T) {
	now := time.Now()
	k, err := NewKey("org", "alice", "k1", testPEM, now.Add(time.Minute).UnixMilli(), nil, TrustBlock{})
	require.NoError(t, err)
	require.True(t, k.ActiveAt(now))
	require.False(t, k.ActiveAt(now.Add(2*time.Minute)))

	k.Expiration = 0
	require.False(t, k.IsActive())
}

func TestFormatTrustForSign(t *testing.T) {
	issuer, err := NewKey("org", "alice", "k1", testPEM, future(), nil, TrustBlock{
		Entities: map[string]TrustEntity{"k0": {TrustedUserID: "zed", TrustLevel: 1, Chain: Chain{"k1"}}},
	})
	require.NoError(t, err)
	b, _ := NewKey("org", "bob", "k2", testPEM, future(), nil, TrustBlock{})
	c, _ := NewKey("org", "carol", "k3", testPEM, future(), nil, TrustBlock{})

	got := issuer.FormatTrustForSign([]*Key{b, c})
	require.Len(t, got, 3)
	require.Equal(t, TrustEntity{TrustedUserID: "zed", TrustLevel: 1, Chain: Chain{"k1"}}, got["k0"])
	require.Equal(t, TrustEntity{TrustedUserID: "bob", TrustLevel: 1, Chain: Chain{"k1"}}, got["k2"])
	require.Equal(t, TrustEntity{TrustedUserID: "carol", TrustLevel: 2, Chain: Chain{"k1", "k2"}}, got["k3"])

	// no muta el set original
	require.Len(t, issuer.Trust.Entities, 1)
}

func TestSignedTrust_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kr := signature.NewKeyring(signature.HashSHA256)
	issuer := newSigner(t, kr, "k1", "alice")
	b := newSigner(t, kr, "k2", "bob")

	entities := issuer.FormatTrustForSign([]*Key{b})
	signed, err := kr.Sign(ctx, EntitiesPayload(entities), issuer.KeyID, issuer.OwnerID, 99)
	require.NoError(t, err)

	block, err := FormatSignedTrust(signed)
	require.NoError(t, err)
	require.Equal(t, int64(99), block.LastModified)
	require.Equal(t, entities, block.Entities)

	rec := issuer.Record()
	rec.Trust = block
	issuer2, err := FromRecord("org", "k1", rec)
	require.NoError(t, err)

	v := signature.NewVerifier(signature.HashSHA256)
	require.NoError(t, v.Verify(ctx, issuer2.Trust.FormatForVerify(), issuer2.PublicKey, issuer2.OwnerID))
}

type fetchFunc func(ctx context.Context, orgID, keyID string) (*Record, error)

func (f fetchFunc) Fetch(ctx context.Context, orgID, keyID string) (*Record, error) {
	return f(ctx, orgID, keyID)
}

func TestRefresh(t *testing.T) {
	k, err := NewKey("org", "alice", "k1", testPEM, 1, nil, TrustBlock{})
	require.NoError(t, err)

	fresh, err := k.Refresh(context.Background(), fetchFunc(func(_ context.Context, org, id string) (*Record, error) {
		require.Equal(t, "org", org)
		require.Equal(t, "k1", id)
		return &Record{PublicKey: testPEM, OwnerID: "alice", Expiration: 2}, nil
	}))
	require.NoError(t, err)
	require.Equal(t, int64(2), fresh.Expiration)
	require.Equal(t, int64(1), k.Expiration)

	boom := errors.New("boom")
	_, err = k.Refresh(context.Background(), fetchFunc(func(context.Context, string, string) (*Record, error) {
		return nil, boom
	}))
	require.ErrorIs(t, err, boom)
}

func TestSignaturePath(t *testing.T) {
	key, signer, err := ParseSignaturePath(SignaturePath("a", "b"))
	require.NoError(t, err)
	require.Equal(t, "a", key)
	require.Equal(t, "b", signer)

	_, _, err = ParseSignaturePath("a/trust/b")
	require.Error(t, err)
}
