package signature

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return priv
}

func TestSignVerify_RoundTrip(t *testing.T) {
	for _, h := range []Hash{HashSHA256, HashSHA1} {
		t.Run(string(h), func(t *testing.T) {
			ctx := context.Background()
			kr := NewKeyring(h)
			kr.Add("k1", newKey(t))
			pub, err := kr.PublicKeyPEM("k1")
			require.NoError(t, err)

			data := Payload{"keyID": "k2", "publicKey": "PEM", "expiration": int64(42)}
			signed, err := kr.Sign(ctx, data, "k1", "alice", 1000)
			require.NoError(t, err)
			require.NotEmpty(t, signed.String(FieldSig))
			require.Equal(t, "alice", signed.String(FieldSignerID))
			require.Equal(t, "k1", signed.String(FieldSigningKeyID))
			require.Equal(t, int64(1000), signed.Int64(FieldLastModified))
			require.NotContains(t, data, FieldSig, "Sign must not mutate its input")

			require.NoError(t, NewVerifier(h).Verify(ctx, signed, pub, "alice"))
		})
	}
}

func TestVerify_DetectsTamper(t *testing.T) {
	ctx := context.Background()
	kr := NewKeyring(HashSHA256)
	kr.Add("k1", newKey(t))
	pub, _ := kr.PublicKeyPEM("k1")

	signed, err := kr.Sign(ctx, Payload{"keyID": "k2"}, "k1", "alice", 1)
	require.NoError(t, err)

	signed["keyID"] = "k3"
	err = NewVerifier(HashSHA256).Verify(ctx, signed, pub, "alice")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_WrongKeyOrSigner(t *testing.T) {
	ctx := context.Background()
	kr := NewKeyring(HashSHA256)
	kr.Add("k1", newKey(t))
	kr.Add("k2", newKey(t))
	otherPub, _ := kr.PublicKeyPEM("k2")
	pub, _ := kr.PublicKeyPEM("k1")

	signed, err := kr.Sign(ctx, Payload{"x": "y"}, "k1", "alice", 1)
	require.NoError(t, err)

	v := NewVerifier(HashSHA256)
	require.ErrorIs(t, v.Verify(ctx, signed, otherPub, "alice"), ErrInvalidSignature)
	require.ErrorIs(t, v.Verify(ctx, signed, pub, "mallory"), ErrInvalidSignature)
}

func TestVerify_MissingSig(t *testing.T) {
	kr := NewKeyring(HashSHA256)
	kr.Add("k1", newKey(t))
	pub, _ := kr.PublicKeyPEM("k1")

	err := NewVerifier(HashSHA256).Verify(context.Background(), Payload{"x": "y"}, pub, "alice")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSign_UnknownKey(t *testing.T) {
	_, err := NewKeyring(HashSHA256).Sign(context.Background(), Payload{}, "nope", "alice", 1)
	require.ErrorIs(t, err, ErrUnknownSigningKey)
}

func TestKeyring_AddPEM(t *testing.T) {
	priv := newKey(t)
	der, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	kr := NewKeyring("")
	require.NoError(t, kr.AddPEM("k1", pemBytes))

	got, err := kr.PublicKeyPEM("k1")
	require.NoError(t, err)
	want, err := EncodePublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGeneratePrivateKeyPEM(t *testing.T) {
	b, err := GeneratePrivateKeyPEM()
	require.NoError(t, err)
	priv, err := ParsePrivateKeyPEM(b)
	require.NoError(t, err)
	require.Equal(t, elliptic.P256(), priv.Curve)

	kr := NewKeyring("")
	require.NoError(t, kr.AddPEM("k1", b))
	signed, err := kr.Sign(context.Background(), Payload{"a": "b"}, "k1", "alice", 1)
	require.NoError(t, err)
	pub, err := kr.PublicKeyPEM("k1")
	require.NoError(t, err)
	require.NoError(t, NewVerifier("").Verify(context.Background(), signed, pub, "alice"))
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash("")
	require.NoError(t, err)
	require.Equal(t, HashSHA256, h)
	h, err = ParseHash("SHA1")
	require.NoError(t, err)
	require.Equal(t, HashSHA1, h)
	_, err = ParseHash("md5")
	require.Error(t, err)
}
