package attest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keytrust/internal/attest"
	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"
	"github.com/dropDatabas3/keytrust/internal/trusttest"
)

func TestEnroll_SelfConsistent(t *testing.T) {
	ctx := context.Background()
	org := trusttest.NewOrg(t, "acme")
	k := org.AddKey("k1", "alice")

	stored := org.Key("k1")
	require.True(t, k.IsEqual(stored))

	v := org.Verifier
	require.NoError(t, v.Verify(ctx, stored.FormatForVerifySelf(), stored.PublicKey, stored.OwnerID))
	require.NoError(t, v.Verify(ctx, stored.Trust.FormatForVerify(), stored.PublicKey, stored.OwnerID))
}

func TestSignKey_Verifies(t *testing.T) {
	ctx := context.Background()
	org := trusttest.NewOrg(t, "acme")
	org.AddKey("k1", "alice")
	org.AddKey("k2", "bob")

	org.Sign("k1", "k2")
	signer, target := org.Key("k1"), org.Key("k2")

	s, ok := target.Signature("k1")
	require.True(t, ok)
	require.Equal(t, "alice", s.SignerID)
	require.NoError(t, org.Verifier.Verify(ctx, target.FormatForVerify(signer), signer.PublicKey, signer.OwnerID))
}

func TestTrustKeys_ChainLevels(t *testing.T) {
	ctx := context.Background()
	org := trusttest.NewOrg(t, "acme")
	org.AddKey("k1", "alice")
	org.AddKey("k2", "bob")
	org.AddKey("k3", "carol")

	org.Trust("k1", "k2", "k3")
	issuer := org.Key("k1")

	require.Equal(t, []string{"k2", "k3"}, issuer.Trust.TrustedKeyIDs())
	parent, ok := issuer.Trust.ParentLinkID("k3")
	require.True(t, ok)
	require.Equal(t, "k2", parent)
	require.NoError(t, org.Verifier.Verify(ctx, issuer.Trust.FormatForVerify(), issuer.PublicKey, issuer.OwnerID))
}

func TestSignKey_RejectedIsReturned(t *testing.T) {
	ctx := context.Background()
	org := trusttest.NewOrg(t, "acme")
	signer := org.AddKey("k1", "alice")

	ghost, err := trust.NewKey("acme", "nobody", "ghost", "PEM", time.Now().Add(time.Hour).UnixMilli(), nil, trust.TrustBlock{})
	require.NoError(t, err)

	_, err = org.Attester.SignKey(ctx, signer, ghost)
	require.True(t, keystore.IsRejected(err))
}

func TestSignKey_UnknownSigningKey(t *testing.T) {
	ctx := context.Background()
	org := trusttest.NewOrg(t, "acme")
	target := org.AddKey("k1", "alice")
	stranger, err := trust.NewKey("acme", "eve", "k9", "PEM", time.Now().Add(time.Hour).UnixMilli(), nil, trust.TrustBlock{})
	require.NoError(t, err)

	a := attest.New(signature.NewKeyring(signature.HashSHA256), org.Store)
	_, err = a.SignKey(ctx, stranger, target)
	require.ErrorIs(t, err, signature.ErrUnknownSigningKey)
}
