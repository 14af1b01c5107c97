package trustgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keytrust/internal/trust"
)

func mustKey(t *testing.T, id string, signers ...string) *trust.Key {
	t.Helper()
	sigs := make(map[string]trust.SignatureEntry, len(signers))
	for _, s := range signers {
		sigs[s] = trust.SignatureEntry{SignerID: "owner-" + s, Timestamp: 1, Sig: "c2ln"}
	}
	k, err := trust.NewKey("org", "owner-"+id, id, "PEM", time.Now().Add(time.Hour).UnixMilli(), sigs, trust.TrustBlock{})
	require.NoError(t, err)
	return k
}

// advance lleva un nodo hasta COMPARE.
func advance(t *testing.T, s *Status, k *trust.Key) {
	t.Helper()
	s.ToValidate(k).ToCompare()
	require.Equal(t, StateCompare, s.State())
}

func TestStatus_HappyPath(t *testing.T) {
	g := New()
	a := g.Add(Unresolved("a"))
	b := g.Add(Unresolved("b"))
	require.Equal(t, StateFetch, a.State())
	require.False(t, a.Ref().IsResolved())

	advance(t, a, mustKey(t, "a"))
	advance(t, b, mustKey(t, "b"))
	require.True(t, a.Ref().IsResolved())

	a.ToValidateLink(b)
	require.Equal(t, StateValidateLink, a.State())
	a.ToConnect().ToSuccess()
	require.Equal(t, StateSuccess, a.State())
	require.True(t, a.State().IsTerminal())
	require.False(t, a.State().Failed())
}

func TestStatus_OutOfOrderIsNoop(t *testing.T) {
	g := New()
	s := g.Add(Unresolved("a"))

	require.Same(t, s, s.ToCompare())
	require.Equal(t, StateFetch, s.State())
	s.ToValidateFail()
	s.ToConnect()
	s.ToSuccess()
	s.ToValidateLink(g.Add(Unresolved("b")))
	require.Equal(t, StateFetch, s.State())
	require.Empty(t, s.Mutual())

	s.ToValidate(nil)
	require.Equal(t, StateValidate, s.State())
	s.ToValidate(mustKey(t, "a"))
	require.False(t, s.Ref().IsResolved(), "second ToValidate must not touch the key")
	s.ToRetry(func(int) { t.Fatal("retry outside FETCH") }, func() { t.Fatal("exhausted outside FETCH") })
	s.ToConnect()
	require.Equal(t, StateValidate, s.State())

	s.ToValidateFail()
	require.Equal(t, StateValidateFail, s.State())
	s.ToCompare()
	require.Equal(t, StateValidateFail, s.State())
	require.True(t, s.State().Failed())
}

func TestStatus_ToValidateIgnoresForeignKey(t *testing.T) {
	s := New().Add(Unresolved("a"))
	s.ToValidate(mustKey(t, "other"))
	require.Equal(t, StateValidate, s.State())
	require.False(t, s.Ref().IsResolved())
	require.Equal(t, "a", s.ID())
}

func TestStatus_RetryExhaustion(t *testing.T) {
	s := New().Add(Unresolved("a"))

	var remaining []int
	exhausted := 0
	onRetry := func(n int) { remaining = append(remaining, n) }
	onExhausted := func() { exhausted++ }

	for i := 0; i < 3; i++ {
		s.ToRetry(onRetry, onExhausted)
		require.Equal(t, StateFetch, s.State())
	}
	require.Equal(t, []int{2, 1, 0}, remaining)
	require.Zero(t, exhausted)

	s.ToRetry(onRetry, onExhausted)
	require.Equal(t, StateRetryFail, s.State())
	require.Equal(t, 1, exhausted)

	s.ToRetry(onRetry, onExhausted)
	require.Equal(t, 1, exhausted)
	require.Len(t, remaining, 3)
}

func TestStatus_WithRetries(t *testing.T) {
	s := New(WithRetries(0)).Add(Unresolved("a"))
	s.ToRetry(nil, nil)
	require.Equal(t, StateRetryFail, s.State())
}

func TestStatus_ValidateLinkRegistersEdgeOnce(t *testing.T) {
	g := New()
	a := g.Add(Unresolved("a"))
	b := g.Add(Unresolved("b"))
	advance(t, a, mustKey(t, "a"))

	a.ToValidateLink(b)
	a.ToValidateLink(b)
	require.Equal(t, []Edge{{PeerID: "b"}}, a.Mutual())
	require.Equal(t, []Edge{{PeerID: "a"}}, b.Mutual())

	a.ToValidateLink(a)
	a.ToValidateLink(nil)
	a.ToValidateLink(New().Add(Unresolved("x")))
	require.Len(t, a.Mutual(), 1)
}

func TestStatus_NotifyValidStatusIsSymmetric(t *testing.T) {
	g := New()
	a := g.Add(Unresolved("a"))
	b := g.Add(Unresolved("b"))
	c := g.Add(Unresolved("c"))
	advance(t, a, mustKey(t, "a"))
	a.ToValidateLink(b)

	require.NoError(t, a.NotifyValidStatus(true, b))
	e, ok := a.Edge("b")
	require.True(t, ok)
	require.True(t, e.Valid)
	e, ok = b.Edge("a")
	require.True(t, ok)
	require.True(t, e.Valid)

	require.NoError(t, b.NotifyValidStatus(false, a))
	e, _ = a.Edge("b")
	require.False(t, e.Valid)

	require.ErrorIs(t, a.NotifyValidStatus(true, c), ErrNoEdge)
	require.ErrorIs(t, a.NotifyValidStatus(true, nil), ErrNoEdge)
}

func TestStatus_LinksToValidate(t *testing.T) {
	g := New()
	a := g.Add(Unresolved("a"))
	signer := g.Add(Unresolved("b"))
	silent := g.Add(Unresolved("c"))
	bare := g.Add(Unresolved("d"))

	advance(t, a, mustKey(t, "a", "a", "b", "d"))
	advance(t, signer, mustKey(t, "b"))
	advance(t, silent, mustKey(t, "c"))
	for _, p := range []*Status{signer, silent, bare} {
		a.ToValidateLink(p)
	}

	got := a.LinksToValidate()
	require.Len(t, got, 1)
	require.Same(t, signer, got[0])

	require.NoError(t, a.NotifyValidStatus(true, signer))
	require.Empty(t, a.LinksToValidate())

	require.Nil(t, bare.LinksToValidate())
}

func TestGraph_AddIsIdempotent(t *testing.T) {
	g := New()
	a := g.Add(Unresolved("a"))
	a.ToValidate(nil)
	require.Same(t, a, g.Add(Resolved(mustKey(t, "a"))))
	require.Equal(t, StateValidate, a.State())
	require.Equal(t, 1, g.Len())

	g.Add(Unresolved("b"))
	ids := []string{}
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID())
	}
	require.Equal(t, []string{"a", "b"}, ids)

	n, ok := g.Node("b")
	require.True(t, ok)
	require.Equal(t, "b", n.ID())
	_, ok = g.Node("zz")
	require.False(t, ok)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "validate_link", StateValidateLink.String())
	require.Equal(t, "retry_fail", StateRetryFail.String())
	require.Equal(t, "state(42)", State(42).String())
	require.True(t, StateConnect.InGraph())
	require.False(t, StateCompare.InGraph())
}
