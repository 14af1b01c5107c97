package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/keytrust/internal/metrics"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/resolver"
	"github.com/dropDatabas3/keytrust/internal/trust"
	"github.com/dropDatabas3/keytrust/internal/trustgraph"
	"github.com/dropDatabas3/keytrust/internal/trusttest"
)

func fastOpts() resolver.Options {
	return resolver.Options{RetryBackoff: time.Millisecond}
}

// line arma ids[0] <-> ids[1] <-> ... con firmas mutuas.
func line(t *testing.T, ids ...string) *trusttest.Org {
	t.Helper()
	org := trusttest.NewOrg(t, "acme")
	for _, id := range ids {
		org.AddKey(id, "owner-"+id)
	}
	for i := 1; i < len(ids); i++ {
		org.Mutual(ids[i-1], ids[i])
	}
	return org
}

// flaky falla las primeras n descargas de keyID.
type flaky struct {
	next  trust.Fetcher
	keyID string
	fails int

	mu    sync.Mutex
	calls int
}

func (f *flaky) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	if keyID == f.keyID {
		f.mu.Lock()
		f.calls++
		n := f.calls
		f.mu.Unlock()
		if f.fails < 0 || n <= f.fails {
			return nil, errors.New("connection reset")
		}
	}
	return f.next.Fetch(ctx, orgID, keyID)
}

func TestCheck_TrustedViaPivot(t *testing.T) {
	org := line(t, "A", "B", "C")
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	v, err := r.Check(context.Background(), "acme", "B", "A", "C")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeTrusted, v.Outcome)
	require.Equal(t, []string{"A", "B", "C"}, v.Path)
	require.NoError(t, v.Err())
}

func TestCheck_PivotIsEndpoint(t *testing.T) {
	org := line(t, "A", "B", "C")
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	v, err := r.Check(context.Background(), "acme", "A", "A", "C")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeTrusted, v.Outcome)
	require.Equal(t, []string{"A", "B", "C"}, v.Path)
}

func TestCheck_Disconnected(t *testing.T) {
	org := line(t, "A", "B")
	org.AddKey("Z", "zed")
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	v, err := r.Check(context.Background(), "acme", "A", "A", "Z")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)
	require.Empty(t, v.Path)
	require.ErrorIs(t, v.Err(), resolver.ErrNotTrusted)
}

func TestCheck_OneWaySignatureIsNotAnEdge(t *testing.T) {
	org := trusttest.NewOrg(t, "acme")
	org.AddKey("A", "alice")
	org.AddKey("B", "bob")
	org.Sign("A", "B")
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))
	linkChecks := func() float64 {
		return testutil.ToFloat64(metrics.SignatureChecks.WithLabelValues("link", "ok")) +
			testutil.ToFloat64(metrics.SignatureChecks.WithLabelValues("link", "fail"))
	}
	before := linkChecks()

	s := r.NewSession(ctx, "acme")
	v, err := s.Path(ctx, "A", "A", "B")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)

	st, ok := s.Status("B")
	require.True(t, ok)
	require.Equal(t, trustgraph.StateSuccess, st.State)
	require.Equal(t, []trustgraph.Edge{{PeerID: "A", Valid: false}}, st.Mutual)

	// sin firma recíproca no se verifica nada
	require.Equal(t, before, linkChecks())
	require.Equal(t, 1, logs.FilterMessage("one-sided link").Len())
}

func TestCheck_TamperedLinkSignature(t *testing.T) {
	org := line(t, "A", "B")
	org.Tamper("B", func(rec *trust.Record) {
		e := rec.Signatures["A"]
		e.Timestamp++
		rec.Signatures["A"] = e
	})
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	s := r.NewSession(context.Background(), "acme")
	v, err := s.Path(context.Background(), "A", "A", "B")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)

	st, _ := s.Status("A")
	require.Equal(t, trustgraph.StateSuccess, st.State)
	require.Equal(t, []trustgraph.Edge{{PeerID: "B", Valid: false}}, st.Mutual)
}

func TestCheck_TamperedKeyFailsValidation(t *testing.T) {
	org := line(t, "A", "B", "C")
	org.Tamper("B", func(rec *trust.Record) { rec.Expiration += 1000 })
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	s := r.NewSession(context.Background(), "acme")
	v, err := s.Path(context.Background(), "A", "A", "C")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)

	st, ok := s.Status("B")
	require.True(t, ok)
	require.Equal(t, trustgraph.StateValidateFail, st.State)
	require.Equal(t, resolver.OutcomeNotTrusted, st.Outcome)

	// como pivote, la falla se informa directamente
	v, err = s.Path(context.Background(), "B", "A", "C")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)
	require.Contains(t, v.Reason, "validate_fail")
}

func TestCheck_ExpiredKey(t *testing.T) {
	org := trusttest.NewOrg(t, "acme")
	org.AddKey("A", "alice")
	org.AddKeyExpiring("B", "bob", time.Now().Add(-time.Minute))
	org.Mutual("A", "B")
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	s := r.NewSession(context.Background(), "acme")
	v, err := s.Path(context.Background(), "A", "A", "B")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)
	st, _ := s.Status("B")
	require.Equal(t, trustgraph.StateValidateFail, st.State)
}

func TestCheck_ClockOption(t *testing.T) {
	org := line(t, "A", "B")
	opts := fastOpts()
	opts.Now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	r := resolver.New(org.Store, org.Verifier, opts)

	v, err := r.Check(context.Background(), "acme", "A", "A", "B")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeNotTrusted, v.Outcome)
}

func TestCheck_RetriesTransientFailures(t *testing.T) {
	org := line(t, "A", "B", "C")
	f := &flaky{next: org.Store, keyID: "B", fails: 2}
	r := resolver.New(f, org.Verifier, fastOpts())

	v, err := r.Check(context.Background(), "acme", "B", "A", "C")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeTrusted, v.Outcome)
	require.Equal(t, 3, f.calls)
}

func TestCheck_RetriesExhausted(t *testing.T) {
	org := line(t, "A", "B", "C")
	f := &flaky{next: org.Store, keyID: "B", fails: -1}
	r := resolver.New(f, org.Verifier, fastOpts())

	s := r.NewSession(context.Background(), "acme")
	v, err := s.Path(context.Background(), "A", "A", "C")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeUnknown, v.Outcome)
	require.Equal(t, trustgraph.DefaultRetries+1, f.calls)

	st, _ := s.Status("B")
	require.Equal(t, trustgraph.StateRetryFail, st.State)
	require.Equal(t, 0, st.Retries)
}

func TestCheck_NoRetries(t *testing.T) {
	org := line(t, "A", "B")
	f := &flaky{next: org.Store, keyID: "B", fails: -1}
	opts := fastOpts()
	opts.MaxRetries = -1
	r := resolver.New(f, org.Verifier, opts)

	v, err := r.Check(context.Background(), "acme", "A", "A", "B")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeUnknown, v.Outcome)
	require.Contains(t, v.Reason, "retry_fail")
	require.Equal(t, 1, f.calls)
}

func TestCheck_MissingKey(t *testing.T) {
	org := line(t, "A")
	r := resolver.New(org.Store, org.Verifier, fastOpts())

	s := r.NewSession(context.Background(), "acme")
	v, err := s.Path(context.Background(), "A", "A", "ghost")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeUnknown, v.Outcome)
	st, _ := s.Status("ghost")
	require.Equal(t, trustgraph.StateRetryFail, st.State)
	require.Equal(t, resolver.OutcomeUnknown, st.Outcome)
}

func TestCheck_DepthLimitIsUnknown(t *testing.T) {
	org := line(t, "A", "B", "C", "D", "E")
	opts := fastOpts()
	opts.MaxDepth = 1
	r := resolver.New(org.Store, org.Verifier, opts)

	s := r.NewSession(context.Background(), "acme")
	v, err := s.Path(context.Background(), "A", "A", "E")
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeUnknown, v.Outcome)
	require.ErrorIs(t, v.Err(), resolver.ErrUnknown)

	st, ok := s.Status("C")
	require.True(t, ok)
	require.Equal(t, trustgraph.StateFetch, st.State)
	require.Equal(t, resolver.OutcomeUnknown, st.Outcome)
}

func TestSession_IncrementalResolve(t *testing.T) {
	org := line(t, "A", "B", "C")
	r := resolver.New(org.Store, org.Verifier, fastOpts())
	ctx := context.Background()

	s := r.NewSession(ctx, "acme")
	require.NoError(t, s.Resolve(ctx, "A"))
	st, ok := s.Status("A")
	require.True(t, ok)
	require.Equal(t, trustgraph.StateSuccess, st.State)
	require.Equal(t, "owner-A", st.OwnerID)

	n := s.Graph().Len()
	require.NoError(t, s.Resolve(ctx, "A"))
	require.Equal(t, n, s.Graph().Len())

	_, ok = s.Status("nope")
	require.False(t, ok)
}

func TestSession_RequiresIDs(t *testing.T) {
	org := line(t, "A")
	r := resolver.New(org.Store, org.Verifier, fastOpts())
	_, err := r.Check(context.Background(), "acme", "", "A", "A")
	require.Error(t, err)
}

func TestSession_CanceledContext(t *testing.T) {
	org := line(t, "A", "B")
	f := &flaky{next: org.Store, keyID: "B", fails: -1}
	opts := fastOpts()
	opts.RetryBackoff = time.Hour
	r := resolver.New(f, org.Verifier, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Check(ctx, "acme", "A", "A", "B")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOptions_Defaults(t *testing.T) {
	r := resolver.New(nil, nil, resolver.Options{})
	o := r.Options()
	require.Equal(t, trustgraph.DefaultRetries, o.MaxRetries)
	require.Equal(t, 4, o.MaxDepth)
	require.Equal(t, 4, o.Prefetch)
	require.Equal(t, 10*time.Second, o.FetchTimeout)
	require.NotNil(t, o.Now)
}

// gated bloquea las descargas hasta que se cierre release, respetando ctx.
type gated struct {
	next    trust.Fetcher
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gated) Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.next.Fetch(ctx, orgID, keyID)
}

func TestResolve_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	org := trusttest.NewOrg(t, "acme")
	org.AddKey("A", "alice")
	f := &gated{next: org.Store, entered: make(chan struct{}), release: make(chan struct{})}
	r := resolver.New(f, org.Verifier, fastOpts())

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := make(chan error, 1)
	go func() {
		first <- r.NewSession(ctx1, "acme").Resolve(ctx1, "A")
	}()
	<-f.entered

	s2 := r.NewSession(context.Background(), "acme")
	second := make(chan error, 1)
	go func() {
		second <- s2.Resolve(context.Background(), "A")
	}()
	// deja que la segunda sesión se sume a la descarga en curso
	time.Sleep(50 * time.Millisecond)

	cancel1()
	require.ErrorIs(t, <-first, context.Canceled)

	close(f.release)
	require.NoError(t, <-second)

	st, ok := s2.Status("A")
	require.True(t, ok)
	require.Equal(t, trustgraph.StateSuccess, st.State)
	require.Equal(t, trustgraph.DefaultRetries, st.Retries)
}
