package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/keytrust/internal/keystore"
	"github.com/dropDatabas3/keytrust/internal/metrics"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"
	"github.com/dropDatabas3/keytrust/internal/trustgraph"
)

// Session es una resolución en curso sobre una organización. Su grafo sólo
// crece: para ver escrituras nuevas del keystore hay que abrir otra sesión.
type Session struct {
	ID    string
	OrgID string

	r     *Resolver
	graph *trustgraph.Graph
	log   *zap.Logger

	depth   map[string]int
	checked map[[2]string]bool
}

// NewSession abre una sesión vacía.
func (r *Resolver) NewSession(ctx context.Context, orgID string) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		OrgID:   orgID,
		r:       r,
		graph:   trustgraph.New(trustgraph.WithRetries(r.opts.MaxRetries)),
		log:     logger.From(ctx).With(logger.SessionID(id), logger.OrgID(orgID), logger.Component("resolver")),
		depth:   make(map[string]int),
		checked: make(map[[2]string]bool),
	}
}

// Graph expone el grafo de la sesión.
func (s *Session) Graph() *trustgraph.Graph { return s.graph }

// Resolve descarga y valida keyIDs y su vecindario hasta MaxDepth saltos.
// Es incremental: los nodos ya procesados no se vuelven a tocar.
// Sólo devuelve error si ctx se cancela.
func (s *Session) Resolve(ctx context.Context, keyIDs ...string) error {
	for _, id := range keyIDs {
		if id == "" {
			continue
		}
		s.graph.Add(trustgraph.Unresolved(id))
		if _, ok := s.depth[id]; !ok {
			s.depth[id] = 0
		}
	}

	for round := 0; ; round++ {
		pending := s.pending()
		if len(pending) == 0 {
			break
		}
		if round > 0 && s.needsBackoff(pending) {
			if err := sleep(ctx, s.r.opts.RetryBackoff); err != nil {
				return err
			}
		}
		results, err := s.fetchAll(ctx, pending)
		if err != nil {
			return err
		}
		for _, node := range pending {
			s.apply(ctx, node, results[node.ID()])
		}
		s.validateLinks(ctx)
	}
	s.settle()
	return nil
}

// pending devuelve los nodos en FETCH dentro de la profundidad máxima, ordenados.
func (s *Session) pending() []*trustgraph.Status {
	var out []*trustgraph.Status
	for _, n := range s.graph.Nodes() {
		if n.State() == trustgraph.StateFetch && s.depth[n.ID()] <= s.r.opts.MaxDepth {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Session) needsBackoff(pending []*trustgraph.Status) bool {
	for _, n := range pending {
		if n.Retries() < s.r.opts.MaxRetries {
			return true
		}
	}
	return false
}

type fetchResult struct {
	rec *trust.Record
	err error
}

// fetchAll descarga en paralelo; no toca el grafo.
func (s *Session) fetchAll(ctx context.Context, nodes []*trustgraph.Status) (map[string]fetchResult, error) {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	out := make([]fetchResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.r.opts.Prefetch)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := s.r.fetch(gctx, s.OrgID, id)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			out[i] = fetchResult{rec: rec, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := make(map[string]fetchResult, len(ids))
	for i, id := range ids {
		res[id] = out[i]
		switch {
		case out[i].err == nil:
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
		case keystore.IsNotFound(out[i].err):
			metrics.FetchAttempts.WithLabelValues("not_found").Inc()
		default:
			metrics.FetchAttempts.WithLabelValues("error").Inc()
		}
	}
	return res, nil
}

// apply avanza un nodo con el resultado de su descarga.
func (s *Session) apply(ctx context.Context, node *trustgraph.Status, res fetchResult) {
	log := s.log.With(logger.KeyID(node.ID()))
	if res.err != nil {
		s.transition(node, func() {
			node.ToRetry(
				func(remaining int) {
					log.Debug("fetch failed, retrying", logger.Attempt(s.r.opts.MaxRetries-remaining), logger.Err(res.err))
				},
				func() {
					log.Warn("fetch retries exhausted", logger.Err(res.err))
				},
			)
		})
		return
	}

	key, err := trust.FromRecord(s.OrgID, node.ID(), res.rec)
	if err != nil {
		log.Warn("malformed key record", logger.Err(err))
		s.transition(node, func() { node.ToValidate(nil).ToValidateFail() })
		return
	}
	s.transition(node, func() { node.ToValidate(key) })

	if reason := s.validateSelf(ctx, key); reason != "" {
		log.Info("key failed validation", zap.String("reason", reason))
		s.transition(node, func() { node.ToValidateFail() })
		return
	}
	s.transition(node, func() { node.ToCompare() })

	next := s.depth[node.ID()] + 1
	neighbors := neighborIDs(key)
	s.transition(node, func() { node.ToValidateLink(nil) })
	for _, id := range neighbors {
		peer := s.graph.Add(trustgraph.Unresolved(id))
		if d, ok := s.depth[id]; !ok || next < d {
			s.depth[id] = next
		}
		node.ToValidateLink(peer)
	}
	log.Debug("key validated", logger.OwnerID(key.OwnerID), logger.Count(len(neighbors)))
}

// validateSelf devuelve "" si la clave está activa, tiene auto-firma válida
// y su bloque de confianza está firmado por ella misma.
func (s *Session) validateSelf(ctx context.Context, key *trust.Key) string {
	if !key.ActiveAt(s.r.opts.Now()) {
		return "expired"
	}
	if _, ok := key.Signature(key.KeyID); !ok {
		return "missing self-signature"
	}
	if !s.verify(ctx, "self", key.FormatForVerifySelf(), key) {
		return "bad self-signature"
	}
	if key.Trust.Signature == "" {
		return "unsigned trust block"
	}
	if !s.verify(ctx, "trust", key.Trust.FormatForVerify(), key) {
		return "bad trust signature"
	}
	return ""
}

func (s *Session) verify(ctx context.Context, kind string, payload signature.Payload, signer *trust.Key) bool {
	err := s.r.verifier.Verify(ctx, payload, signer.PublicKey, signer.OwnerID)
	result := "ok"
	if err != nil {
		result = "fail"
	}
	metrics.SignatureChecks.WithLabelValues(kind, result).Inc()
	return err == nil
}

// validateLinks verifica las aristas con material suficiente: cada extremo
// debe tener una firma válida del otro.
func (s *Session) validateLinks(ctx context.Context) {
	for _, node := range s.graph.Nodes() {
		if !node.State().InGraph() {
			continue
		}
		for _, peer := range node.LinksToValidate() {
			pair := pairKey(node.ID(), peer.ID())
			if s.checked[pair] || !peer.State().InGraph() {
				continue
			}
			s.checked[pair] = true

			a, _ := node.Key()
			b, _ := peer.Key()
			if _, signed := b.Signatures[node.ID()]; !signed {
				// firma en un solo sentido: la arista queda inválida sin verificar
				s.log.Debug("one-sided link", logger.KeyID(node.ID()), logger.PeerID(peer.ID()))
				continue
			}
			ok := s.verify(ctx, "link", a.FormatForVerify(b), b) && s.verify(ctx, "link", b.FormatForVerify(a), a)
			if err := node.NotifyValidStatus(ok, peer); err != nil {
				s.log.Error("notify edge", logger.KeyID(node.ID()), logger.PeerID(peer.ID()), logger.Err(err))
				continue
			}
			s.log.Debug("edge checked", logger.KeyID(node.ID()), logger.PeerID(peer.ID()), zap.Bool("valid", ok))
		}
	}
}

// settle cierra los nodos en VALIDATE_LINK cuyo vecindario ya no tiene
// aristas pendientes de verificar.
func (s *Session) settle() {
	for _, node := range s.graph.Nodes() {
		if node.State() != trustgraph.StateValidateLink {
			continue
		}
		if s.hasPendingLinks(node) {
			continue
		}
		s.transition(node, func() { node.ToConnect().ToSuccess() })
	}
}

func (s *Session) hasPendingLinks(node *trustgraph.Status) bool {
	for _, e := range node.Mutual() {
		peer, ok := s.graph.Node(e.PeerID)
		if !ok {
			continue
		}
		if peer.State() == trustgraph.StateFetch && s.depth[peer.ID()] <= s.r.opts.MaxDepth {
			return true
		}
	}
	return false
}

// transition ejecuta fn y registra el cambio de estado si lo hubo.
func (s *Session) transition(node *trustgraph.Status, fn func()) {
	before := node.State()
	fn()
	after := node.State()
	if before == after {
		return
	}
	metrics.NodeTransitions.WithLabelValues(after.String()).Inc()
	s.log.Debug("transition", logger.KeyID(node.ID()), zap.Stringer("from", before), logger.State(after))
}

// Status devuelve el estado de keyID en la sesión.
func (s *Session) Status(keyID string) (KeyStatus, bool) {
	node, ok := s.graph.Node(keyID)
	if !ok {
		return KeyStatus{}, false
	}
	ks := KeyStatus{
		KeyID:   keyID,
		State:   node.State(),
		Retries: node.Retries(),
		Mutual:  node.Mutual(),
		Outcome: outcomeOf(node.State()),
	}
	if k, ok := node.Key(); ok {
		ks.OwnerID = k.OwnerID
	}
	return ks, true
}

// Path resuelve pivot, from y to y busca la ruta from -> to usando pivot.
func (s *Session) Path(ctx context.Context, pivotID, fromID, toID string) (Verdict, error) {
	start := time.Now()
	v, err := s.path(ctx, pivotID, fromID, toID)
	if err != nil {
		return Verdict{}, err
	}
	metrics.ResolveDuration.WithLabelValues(string(v.Outcome)).Observe(time.Since(start).Seconds())
	s.log.Info("trust query",
		zap.String("pivot", pivotID), zap.String("from", fromID), zap.String("to", toID),
		logger.Outcome(string(v.Outcome)), logger.Route(v.Path), logger.Duration(time.Since(start)))
	return v, nil
}

func (s *Session) path(ctx context.Context, pivotID, fromID, toID string) (Verdict, error) {
	if pivotID == "" || fromID == "" || toID == "" {
		return Verdict{}, fmt.Errorf("resolver: pivot, from and to are required")
	}
	if err := s.Resolve(ctx, pivotID, fromID, toID); err != nil {
		return Verdict{}, err
	}

	nodes := make([]*trustgraph.Status, 0, 3)
	for _, id := range []string{pivotID, fromID, toID} {
		n, _ := s.graph.Node(id)
		if n.State().Failed() {
			return Verdict{
				Outcome: outcomeOf(n.State()),
				Reason:  fmt.Sprintf("key %s: %s", id, n.State()),
			}, nil
		}
		nodes = append(nodes, n)
	}

	route, err := nodes[0].Connects(nodes[1], nodes[2])
	if err == nil {
		return Verdict{Outcome: OutcomeTrusted, Path: route}, nil
	}
	if !errors.Is(err, trustgraph.ErrPathNotFound) {
		return Verdict{}, err
	}
	if s.incomplete() {
		return Verdict{Outcome: OutcomeUnknown, Reason: "search incomplete: " + err.Error()}, nil
	}
	return Verdict{Outcome: OutcomeNotTrusted, Reason: err.Error()}, nil
}

// incomplete reporta si quedaron nodos sin resolver: fuera de profundidad o
// con las descargas agotadas.
func (s *Session) incomplete() bool {
	for _, n := range s.graph.Nodes() {
		if st := n.State(); !st.IsTerminal() || st == trustgraph.StateRetryFail {
			return true
		}
	}
	return false
}

func neighborIDs(k *trust.Key) []string {
	seen := map[string]struct{}{k.KeyID: {}}
	var out []string
	for _, id := range k.SignerKeyIDs() {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range k.Trust.TrustedKeyIDs() {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
