package trustgraph

import (
	"fmt"
	"sort"

	"github.com/dropDatabas3/keytrust/internal/trust"
)

// Edge es una arista mutua vista desde un nodo.
type Edge struct {
	PeerID string `json:"peerID"`
	Valid  bool   `json:"valid"`
}

type edge struct {
	valid bool
}

// Status es el nodo de resolución de una clave.
//
// Todas las transiciones To* son no-ops si el estado actual no es
// exactamente la precondición documentada; devuelven el mismo nodo para
// poder re-invocarlas sin chequear antes.
type Status struct {
	g       *Graph
	ref     KeyRef
	state   State
	retries int
	mutual  map[string]*edge

	// paths y misses memoizan LinksTo sin restricciones: target -> [target, ..., este nodo]
	// o target inalcanzable. Válidas mientras memoEpoch == g.epoch.
	paths     map[string][]string
	misses    map[string]struct{}
	memoEpoch uint64
	// routes guarda los resultados de Connects: extremo -> ruta desde ese extremo.
	routes map[string][]string
}

// ID devuelve el key ID del nodo.
func (s *Status) ID() string { return s.ref.ID() }

// Ref devuelve la referencia a la clave.
func (s *Status) Ref() KeyRef { return s.ref }

// Key devuelve la clave si ya fue resuelta.
func (s *Status) Key() (*trust.Key, bool) { return s.ref.Key() }

// State devuelve el estado actual.
func (s *Status) State() State { return s.state }

// Retries devuelve los reintentos de descarga restantes.
func (s *Status) Retries() int { return s.retries }

// ToRetry sólo actúa en FETCH. Con reintentos disponibles descuenta uno y
// llama onRetry con los restantes (el estado sigue en FETCH); sin reintentos
// pasa a RETRY_FAIL y llama onExhausted. Los callbacks pueden ser nil.
func (s *Status) ToRetry(onRetry func(remaining int), onExhausted func()) *Status {
	if s.state != StateFetch {
		return s
	}
	if s.retries > 0 {
		s.retries--
		if onRetry != nil {
			onRetry(s.retries)
		}
		return s
	}
	s.state = StateRetryFail
	if onExhausted != nil {
		onExhausted()
	}
	return s
}

// ToValidate pasa FETCH -> VALIDATE. Si k no es nil y su ID coincide con el
// del nodo, reemplaza la referencia por la clave resuelta.
func (s *Status) ToValidate(k *trust.Key) *Status {
	if s.state != StateFetch {
		return s
	}
	if k != nil && k.KeyID == s.ID() {
		s.ref = Resolved(k)
	}
	s.state = StateValidate
	return s
}

// ToValidateFail pasa VALIDATE -> VALIDATE_FAIL.
func (s *Status) ToValidateFail() *Status {
	if s.state == StateValidate {
		s.state = StateValidateFail
	}
	return s
}

// ToCompare pasa VALIDATE -> COMPARE.
func (s *Status) ToCompare() *Status {
	if s.state == StateValidate {
		s.state = StateCompare
	}
	return s
}

// ToValidateLink pasa COMPARE -> VALIDATE_LINK y registra una arista mutua
// (todavía no válida) con peer en ambos lados si no existía. Un nodo que ya
// está en el grafo (VALIDATE_LINK, CONNECT, SUCCESS) sólo registra la arista.
// peer nil, el mismo nodo o un nodo de otro grafo no registran nada.
func (s *Status) ToValidateLink(peer *Status) *Status {
	if s.state == StateCompare {
		s.state = StateValidateLink
	}
	if !s.state.InGraph() || peer == nil || peer == s || peer.g != s.g {
		return s
	}
	if _, ok := s.mutual[peer.ID()]; !ok {
		s.mutual[peer.ID()] = &edge{}
		s.g.epoch++
	}
	if _, ok := peer.mutual[s.ID()]; !ok {
		peer.mutual[s.ID()] = &edge{}
		s.g.epoch++
	}
	return s
}

// ToConnect pasa VALIDATE_LINK -> CONNECT.
func (s *Status) ToConnect() *Status {
	if s.state == StateValidateLink {
		s.state = StateConnect
	}
	return s
}

// ToSuccess pasa CONNECT -> SUCCESS.
func (s *Status) ToSuccess() *Status {
	if s.state == StateConnect {
		s.state = StateSuccess
	}
	return s
}

// NotifyValidStatus marca la arista con peer como válida o inválida en
// ambos lados. Devuelve ErrNoEdge si la arista no está registrada.
func (s *Status) NotifyValidStatus(valid bool, peer *Status) error {
	if peer == nil {
		return ErrNoEdge
	}
	if peer.g != s.g {
		return ErrForeignNode
	}
	mine, ok1 := s.mutual[peer.ID()]
	theirs, ok2 := peer.mutual[s.ID()]
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: %s <-> %s", ErrNoEdge, s.ID(), peer.ID())
	}
	if mine.valid != valid || theirs.valid != valid {
		s.g.epoch++
	}
	mine.valid = valid
	theirs.valid = valid
	return nil
}

// LinksToValidate devuelve los vecinos cuya arista todavía no es válida,
// ya están resueltos y firmaron la clave de este nodo: las aristas para las
// que hay material suficiente para verificar. Ordenados por key ID.
func (s *Status) LinksToValidate() []*Status {
	k, ok := s.Key()
	if !ok {
		return nil
	}
	var out []*Status
	for _, id := range s.peerIDs() {
		if s.mutual[id].valid {
			continue
		}
		peer, ok := s.g.nodes[id]
		if !ok || !peer.ref.IsResolved() {
			continue
		}
		if _, signed := k.Signatures[id]; !signed {
			continue
		}
		out = append(out, peer)
	}
	return out
}

// Mutual devuelve las aristas del nodo ordenadas por key ID del vecino.
func (s *Status) Mutual() []Edge {
	ids := s.peerIDs()
	out := make([]Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, Edge{PeerID: id, Valid: s.mutual[id].valid})
	}
	return out
}

// Edge devuelve la arista con peerID.
func (s *Status) Edge(peerID string) (Edge, bool) {
	e, ok := s.mutual[peerID]
	if !ok {
		return Edge{}, false
	}
	return Edge{PeerID: peerID, Valid: e.valid}, true
}

func (s *Status) peerIDs() []string {
	ids := make([]string, 0, len(s.mutual))
	for id := range s.mutual {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
