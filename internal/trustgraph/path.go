package trustgraph

import "fmt"

// Visited es el conjunto de key IDs ya recorridos por la búsqueda en curso.
type Visited map[string]struct{}

// LinksTo busca el camino más corto de este nodo a target recorriendo sólo
// aristas válidas y sin pasar por nodos de visited. El resultado va de
// target a este nodo: [target, ..., s.ID()]. nil si no hay camino.
//
// Es un BFS con vecinos en orden de key ID: entre caminos de igual largo gana
// el menor lexicográficamente desde este nodo. Con visited vacío se memoizan
// aciertos y fallos; cualquier cambio de aristas en el grafo invalida la memo.
func (s *Status) LinksTo(target *Status, visited Visited) []string {
	if target == nil || target.g != s.g {
		return nil
	}
	if target == s {
		return []string{s.ID()}
	}
	s.syncMemo()
	if p, ok := s.paths[target.ID()]; ok && !crosses(p[:len(p)-1], visited) {
		return clonePath(p)
	}
	if _, miss := s.misses[target.ID()]; miss {
		return nil
	}
	if len(visited) > 0 {
		if _, blocked := visited[target.ID()]; blocked {
			return nil
		}
	}

	parent := map[string]string{s.ID(): ""}
	queue := []*Status{s}
	found := false
	for len(queue) > 0 && !found {
		cur := queue[0]
		queue = queue[1:]
		for _, id := range cur.peerIDs() {
			if !cur.mutual[id].valid {
				continue
			}
			if _, seen := parent[id]; seen {
				continue
			}
			if _, skip := visited[id]; skip {
				continue
			}
			peer, ok := s.g.nodes[id]
			if !ok {
				continue
			}
			parent[id] = cur.ID()
			if peer == target {
				found = true
				break
			}
			queue = append(queue, peer)
		}
	}

	if !found {
		if len(visited) == 0 {
			s.misses[target.ID()] = struct{}{}
		}
		return nil
	}
	var path []string
	for id := target.ID(); id != ""; id = parent[id] {
		path = append(path, id)
	}
	if len(visited) == 0 {
		s.paths[target.ID()] = path
	}
	return clonePath(path)
}

// syncMemo descarta la memo de LinksTo si el grafo cambió desde que se armó.
func (s *Status) syncMemo() {
	if s.memoEpoch == s.g.epoch {
		return
	}
	s.paths = make(map[string][]string)
	s.misses = make(map[string]struct{})
	s.memoEpoch = s.g.epoch
}

// Connects resuelve una ruta start -> end usando este nodo como pivote.
// La ruta queda guardada en Route(start.ID()) y su inversa en Route(end.ID()).
func (s *Status) Connects(start, end *Status) ([]string, error) {
	if start == nil || end == nil {
		return nil, ErrPathNotFound
	}
	if start.g != s.g || end.g != s.g {
		return nil, ErrForeignNode
	}

	toStart := s.LinksTo(start, nil)
	toEnd := s.LinksTo(end, nil)

	var route []string
	switch {
	case len(toStart) > 0 && len(toEnd) > 0 && last(toStart) == s.ID() && last(toEnd) == s.ID():
		// pivote entre ambos extremos (o igual a uno de ellos)
		route = append(clonePath(toStart), reversed(toEnd[:len(toEnd)-1])...)
	case len(toStart) > 0 && toStart[0] == start.ID() && last(toStart) == end.ID():
		route = toStart
	case len(toEnd) > 0 && toEnd[0] == end.ID() && last(toEnd) == start.ID():
		route = reversed(toEnd)
	default:
		return nil, fmt.Errorf("%w: %s -> %s via %s", ErrPathNotFound, start.ID(), end.ID(), s.ID())
	}

	s.routes[start.ID()] = clonePath(route)
	s.routes[end.ID()] = reversed(route)
	return clonePath(route), nil
}

// CachedPath devuelve el camino memoizado por LinksTo hacia targetID.
func (s *Status) CachedPath(targetID string) ([]string, bool) {
	s.syncMemo()
	p, ok := s.paths[targetID]
	return clonePath(p), ok
}

// Route devuelve la ruta guardada por Connects que empieza en endpointID.
func (s *Status) Route(endpointID string) ([]string, bool) {
	p, ok := s.routes[endpointID]
	return clonePath(p), ok
}

func crosses(path []string, visited Visited) bool {
	for _, id := range path {
		if _, ok := visited[id]; ok {
			return true
		}
	}
	return false
}

func last(p []string) string { return p[len(p)-1] }

func clonePath(p []string) []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p...)
}

func reversed(p []string) []string {
	out := make([]string, len(p))
	for i, id := range p {
		out[len(p)-1-i] = id
	}
	return out
}
