package trustgraph

import "sort"

// DefaultRetries es el presupuesto de reintentos de descarga por nodo.
const DefaultRetries = 3

// Graph es la arena de nodos de una sesión de resolución.
type Graph struct {
	retries int
	nodes   map[string]*Status
	order   []string

	// epoch cambia con cada alta o cambio de validez de una arista.
	epoch uint64
}

// Option configura un Graph.
type Option func(*Graph)

// WithRetries cambia el presupuesto de reintentos de los nodos nuevos.
// Valores negativos se tratan como 0.
func WithRetries(n int) Option {
	return func(g *Graph) {
		if n < 0 {
			n = 0
		}
		g.retries = n
	}
}

// New crea un grafo vacío.
func New(opts ...Option) *Graph {
	g := &Graph{retries: DefaultRetries, nodes: make(map[string]*Status)}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Add devuelve el nodo de ref.ID(), creándolo en FETCH si no existe.
// Un nodo existente no se modifica.
func (g *Graph) Add(ref KeyRef) *Status {
	if s, ok := g.nodes[ref.ID()]; ok {
		return s
	}
	s := &Status{
		g:       g,
		ref:     ref,
		state:   StateFetch,
		retries: g.retries,
		mutual:  make(map[string]*edge),
		paths:   make(map[string][]string),
		misses:  make(map[string]struct{}),
		routes:  make(map[string][]string),
	}
	g.nodes[ref.ID()] = s
	g.order = append(g.order, ref.ID())
	return s
}

// Node busca un nodo por key ID.
func (g *Graph) Node(id string) (*Status, bool) {
	s, ok := g.nodes[id]
	return s, ok
}

// Nodes devuelve los nodos en orden de alta.
func (g *Graph) Nodes() []*Status {
	out := make([]*Status, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len devuelve la cantidad de nodos.
func (g *Graph) Len() int { return len(g.nodes) }

// NodeSnapshot es la foto serializable de un nodo, para debug.
type NodeSnapshot struct {
	KeyID    string              `json:"keyID"`
	Resolved bool                `json:"resolved"`
	State    State               `json:"state"`
	Retries  int                 `json:"retries"`
	Mutual   []Edge              `json:"mutual,omitempty"`
	Paths    map[string][]string `json:"paths,omitempty"`
}

// Snapshot devuelve el estado de todos los nodos ordenado por key ID.
func (g *Graph) Snapshot() []NodeSnapshot {
	out := make([]NodeSnapshot, 0, len(g.nodes))
	for _, s := range g.nodes {
		ns := NodeSnapshot{
			KeyID:    s.ID(),
			Resolved: s.ref.IsResolved(),
			State:    s.state,
			Retries:  s.retries,
			Mutual:   s.Mutual(),
		}
		if len(s.paths) > 0 && s.memoEpoch == g.epoch {
			ns.Paths = make(map[string][]string, len(s.paths))
			for k, p := range s.paths {
				ns.Paths[k] = clonePath(p)
			}
		}
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}
