package trustgraph

import "github.com/dropDatabas3/keytrust/internal/trust"

// KeyRef es la clave de un nodo: sólo un ID mientras no se descargó,
// o la Key completa una vez resuelta.
type KeyRef struct {
	id  string
	key *trust.Key
}

// Unresolved referencia una clave todavía no descargada.
func Unresolved(id string) KeyRef { return KeyRef{id: id} }

// Resolved referencia una clave ya descargada.
func Resolved(k *trust.Key) KeyRef { return KeyRef{id: k.KeyID, key: k} }

// ID devuelve el key ID en ambos casos.
func (r KeyRef) ID() string { return r.id }

// Key devuelve la clave resuelta, si la hay.
func (r KeyRef) Key() (*trust.Key, bool) { return r.key, r.key != nil }

// IsResolved reporta si la referencia tiene la clave completa.
func (r KeyRef) IsResolved() bool { return r.key != nil }
