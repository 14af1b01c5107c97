package trust

import (
	"sort"

	"github.com/dropDatabas3/keytrust/internal/signature"
)

// KeyTrust agrupa las declaraciones de confianza emitidas por el dueño de una clave.
type KeyTrust struct {
	Entities     map[string]TrustEntity
	SignerID     string
	SigningKeyID string
	Signature    string
	LastModified int64
}

// NewKeyTrust hidrata el bloque de confianza de la clave keyID (dueño ownerID).
func NewKeyTrust(block TrustBlock, ownerID, keyID string) *KeyTrust {
	b := block.Clone()
	if b.Entities == nil {
		b.Entities = map[string]TrustEntity{}
	}
	return &KeyTrust{
		Entities:     b.Entities,
		SignerID:     ownerID,
		SigningKeyID: keyID,
		Signature:    b.Sig,
		LastModified: b.LastModified,
	}
}

// TrustedKeyIDs lista las claves confiadas por trustLevel ascendente.
// Empates por key ID para que el orden sea estable.
func (t *KeyTrust) TrustedKeyIDs() []string {
	ids := make([]string, 0, len(t.Entities))
	for id := range t.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		li, lj := t.Entities[ids[i]].TrustLevel, t.Entities[ids[j]].TrustLevel
		if li != lj {
			return li < lj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ParentLinkID devuelve el eslabón que precede a trusteeID en su cadena
// (chain[trustLevel-1]). false si no hay entidad o la cadena no llega.
func (t *KeyTrust) ParentLinkID(trusteeID string) (string, bool) {
	e, ok := t.Entities[trusteeID]
	if !ok {
		return "", false
	}
	i := e.TrustLevel - 1
	if i < 0 || i >= len(e.Chain) {
		return "", false
	}
	return e.Chain[i], true
}

// Block devuelve la forma almacenable.
func (t *KeyTrust) Block() TrustBlock {
	return TrustBlock{Entities: t.Entities, Sig: t.Signature, LastModified: t.LastModified}.Clone()
}

// FormatForVerify reconstruye el payload que firmó el dueño: las entidades
// (cadenas como objetos indexados) más signerID, signingKeyID, sig y lastModified.
func (t *KeyTrust) FormatForVerify() signature.Payload {
	p := EntitiesPayload(t.Entities)
	p[signature.FieldSignerID] = t.SignerID
	p[signature.FieldSigningKeyID] = t.SigningKeyID
	if t.Signature != "" {
		p[signature.FieldSig] = t.Signature
	}
	if t.LastModified != 0 {
		p[signature.FieldLastModified] = t.LastModified
	}
	return p
}

// EntitiesPayload convierte un set de entidades al payload a firmar.
func EntitiesPayload(entities map[string]TrustEntity) signature.Payload {
	p := make(signature.Payload, len(entities)+4)
	for id, e := range entities {
		ep := map[string]any{
			"trustedUserID": e.TrustedUserID,
			"trustLevel":    e.TrustLevel,
		}
		if len(e.Chain) > 0 {
			ep["chain"] = []string(e.Chain)
		}
		p[id] = ep
	}
	return p
}
