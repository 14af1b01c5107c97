package trust

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/keytrust/internal/signature"
)

// Key es un registro de clave pública ya descargado.
// No se muta después de construida; Refresh devuelve una nueva.
type Key struct {
	OrgID      string
	OwnerID    string
	KeyID      string
	PublicKey  string // PEM
	Expiration int64  // epoch millis
	Signatures map[string]*KeySignature
	Trust      *KeyTrust
}

// NewKey construye una Key. Falla con un FieldError por el primer campo requerido ausente.
func NewKey(orgID, ownerID, keyID, publicKeyPEM string, expiration int64, signatures map[string]SignatureEntry, trust TrustBlock) (*Key, error) {
	sigs, err := processSignatures(orgID, signatures)
	if err != nil {
		return nil, err
	}
	switch {
	case orgID == "":
		return nil, invalid(FieldOrganization)
	case ownerID == "":
		return nil, invalid(FieldOwner)
	case publicKeyPEM == "" || keyID == "":
		return nil, invalid(FieldKeyMaterial)
	}
	return &Key{
		OrgID:      orgID,
		OwnerID:    ownerID,
		KeyID:      keyID,
		PublicKey:  publicKeyPEM,
		Expiration: expiration,
		Signatures: sigs,
		Trust:      NewKeyTrust(trust, ownerID, keyID),
	}, nil
}

// FromRecord hidrata una Key desde el registro crudo del store.
func FromRecord(orgID, keyID string, rec *Record) (*Key, error) {
	if rec == nil {
		return nil, invalid(FieldKeyMaterial)
	}
	return NewKey(orgID, rec.OwnerID, keyID, rec.PublicKey, rec.Expiration, rec.Signatures, rec.Trust)
}

func processSignatures(orgID string, entries map[string]SignatureEntry) (map[string]*KeySignature, error) {
	out := make(map[string]*KeySignature, len(entries))
	for signingKeyID, e := range entries {
		s, err := NewKeySignature(e.Sig, orgID, e.SignerID, signingKeyID, e.Timestamp)
		if err != nil {
			return nil, err
		}
		out[signingKeyID] = s
	}
	return out, nil
}

// Record devuelve la forma almacenable de la clave.
func (k *Key) Record() *Record {
	rec := &Record{
		PublicKey:  k.PublicKey,
		OwnerID:    k.OwnerID,
		Expiration: k.Expiration,
		Signatures: make(map[string]SignatureEntry, len(k.Signatures)),
		Trust:      k.Trust.Block(),
	}
	for id, s := range k.Signatures {
		rec.Signatures[id] = s.Entry()
	}
	return rec
}

// Signature devuelve la firma emitida por signingKeyID sobre esta clave.
func (k *Key) Signature(signingKeyID string) (*KeySignature, bool) {
	s, ok := k.Signatures[signingKeyID]
	return s, ok
}

// SignerKeyIDs devuelve los signingKeyIDs que firmaron esta clave, ordenados.
func (k *Key) SignerKeyIDs() []string {
	ids := make([]string, 0, len(k.Signatures))
	for id := range k.Signatures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FormatForVerify reconstruye el payload que firmó parent sobre esta clave.
// Sin parent devuelve un payload vacío. Si parent nunca firmó, sig y
// lastModified quedan ausentes y la verificación falla.
func (k *Key) FormatForVerify(parent *Key) signature.Payload {
	if parent == nil {
		return signature.Payload{}
	}
	p := signature.Payload{
		"keyID":                      k.KeyID,
		"publicKey":                  k.PublicKey,
		"expiration":                 k.Expiration,
		"ownerID":                    k.OwnerID,
		signature.FieldSigningKeyID: parent.KeyID,
		signature.FieldSignerID:     parent.OwnerID,
	}
	if s, ok := k.Signatures[parent.KeyID]; ok {
		p[signature.FieldLastModified] = s.Timestamp
		p[signature.FieldSig] = s.Signature
	}
	return p
}

// FormatForVerifySelf es FormatForVerify(k): la auto-firma de la clave.
func (k *Key) FormatForVerifySelf() signature.Payload {
	return k.FormatForVerify(k)
}

// FormatForSign devuelve el payload canónico que signer debe firmar para
// atestar esta clave. El Signer agrega los campos del firmante.
func (k *Key) FormatForSign(signer *Key) signature.Payload {
	return signature.Payload{
		"keyID":      k.KeyID,
		"publicKey":  k.PublicKey,
		"ownerID":    k.OwnerID,
		"expiration": k.Expiration,
	}
}

// FormatSignedKey convierte un payload firmado en el fragmento a persistir:
// {keyID}/signatures/{signingKeyID} -> {signerID, timestamp, sig}.
func FormatSignedKey(signed signature.Payload) map[string]SignatureEntry {
	path := SignaturePath(signed.String("keyID"), signed.String(signature.FieldSigningKeyID))
	return map[string]SignatureEntry{
		path: {
			SignerID:  signed.String(signature.FieldSignerID),
			Timestamp: signed.Int64(signature.FieldLastModified),
			Sig:       signed.String(signature.FieldSig),
		},
	}
}

// SignaturePath arma la ruta de una firma dentro del store.
func SignaturePath(keyID, signingKeyID string) string {
	return keyID + "/signatures/" + signingKeyID
}

// ParseSignaturePath es la inversa de SignaturePath.
func ParseSignaturePath(path string) (keyID, signingKeyID string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[1] != "signatures" || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("trust: bad signature path %q", path)
	}
	return parts[0], parts[2], nil
}

// FormatTrustForSign fusiona chain en el set de entidades actual: cada
// eslabón recibe trustLevel = posición (1-based) y una cadena con esta clave
// seguida de los eslabones previos.
func (k *Key) FormatTrustForSign(chain []*Key) map[string]TrustEntity {
	out := make(map[string]TrustEntity, len(k.Trust.Entities)+len(chain))
	for id, e := range k.Trust.Block().Entities {
		out[id] = e
	}
	for i, link := range chain {
		if link == nil {
			continue
		}
		c := make(Chain, 0, i+1)
		c = append(c, k.KeyID)
		for _, prev := range chain[:i] {
			if prev != nil {
				c = append(c, prev.KeyID)
			}
		}
		out[link.KeyID] = TrustEntity{
			TrustedUserID: link.OwnerID,
			TrustLevel:    i + 1,
			Chain:         c,
		}
	}
	return out
}

// FormatSignedTrust convierte un payload de confianza firmado en el bloque a
// persistir. signerID no se guarda: es el dueño de la clave.
func FormatSignedTrust(signed signature.Payload) (TrustBlock, error) {
	b := TrustBlock{
		Entities:     make(map[string]TrustEntity),
		Sig:          signed.String(signature.FieldSig),
		LastModified: signed.Int64(signature.FieldLastModified),
	}
	for id, v := range signed {
		switch id {
		case signature.FieldSig, signature.FieldLastModified, signature.FieldSignerID, signature.FieldSigningKeyID:
			continue
		}
		e, err := entityFromPayload(v)
		if err != nil {
			return TrustBlock{}, fmt.Errorf("trust: entity %q: %w", id, err)
		}
		b.Entities[id] = e
	}
	return b, nil
}

func entityFromPayload(v any) (TrustEntity, error) {
	var m map[string]any
	switch t := v.(type) {
	case map[string]any:
		m = t
	case signature.Payload:
		m = t
	default:
		return TrustEntity{}, fmt.Errorf("unexpected %T", v)
	}
	p := signature.Payload(m)
	e := TrustEntity{
		TrustedUserID: p.String("trustedUserID"),
		TrustLevel:    int(p.Int64("trustLevel")),
	}
	switch c := m["chain"].(type) {
	case nil:
	case []string:
		e.Chain = append(Chain(nil), c...)
	case map[string]any:
		obj := make(map[string]string, len(c))
		for k, v := range c {
			s, ok := v.(string)
			if !ok {
				return TrustEntity{}, fmt.Errorf("chain[%s] is %T", k, v)
			}
			obj[k] = s
		}
		chain, err := chainFromIndexed(obj)
		if err != nil {
			return TrustEntity{}, err
		}
		e.Chain = chain
	default:
		return TrustEntity{}, fmt.Errorf("chain is %T", c)
	}
	return e, nil
}

// IsEqual compara por auto-firma y firma del bloque de confianza. Sin
// alguna de las dos las claves no son comparables y se consideran distintas.
func (k *Key) IsEqual(other *Key) bool {
	if k == nil || other == nil {
		return false
	}
	mine, ok1 := k.Signatures[k.KeyID]
	theirs, ok2 := other.Signatures[other.KeyID]
	if !ok1 || !ok2 || mine.Signature != theirs.Signature {
		return false
	}
	if k.Trust == nil || other.Trust == nil || k.Trust.Signature == "" || other.Trust.Signature == "" {
		return false
	}
	return k.Trust.Signature == other.Trust.Signature
}

// IsActive es ActiveAt(time.Now()).
func (k *Key) IsActive() bool {
	return k.ActiveAt(time.Now())
}

// ActiveAt reporta si la clave tiene expiración y no pasó en t.
func (k *Key) ActiveAt(t time.Time) bool {
	return k.Expiration != 0 && k.Expiration >= t.UnixMilli()
}

// ExpiresAt devuelve la expiración como time.Time (zero si no hay).
func (k *Key) ExpiresAt() time.Time {
	if k.Expiration == 0 {
		return time.Time{}
	}
	return time.UnixMilli(k.Expiration)
}

// Refresh vuelve a descargar el registro y devuelve una Key nueva.
func (k *Key) Refresh(ctx context.Context, f Fetcher) (*Key, error) {
	rec, err := f.Fetch(ctx, k.OrgID, k.KeyID)
	if err != nil {
		return nil, fmt.Errorf("trust: refresh %s: %w", k.KeyID, err)
	}
	return FromRecord(k.OrgID, k.KeyID, rec)
}
