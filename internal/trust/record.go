package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/keytrust/internal/signature"
)

// Fetcher lee un registro de clave del store remoto.
type Fetcher interface {
	Fetch(ctx context.Context, orgID, keyID string) (*Record, error)
}

// Record es el registro crudo tal como lo guarda el store en
// /orgs/{orgID}/keys/{keyID}.
type Record struct {
	PublicKey  string                    `json:"publicKey" yaml:"publicKey" validate:"required"`
	OwnerID    string                    `json:"ownerID" yaml:"ownerID" validate:"required"`
	Expiration int64                     `json:"expiration" yaml:"expiration" validate:"gt=0"` // epoch millis
	Signatures map[string]SignatureEntry `json:"signatures,omitempty" yaml:"signatures,omitempty" validate:"omitempty,dive"`
	Trust      TrustBlock                `json:"trust" yaml:"trust"`
}

// SignatureEntry es una firma guardada en {keyID}/signatures/{signingKeyID}.
type SignatureEntry struct {
	SignerID  string `json:"signerID" yaml:"signerID" validate:"required"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp" validate:"gt=0"`
	Sig       string `json:"sig" yaml:"sig" validate:"required,base64"`
}

// TrustEntity es una declaración de confianza sobre otra clave.
type TrustEntity struct {
	TrustedUserID string `json:"trustedUserID" yaml:"trustedUserID" validate:"required"`
	TrustLevel    int    `json:"trustLevel" yaml:"trustLevel" validate:"gte=1"`
	Chain         Chain  `json:"chain,omitempty" yaml:"chain,omitempty"`
}

// Chain es la secuencia de key IDs desde la clave emisora hasta el eslabón
// previo al confiado. En el store se guarda como objeto indexado.
type Chain []string

// UnmarshalJSON acepta tanto arrays como objetos {"0": "...", "1": "..."}.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*c = arr
		return nil
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("trust: chain: %w", err)
	}
	out, err := chainFromIndexed(obj)
	if err != nil {
		return err
	}
	*c = out
	return nil
}

// UnmarshalYAML acepta secuencias y mapas indexados.
func (c *Chain) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var arr []string
		if err := n.Decode(&arr); err != nil {
			return err
		}
		*c = arr
		return nil
	}
	var obj map[string]string
	if err := n.Decode(&obj); err != nil {
		return fmt.Errorf("trust: chain: %w", err)
	}
	out, err := chainFromIndexed(obj)
	if err != nil {
		return err
	}
	*c = out
	return nil
}

func chainFromIndexed(obj map[string]string) (Chain, error) {
	out := make(Chain, len(obj))
	for k, v := range obj {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(obj) {
			return nil, fmt.Errorf("trust: chain: bad index %q", k)
		}
		out[i] = v
	}
	return out, nil
}

// TrustBlock son las declaraciones emitidas por una clave más la firma que las cubre.
// En JSON/YAML es plano: las entidades conviven con "sig" y "lastModified".
type TrustBlock struct {
	Entities     map[string]TrustEntity `validate:"omitempty,dive"`
	Sig          string
	LastModified int64
}

func (b TrustBlock) flat() map[string]any {
	m := make(map[string]any, len(b.Entities)+2)
	for id, e := range b.Entities {
		m[id] = e
	}
	if b.Sig != "" {
		m[signature.FieldSig] = b.Sig
	}
	if b.LastModified != 0 {
		m[signature.FieldLastModified] = b.LastModified
	}
	return m
}

// MarshalJSON implementa json.Marshaler.
func (b TrustBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.flat())
}

// UnmarshalJSON implementa json.Unmarshaler.
func (b *TrustBlock) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("trust: trust block: %w", err)
	}
	*b = TrustBlock{Entities: make(map[string]TrustEntity, len(raw))}
	for k, v := range raw {
		var err error
		switch k {
		case signature.FieldSig:
			err = json.Unmarshal(v, &b.Sig)
		case signature.FieldLastModified:
			err = json.Unmarshal(v, &b.LastModified)
		case signature.FieldSignerID, signature.FieldSigningKeyID:
			// metadata del firmante, derivable de la clave dueña
		default:
			var e TrustEntity
			err = json.Unmarshal(v, &e)
			b.Entities[k] = e
		}
		if err != nil {
			return fmt.Errorf("trust: trust block %q: %w", k, err)
		}
	}
	if len(b.Entities) == 0 {
		b.Entities = nil
	}
	return nil
}

// MarshalYAML implementa yaml.Marshaler.
func (b TrustBlock) MarshalYAML() (any, error) {
	return b.flat(), nil
}

// UnmarshalYAML implementa yaml.Unmarshaler.
func (b *TrustBlock) UnmarshalYAML(n *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := n.Decode(&raw); err != nil {
		return fmt.Errorf("trust: trust block: %w", err)
	}
	*b = TrustBlock{Entities: make(map[string]TrustEntity, len(raw))}
	for k, v := range raw {
		var err error
		switch k {
		case signature.FieldSig:
			err = v.Decode(&b.Sig)
		case signature.FieldLastModified:
			err = v.Decode(&b.LastModified)
		case signature.FieldSignerID, signature.FieldSigningKeyID:
		default:
			var e TrustEntity
			err = v.Decode(&e)
			b.Entities[k] = e
		}
		if err != nil {
			return fmt.Errorf("trust: trust block %q: %w", k, err)
		}
	}
	if len(b.Entities) == 0 {
		b.Entities = nil
	}
	return nil
}

// Clone devuelve una copia profunda del registro.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Signatures != nil {
		out.Signatures = make(map[string]SignatureEntry, len(r.Signatures))
		for k, v := range r.Signatures {
			out.Signatures[k] = v
		}
	}
	out.Trust = r.Trust.Clone()
	return &out
}

// Clone devuelve una copia profunda del bloque.
func (b TrustBlock) Clone() TrustBlock {
	out := b
	if b.Entities != nil {
		out.Entities = make(map[string]TrustEntity, len(b.Entities))
		for k, e := range b.Entities {
			e.Chain = append(Chain(nil), e.Chain...)
			out.Entities[k] = e
		}
	}
	return out
}
