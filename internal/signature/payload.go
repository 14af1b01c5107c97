package signature

import (
	"encoding/json"
	"strconv"
)

// Campos que agrega el firmante a un payload.
const (
	FieldSig          = "sig"
	FieldLastModified = "lastModified"
	FieldSignerID     = "signerID"
	FieldSigningKeyID = "signingKeyID"
)

// Payload es un registro tal como se firma: objeto plano o anidado.
// Valores soportados: string, enteros, float, bool, nil, Payload,
// map[string]any y []string.
type Payload map[string]any

// Clone devuelve una copia profunda (maps y slices incluidos).
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Payload:
		return t.Clone()
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String devuelve el valor string de key, o "" si no existe o no es string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int64 devuelve el valor numérico de key como int64.
// Tolera float64 y json.Number (payloads que pasaron por JSON).
func (p Payload) Int64(key string) int64 {
	n, _ := AsInt64(p[key])
	return n
}

// AsInt64 convierte un valor numérico arbitrario a int64.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case float32:
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
