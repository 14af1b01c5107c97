package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path crea un campo para el path del request.
func Path(v string) zap.Field { return zap.String("path", v) }

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ─── Dominio ───

// OrgID crea un campo para la organización.
func OrgID(v string) zap.Field { return zap.String("org_id", v) }

// KeyID crea un campo para la clave en proceso.
func KeyID(v string) zap.Field { return zap.String("key_id", v) }

// PeerID crea un campo para el vecino de una arista mutua.
func PeerID(v string) zap.Field { return zap.String("peer_id", v) }

// OwnerID crea un campo para el dueño de una clave.
func OwnerID(v string) zap.Field { return zap.String("owner_id", v) }

// SessionID crea un campo para la sesión de resolución.
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// State crea un campo con el estado de resolución (cualquier fmt.Stringer).
func State(v interface{ String() string }) zap.Field { return zap.Stringer("state", v) }

// Attempt crea un campo para el número de intento.
func Attempt(v int) zap.Field { return zap.Int("attempt", v) }

// Route crea un campo con una ruta de key IDs.
func Route(v []string) zap.Field { return zap.Strings("route", v) }

// Outcome crea un campo para el veredicto de una consulta.
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// ─── Sistema ───

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Driver crea un campo para el backend de store o cache.
func Driver(v string) zap.Field { return zap.String("driver", v) }

// CacheKey crea un campo para una key de cache.
func CacheKey(v string) zap.Field { return zap.String("cache_key", v) }

// Count crea un campo para un conteo.
func Count(v int) zap.Field { return zap.Int("count", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }
