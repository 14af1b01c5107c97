// Package middlewares contiene los decoradores HTTP comunes: request id,
// logging por request y recuperación de panics.
package middlewares

import (
	"context"
	"net/http"
)

// Middleware es un decorador de http.Handler (compatible con chi.Router.Use).
type Middleware func(http.Handler) http.Handler

type ctxKey string

const ctxRequestIDKey ctxKey = "request_id"

// setRequestID inyecta el request ID en el contexto (interno)
func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID obtiene el request ID del contexto.
// Retorna cadena vacía si no hay request ID.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(ctxRequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
