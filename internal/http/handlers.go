package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/keytrust/internal/http/errors"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/resolver"
)

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.deps.Timeout > 0 {
		return context.WithTimeout(r.Context(), h.deps.Timeout)
	}
	return context.WithCancel(r.Context())
}

// health maneja GET /healthz
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(r.Context()); err != nil {
			logger.From(r.Context()).Warn("keystore ping failed", logger.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// keyStatus maneja GET /v1/orgs/{orgID}/keys/{keyID}/status
func (h *handlers) keyStatus(w http.ResponseWriter, r *http.Request) {
	orgID, keyID := chi.URLParam(r, "orgID"), chi.URLParam(r, "keyID")
	ctx, cancel := h.context(r)
	defer cancel()

	s := h.deps.Resolver.NewSession(ctx, orgID)
	if err := s.Resolve(ctx, keyID); err != nil {
		writeResolveError(w, err)
		return
	}
	st, _ := s.Status(keyID)
	writeJSON(w, http.StatusOK, st)
}

// path maneja GET /v1/orgs/{orgID}/paths?pivot=&from=&to=
func (h *handlers) path(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	q := r.URL.Query()
	pivot, from, to := strings.TrimSpace(q.Get("pivot")), strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if pivot == "" || from == "" || to == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("pivot, from and to are required"))
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	v, err := h.deps.Resolver.Check(ctx, orgID, pivot, from, to)
	if err != nil {
		writeResolveError(w, err)
		return
	}
	switch v.Outcome {
	case resolver.OutcomeTrusted:
		writeJSON(w, http.StatusOK, v)
	case resolver.OutcomeNotTrusted:
		httperrors.WriteError(w, httperrors.ErrNotTrusted.WithDetail(v.Reason))
	default:
		httperrors.WriteError(w, httperrors.ErrTrustUnknown.WithDetail(v.Reason))
	}
}

func writeResolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		httperrors.WriteError(w, httperrors.ErrRequestTimeout.WithCause(err))
		return
	}
	httperrors.WriteError(w, err)
}
