package reportapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	active, ok, err := a.registry.Active(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read active incident")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no active incident")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("downtime.incident.id", active.ID),
		attribute.String("downtime.incident.status", string(active.Status)),
	)

	respondJSON(w, http.StatusOK, active)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	by := r.URL.Query().Get("by")
	if err := a.validate.Var(by, "omitempty,max=128"); err != nil {
		respondValidationError(w, err)
		return
	}

	resolved, err := a.registry.Resolve(r.Context(), by)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to resolve incident")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !resolved {
		respondError(w, http.StatusNotFound, "no active incident")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}
