package reportapi

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/downtime/internal/incident"
)

type reportRequest struct {
	ReporterID string `json:"reporter_id" validate:"required,max=128"`
}

type reportResponse struct {
	Outcome    incident.ReportResult `json:"outcome"`
	Link       string                `json:"link,omitempty"`
	IncidentID string                `json:"incident_id,omitempty"`
	Message    string                `json:"message"`
}

type voteRequest struct {
	MessageID  string `json:"message_id" validate:"required,max=128"`
	ReporterID string `json:"reporter_id" validate:"required,max=128"`
	Vote       string `json:"vote" validate:"required,oneof=not-sure website tunnels no-issues everything_broken website_down tunnels_down works_fine"`
}

type voteResponse struct {
	Applied bool `json:"applied"`
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !a.decode(w, r, &req) {
		return
	}

	if !a.limiter.allow(req.ReporterID) {
		w.Header().Set("Retry-After", "60")
		respondError(w, http.StatusTooManyRequests, "too many reports, slow down")
		return
	}

	tier, ok := a.resolveTier(w, r, req.ReporterID)
	if !ok {
		return
	}

	out, err := a.registry.Report(r.Context(), tier, req.ReporterID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to handle report", "reporter", req.ReporterID, "tier", tier)
		switch {
		case errors.Is(err, incident.ErrPostIncident):
			respondError(w, http.StatusBadGateway, "failed to post incident")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			respondError(w, http.StatusServiceUnavailable, "request cancelled")
		default:
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("downtime.report.result", string(out.Result)))

	respondJSON(w, http.StatusOK, reportResponse{
		Outcome:    out.Result,
		Link:       out.Link,
		IncidentID: out.IncidentID,
		Message:    out.Message(),
	})
}

func (a *API) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !a.decode(w, r, &req) {
		return
	}

	kind, err := incident.ParseVoteKind(req.Vote)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tier, ok := a.resolveTier(w, r, req.ReporterID)
	if !ok {
		return
	}

	applied, err := a.registry.Vote(r.Context(), req.MessageID, tier, req.ReporterID, kind)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to record vote", "message_id", req.MessageID, "reporter", req.ReporterID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, voteResponse{Applied: applied})
}

func (a *API) resolveTier(w http.ResponseWriter, r *http.Request, reporterID string) (incident.Tier, bool) {
	tier, err := a.tiers.ResolveTier(r.Context(), reporterID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to resolve reporter tier", "reporter", reporterID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("downtime.reporter.tier", string(tier)))
	return tier, true
}
