// Package reportapi is the HTTP surface for downtime reports, votes and the
// active incident.
package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/downtime/internal/authmw"
	"github.com/linnemanlabs/downtime/internal/incident"
	"github.com/linnemanlabs/downtime/internal/notify/slack"
)

// Registry defines the incident operations reportapi needs.
type Registry interface {
	Report(ctx context.Context, tier incident.Tier, reporterID string) (incident.ReportOutcome, error)
	Vote(ctx context.Context, messageID string, tier incident.Tier, reporterID string, kind incident.VoteKind) (bool, error)
	Active(ctx context.Context) (*incident.Incident, bool, error)
	Resolve(ctx context.Context, by string) (bool, error)
}

// Config tunes the API.
type Config struct {
	// AdminToken guards DELETE /api/v1/incident. Empty disables it.
	AdminToken string

	// ReporterToken guards POST /api/v1/reports and /api/v1/votes, which
	// trust the reporter id in the body. Only the chat adapter should hold
	// it. Empty disables both routes.
	ReporterToken string

	// SlackSigningSecret verifies requests on /slack. Empty disables them.
	SlackSigningSecret string

	// ReportsPerMinute is each reporter's sustained report rate. Zero
	// disables limiting.
	ReportsPerMinute float64

	// ReportBurst is how many reports a reporter may send at once.
	ReportBurst int
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	registry Registry
	tiers    incident.TierResolver
	validate *validator.Validate
	limiter  *reporterLimiter
	admin    func(http.Handler) http.Handler
	reporter func(http.Handler) http.Handler
	signed   func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, registry Registry, tiers incident.TierResolver, cfg Config) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if registry == nil {
		panic(xerrors.New("incident registry is required"))
	}
	if tiers == nil {
		panic(xerrors.New("tier resolver is required"))
	}
	return &API{
		logger:   logger,
		registry: registry,
		tiers:    tiers,
		validate: validator.New(),
		limiter:  newReporterLimiter(cfg.ReportsPerMinute, cfg.ReportBurst, time.Now),
		admin:    authmw.BearerToken(cfg.AdminToken),
		reporter: authmw.BearerToken(cfg.ReporterToken),
		signed:   slack.VerifySignature(cfg.SlackSigningSecret, time.Now),
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.reporter).Post("/reports", a.handleReport)
		r.With(a.reporter).Post("/votes", a.handleVote)
		r.Get("/incident", a.handleGetIncident)
		r.With(a.admin).Delete("/incident", a.handleResolve)
	})
	r.Route("/slack", func(r chi.Router) {
		r.Use(a.signed)
		r.Post("/interactions", a.handleSlackInteraction)
		r.Post("/commands", a.handleSlackCommand)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondValidationError(w http.ResponseWriter, err error) {
	var details []map[string]string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			details = append(details, map[string]string{
				"field":   e.Field(),
				"message": e.Tag(),
			})
		}
	}
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation error",
		"details": details,
	})
}

// decode reads a JSON body into v and validates it. It writes the error
// response and returns false on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		respondValidationError(w, err)
		return false
	}
	return true
}
