package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/downtime/internal/incident"
)

const (
	adminToken    = "admin-secret"
	reporterToken = "adapter-secret"
	signingSecret = "slack-signing-secret"
)

type reportCall struct {
	tier       incident.Tier
	reporterID string
}

type voteCall struct {
	messageID  string
	tier       incident.Tier
	reporterID string
	kind       incident.VoteKind
}

type mockRegistry struct {
	mu sync.Mutex

	reportOut incident.ReportOutcome
	reportErr error
	reports   []reportCall

	voteApplied bool
	voteErr     error
	votes       []voteCall

	active    *incident.Incident
	resolved  bool
	resolveBy []string
}

func (m *mockRegistry) Report(_ context.Context, tier incident.Tier, reporterID string) (incident.ReportOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, reportCall{tier, reporterID})
	return m.reportOut, m.reportErr
}

func (m *mockRegistry) Vote(_ context.Context, messageID string, tier incident.Tier, reporterID string, kind incident.VoteKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes = append(m.votes, voteCall{messageID, tier, reporterID, kind})
	return m.voteApplied, m.voteErr
}

func (m *mockRegistry) Active(_ context.Context) (*incident.Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, false, nil
	}
	return m.active.Clone(), true, nil
}

func (m *mockRegistry) Resolve(_ context.Context, by string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveBy = append(m.resolveBy, by)
	return m.resolved, nil
}

type staticTiers map[string]incident.Tier

func (s staticTiers) ResolveTier(_ context.Context, reporterID string) (incident.Tier, error) {
	if reporterID == "broken-resolver" {
		return "", errors.New("lookup failed")
	}
	if t, ok := s[reporterID]; ok {
		return t, nil
	}
	return incident.TierPlain, nil
}

func newTestRouter(t *testing.T, reg Registry, cfg Config) chi.Router {
	t.Helper()
	tiers := staticTiers{"staff": incident.TierTrusted, "troll": incident.TierBlocked}
	if cfg.ReporterToken == "" {
		cfg.ReporterToken = reporterToken
	}
	if cfg.SlackSigningSecret == "" {
		cfg.SlackSigningSecret = signingSecret
	}
	api := New(log.Nop(), reg, tiers, cfg)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+reporterToken)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

//  New / constructor

func TestNew_NilRegistry_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil registry did not panic")
		}
	}()
	New(nil, nil, staticTiers{}, Config{})
}

func TestNew_NilTiers_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil tier resolver did not panic")
		}
	}()
	New(nil, &mockRegistry{}, nil, Config{})
}

// Routing

func TestRegisterRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{}, Config{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/reports"},
		{http.MethodPut, "/api/v1/reports"},
		{http.MethodGet, "/api/v1/votes"},
		{http.MethodPost, "/api/v1/incident"},
	}
	for _, tt := range tests {
		rec := do(t, r, tt.method, tt.path, "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{}, Config{})
	for _, path := range []string{"/", "/api/v1", "/api/v2/reports", "/api/v1/unknown"} {
		rec := do(t, r, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}

// Reports

func TestHandleReport_Created(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{reportOut: incident.ReportOutcome{
		Result:     incident.ReportCreated,
		Link:       "https://chat.example/m1",
		IncidentID: "01HZX",
	}}
	r := newTestRouter(t, reg, Config{})

	rec := do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"staff"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeBody(t, rec)
	if body["outcome"] != "created" {
		t.Errorf("outcome = %v, want created", body["outcome"])
	}
	if body["link"] != "https://chat.example/m1" {
		t.Errorf("link = %v", body["link"])
	}
	if body["message"] != "Incident created: https://chat.example/m1" {
		t.Errorf("message = %v", body["message"])
	}

	if len(reg.reports) != 1 || reg.reports[0].tier != incident.TierTrusted {
		t.Errorf("reports = %+v, want one trusted report", reg.reports)
	}
}

func TestHandleReport_PassesResolvedTier(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{reportOut: incident.ReportOutcome{Result: incident.ReportBlocked}}
	r := newTestRouter(t, reg, Config{})

	rec := do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"troll"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decodeBody(t, rec)["outcome"]; got != "blocked" {
		t.Errorf("outcome = %v, want blocked", got)
	}
	if reg.reports[0].tier != incident.TierBlocked {
		t.Errorf("tier = %q, want blocked", reg.reports[0].tier)
	}
}

func TestHandleReport_BadRequests(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{}, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{bad`},
		{"missing reporter", `{}`},
		{"empty reporter", `{"reporter_id":""}`},
		{"reporter too long", fmt.Sprintf(`{"reporter_id":%q}`, strings.Repeat("x", 200))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/reports", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleReport_PostFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{reportErr: fmt.Errorf("%w: %w", incident.ErrPostIncident, errors.New("channel_not_found"))}
	r := newTestRouter(t, reg, Config{})

	rec := do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"a"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestHandleReport_InternalError(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{reportErr: errors.New("boom")}
	r := newTestRouter(t, reg, Config{})

	rec := do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"a"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"broken-resolver"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("resolver failure status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleReport_RateLimited(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{reportOut: incident.ReportOutcome{Result: incident.ReportJoinedExisting}}
	r := newTestRouter(t, reg, Config{ReportsPerMinute: 1, ReportBurst: 2})

	for i := range 2 {
		rec := do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"eager"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("report %d status = %d, want %d", i, rec.Code, http.StatusOK)
		}
	}

	rec := do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"eager"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// other reporters are unaffected
	rec = do(t, r, http.MethodPost, "/api/v1/reports", `{"reporter_id":"patient"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("other reporter status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(reg.reports) != 3 {
		t.Errorf("registry reports = %d, want 3", len(reg.reports))
	}
}

// Votes

func TestHandleVote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		vote string
		want incident.VoteKind
	}{
		{"not-sure", incident.VoteEverythingBroken},
		{"website", incident.VoteWebsiteDown},
		{"tunnels_down", incident.VoteTunnelsDown},
		{"no-issues", incident.VoteWorksFine},
	}
	for _, tt := range tests {
		t.Run(tt.vote, func(t *testing.T) {
			t.Parallel()

			reg := &mockRegistry{voteApplied: true}
			r := newTestRouter(t, reg, Config{})

			body := fmt.Sprintf(`{"message_id":"m1","reporter_id":"staff","vote":%q}`, tt.vote)
			rec := do(t, r, http.MethodPost, "/api/v1/votes", body, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := decodeBody(t, rec)["applied"]; got != true {
				t.Errorf("applied = %v, want true", got)
			}
			want := voteCall{"m1", incident.TierTrusted, "staff", tt.want}
			if len(reg.votes) != 1 || reg.votes[0] != want {
				t.Errorf("votes = %+v, want %+v", reg.votes, want)
			}
		})
	}
}

func TestHandleVote_Stale(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{voteApplied: false}, Config{})

	rec := do(t, r, http.MethodPost, "/api/v1/votes", `{"message_id":"old","reporter_id":"a","vote":"website"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decodeBody(t, rec)["applied"]; got != false {
		t.Errorf("applied = %v, want false", got)
	}
}

func TestHandleVote_BadRequests(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{}, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown vote", `{"message_id":"m1","reporter_id":"a","vote":"meh"}`},
		{"missing message", `{"reporter_id":"a","vote":"website"}`},
		{"missing reporter", `{"message_id":"m1","vote":"website"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/votes", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleVote_ValidationDetails(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{}, Config{})

	rec := do(t, r, http.MethodPost, "/api/v1/votes", `{"reporter_id":"a","vote":"website"}`, nil)
	body := decodeBody(t, rec)
	details, ok := body["details"].([]any)
	if !ok || len(details) != 1 {
		t.Fatalf("details = %v, want one entry", body["details"])
	}
	d := details[0].(map[string]any)
	if d["field"] != "MessageID" || d["message"] != "required" {
		t.Errorf("detail = %v, want MessageID required", d)
	}
}

// Incident

func TestHandleGetIncident(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{}
	r := newTestRouter(t, reg, Config{})

	rec := do(t, r, http.MethodGet, "/api/v1/incident", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status without incident = %d, want %d", rec.Code, http.StatusNotFound)
	}

	in := &incident.Incident{ID: "01HZX", Status: incident.StatusWaitingForInput, Ref: incident.Reference{MessageID: "m1"}}
	in.ApplyVote(incident.TierLinked, "a", incident.VoteEverythingBroken)
	reg.mu.Lock()
	reg.active = in
	reg.mu.Unlock()

	rec = do(t, r, http.MethodGet, "/api/v1/incident", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got incident.Incident
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "01HZX" || got.TotalScore != 30 || got.Ref.MessageID != "m1" {
		t.Errorf("incident = %+v", got)
	}
}

func TestHandleResolve_RequiresToken(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{resolved: true}
	r := newTestRouter(t, reg, Config{AdminToken: adminToken})

	rec := do(t, r, http.MethodDelete, "/api/v1/incident", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	rec = do(t, r, http.MethodDelete, "/api/v1/incident", "", map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if len(reg.resolveBy) != 0 {
		t.Errorf("registry resolved without auth: %v", reg.resolveBy)
	}
}

func TestHandleResolve(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{resolved: true}
	r := newTestRouter(t, reg, Config{AdminToken: adminToken})
	auth := map[string]string{"Authorization": "Bearer " + adminToken}

	rec := do(t, r, http.MethodDelete, "/api/v1/incident?by=ops", "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(reg.resolveBy) != 1 || reg.resolveBy[0] != "ops" {
		t.Errorf("resolveBy = %v, want [ops]", reg.resolveBy)
	}

	reg.mu.Lock()
	reg.resolved = false
	reg.mu.Unlock()
	rec = do(t, r, http.MethodDelete, "/api/v1/incident", "", auth)
	if rec.Code != http.StatusNotFound {
		t.Errorf("nothing to resolve status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleResolve_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &mockRegistry{resolved: true}, Config{})

	rec := do(t, r, http.MethodDelete, "/api/v1/incident", "", map[string]string{"Authorization": "Bearer "})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

// Reporter auth

func TestReporterRoutes_RequireToken(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{reportOut: incident.ReportOutcome{Result: incident.ReportCreated}, voteApplied: true}
	r := newTestRouter(t, reg, Config{})

	tests := []struct {
		name string
		path string
		body string
		auth string
	}{
		{"report without token", "/api/v1/reports", `{"reporter_id":"staff"}`, ""},
		{"report wrong token", "/api/v1/reports", `{"reporter_id":"staff"}`, "Bearer nope"},
		{"report admin token", "/api/v1/reports", `{"reporter_id":"staff"}`, "Bearer " + adminToken},
		{"vote without token", "/api/v1/votes", `{"message_id":"m1","reporter_id":"staff","vote":"website"}`, ""},
		{"vote wrong token", "/api/v1/votes", `{"message_id":"m1","reporter_id":"staff","vote":"website"}`, "Basic Zm9v"},
	}
	for _, tt := range tests {
		rec := do(t, r, http.MethodPost, tt.path, tt.body, map[string]string{"Authorization": tt.auth})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, http.StatusUnauthorized)
		}
	}
	if len(reg.reports) != 0 || len(reg.votes) != 0 {
		t.Errorf("registry reached without auth: reports=%v votes=%v", reg.reports, reg.votes)
	}
}

func TestReporterRoutes_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	reg := &mockRegistry{}
	api := New(log.Nop(), reg, staticTiers{}, Config{})
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	for _, path := range []string{"/api/v1/reports", "/api/v1/votes"} {
		rec := do(t, r, http.MethodPost, path, `{"reporter_id":"staff"}`, map[string]string{"Authorization": "Bearer "})
		if rec.Code != http.StatusForbidden {
			t.Errorf("POST %s = %d, want %d", path, rec.Code, http.StatusForbidden)
		}
	}
	if len(reg.reports) != 0 {
		t.Errorf("registry reached with reporter routes disabled: %v", reg.reports)
	}
}
