package reportapi

import (
	"net/http"

	"github.com/linnemanlabs/downtime/internal/incident"
	"github.com/linnemanlabs/downtime/internal/notify/slack"
)

// handleSlackInteraction records a vote from a signed button click. The
// voter identity comes from the signed payload, never from the caller.
func (a *API) handleSlackInteraction(w http.ResponseWriter, r *http.Request) {
	in, err := slack.ParseInteraction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if in.Type != "block_actions" {
		w.WriteHeader(http.StatusOK)
		return
	}

	kind, err := incident.ParseVoteKind(in.ActionID())
	if err != nil || in.User.ID == "" || in.Container.MessageTS == "" {
		a.logger.Warn(r.Context(), "ignoring slack interaction", "action", in.ActionID(), "user", in.User.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	tier, ok := a.resolveTier(w, r, in.User.ID)
	if !ok {
		return
	}

	if _, err := a.registry.Vote(r.Context(), in.Container.MessageTS, tier, in.User.ID, kind); err != nil {
		a.logger.Error(r.Context(), err, "failed to record slack vote", "message_id", in.Container.MessageTS, "reporter", in.User.ID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSlackCommand reports downtime from a signed slash command and
// answers with an ephemeral reply.
func (a *API) handleSlackCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.ParseCommand(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if !a.limiter.allow(cmd.UserID) {
		respondJSON(w, http.StatusOK, slack.Ephemeral("Too many reports, slow down."))
		return
	}

	tier, ok := a.resolveTier(w, r, cmd.UserID)
	if !ok {
		return
	}

	out, err := a.registry.Report(r.Context(), tier, cmd.UserID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to handle slack report", "reporter", cmd.UserID, "tier", tier)
		respondJSON(w, http.StatusOK, slack.Ephemeral("Something went wrong reporting downtime, please try again."))
		return
	}
	respondJSON(w, http.StatusOK, slack.Ephemeral(out.Message()))
}
