package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/downtime/internal/savecell"
)

var tracer = otel.Tracer("github.com/linnemanlabs/downtime/internal/incident")

// maxRetired bounds Slot.Retired.
const maxRetired = 32

// defaultOutboundTimeout bounds follow-up calls made after state is committed.
const defaultOutboundTimeout = 30 * time.Second

// Slot is the persisted registry state: the active incident, if any, and
// earlier incident messages that may still show vote options.
type Slot struct {
	Active  *Incident   `json:"active"`
	Retired []Reference `json:"retired,omitempty"`
}

// retire remembers ref, dropping the oldest entry past maxRetired.
func (s *Slot) retire(ref Reference) {
	if s.isRetired(ref.MessageID) {
		return
	}
	s.Retired = append(s.Retired, ref)
	if n := len(s.Retired) - maxRetired; n > 0 {
		s.Retired = append([]Reference(nil), s.Retired[n:]...)
	}
}

func (s *Slot) isRetired(messageID string) bool {
	for _, ref := range s.Retired {
		if ref.MessageID == messageID {
			return true
		}
	}
	return false
}

// NewSlot is the empty state used when nothing has been saved yet.
func NewSlot() Slot { return Slot{} }

// ReportResult is the kind of outcome of a downtime report.
type ReportResult string

const (
	ReportBlocked          ReportResult = "blocked"
	ReportJoinedExisting   ReportResult = "joined_existing"
	ReportCreated          ReportResult = "created"
	ReportInsufficientTier ReportResult = "insufficient_tier"
)

// ReportOutcome is what a reporter is told after reporting downtime.
type ReportOutcome struct {
	Result     ReportResult
	Link       string
	IncidentID string

	// Raced is set when the reporter created an incident but another one
	// was installed first and theirs was folded into it.
	Raced bool
}

// Message is the reply shown to the reporter.
func (o ReportOutcome) Message() string {
	switch o.Result {
	case ReportBlocked:
		return "You are blocked from making reports"
	case ReportJoinedExisting:
		if o.Raced {
			return "Looks like someone beat you to it, an incident is currently active: " + o.Link
		}
		return "An incident is currently active, see " + o.Link
	case ReportCreated:
		return "Incident created: " + o.Link
	case ReportInsufficientTier:
		return "Link your account before reporting downtime. If the website is down, ask someone with a linked account to report it."
	default:
		return ""
	}
}

// Config tunes the registry.
type Config struct {
	// CreateMinTier is the least trusted tier allowed to create an incident.
	// Defaults to plain.
	CreateMinTier Tier

	// RefreshInterval throttles edits of the incident message after votes.
	// Zero disables refreshes.
	RefreshInterval time.Duration

	// EscalationSource is the source label on paging events.
	EscalationSource string

	// OutboundTimeout bounds notifier and escalator calls made after a
	// change is committed. They run detached from the caller's context so
	// a disconnecting client cannot cancel them. Defaults to 30s.
	OutboundTimeout time.Duration

	Hooks Hooks

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Registry owns the single active incident.
type Registry struct {
	cell      *savecell.Cell[Slot]
	notifier  Notifier
	escalator Escalator
	logger    log.Logger
	cfg       Config
}

// NewRegistry creates a registry over cell. escalator may be nil.
func NewRegistry(cell *savecell.Cell[Slot], notifier Notifier, escalator Escalator, logger log.Logger, cfg Config) (*Registry, error) {
	if cell == nil {
		panic(xerrors.New("incident state cell is required"))
	}
	if notifier == nil {
		return nil, ErrNoNotifier
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.CreateMinTier == "" {
		cfg.CreateMinTier = TierPlain
	}
	if !cfg.CreateMinTier.Valid() {
		return nil, fmt.Errorf("invalid create min tier %q", cfg.CreateMinTier)
	}
	if cfg.EscalationSource == "" {
		cfg.EscalationSource = "downtime"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OutboundTimeout <= 0 {
		cfg.OutboundTimeout = defaultOutboundTimeout
	}

	// seed gauges from state loaded at open
	g, err := cell.Read(context.Background())
	if err != nil {
		return nil, err
	}
	if active := g.Value().Active; active != nil {
		cfg.Hooks.score(active.TotalScore, true)
	} else {
		cfg.Hooks.score(0, false)
	}
	g.Release()

	return &Registry{
		cell:      cell,
		notifier:  notifier,
		escalator: escalator,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// detach returns a context for follow-up calls after a committed change. It
// keeps ctx's values but not its cancellation.
func (r *Registry) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.OutboundTimeout)
}

// pendingEdit is a message edit claimed under the lock and sent after it.
type pendingEdit struct {
	ref Reference
	msg Message
}

// Report handles a "service is down" report from reporterID at tier.
// It joins the active incident or creates one. The only error besides a
// cancelled context is a failure to post a new incident message.
func (r *Registry) Report(ctx context.Context, tier Tier, reporterID string) (ReportOutcome, error) {
	ctx, span := tracer.Start(ctx, "incident.Report", trace.WithAttributes(
		attribute.String("downtime.reporter.tier", string(tier)),
	))
	defer span.End()

	out, err := r.report(ctx, tier, reporterID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReportOutcome{}, err
	}

	span.SetAttributes(
		attribute.String("downtime.report.result", string(out.Result)),
		attribute.String("downtime.incident.id", out.IncidentID),
	)
	r.cfg.Hooks.report(out.Result)
	return out, nil
}

func (r *Registry) report(ctx context.Context, tier Tier, reporterID string) (ReportOutcome, error) {
	if tier == TierBlocked {
		return ReportOutcome{Result: ReportBlocked}, nil
	}

	out, edit, joined, err := r.join(ctx, tier, reporterID)
	if err != nil {
		return ReportOutcome{}, err
	}
	if joined {
		octx, cancel := r.detach(ctx)
		defer cancel()
		r.refresh(octx, edit)
		return out, nil
	}

	if !tier.AtLeast(r.cfg.CreateMinTier) {
		return ReportOutcome{Result: ReportInsufficientTier}, nil
	}
	return r.create(ctx, tier, reporterID)
}

// join folds the report into the active incident, if there is one.
func (r *Registry) join(ctx context.Context, tier Tier, reporterID string) (ReportOutcome, *pendingEdit, bool, error) {
	g, err := r.cell.Write(ctx)
	if err != nil {
		return ReportOutcome{}, nil, false, err
	}
	defer g.Release()

	if g.Value().Active == nil {
		return ReportOutcome{}, nil, false, nil
	}
	active := g.Mut().Active
	active.ApplyVote(tier, reporterID, VoteEverythingBroken)
	r.cfg.Hooks.score(active.TotalScore, true)
	out := ReportOutcome{
		Result:     ReportJoinedExisting,
		Link:       active.Ref.Link,
		IncidentID: active.ID,
	}
	return out, r.claimRefresh(active), true, nil
}

// create posts a new incident message without holding the lock, then
// installs the incident unless another report won in the meantime.
func (r *Registry) create(ctx context.Context, tier Tier, reporterID string) (ReportOutcome, error) {
	L := r.logger.With("reporter", reporterID, "tier", tier)
	status := InitialStatus(tier)

	draft := &Incident{
		ID:              ulid.Make().String(),
		InitialReporter: reporterID,
		Status:          status,
		Votes:           make(map[string]int64),
	}
	draft.ApplyVote(tier, reporterID, VoteEverythingBroken)

	ref, err := r.notifier.PostIncident(ctx, draft.message())
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("%w: %w", ErrPostIncident, err)
	}
	now := r.cfg.Now().UnixMilli()
	draft.Ref = ref
	draft.CreatedAtMs = now
	draft.LastMessageUpdateMs = now

	out, installed, ev, err := r.install(ctx, draft, tier, reporterID)

	// the message exists and the slot decision is made, follow-up must
	// finish even if the caller goes away
	octx, cancel := r.detach(ctx)
	defer cancel()

	if err != nil {
		r.discard(octx, ref)
		return ReportOutcome{}, err
	}
	if !installed {
		L.Info(ctx, "lost incident creation race, discarding message", "message_id", ref.MessageID)
		r.cfg.Hooks.raceLost()
		r.discard(octx, ref)
		return out, nil
	}

	L.Info(ctx, "incident created", "incident_id", out.IncidentID, "status", status, "link", ref.Link)

	if err := r.notifier.OpenThread(octx, ref, threadTitle); err != nil {
		L.Warn(ctx, "failed to open incident thread", "incident_id", out.IncidentID, "err", err)
	}
	if ev != nil {
		r.trigger(octx, *ev)
	}
	return out, nil
}

// install re-checks the slot and installs draft if it is still empty.
// Otherwise the reporter is folded into the winner.
func (r *Registry) install(ctx context.Context, draft *Incident, tier Tier, reporterID string) (ReportOutcome, bool, *EscalationEvent, error) {
	g, err := r.cell.Write(ctx)
	if err != nil {
		return ReportOutcome{}, false, nil, err
	}
	defer g.Release()

	slot := g.Mut()
	if winner := slot.Active; winner != nil {
		winner.ApplyVote(tier, reporterID, VoteEverythingBroken)
		r.cfg.Hooks.score(winner.TotalScore, true)
		return ReportOutcome{
			Result:     ReportJoinedExisting,
			Link:       winner.Ref.Link,
			IncidentID: winner.ID,
			Raced:      true,
		}, false, nil, nil
	}

	slot.Active = draft
	r.cfg.Hooks.score(draft.TotalScore, true)

	var ev *EscalationEvent
	if draft.Status == StatusSendingAlert && r.escalator != nil {
		e := draft.Escalation(r.cfg.EscalationSource)
		ev = &e
	}
	return ReportOutcome{
		Result:     ReportCreated,
		Link:       draft.Ref.Link,
		IncidentID: draft.ID,
	}, true, ev, nil
}

// discard removes a message that never became the active incident. If it
// cannot be deleted, its vote options are stripped instead. If that fails
// too the message is retired so a later vote on it retries the strip.
func (r *Registry) discard(ctx context.Context, ref Reference) {
	err := r.notifier.DeleteMessage(ctx, ref)
	if err == nil {
		return
	}
	r.logger.Warn(ctx, "failed to delete orphaned incident message", "message_id", ref.MessageID, "err", err)
	if err := r.notifier.EditMessage(ctx, ref, closedMessage()); err != nil {
		r.logger.Error(ctx, err, "failed to close orphaned incident message", "message_id", ref.MessageID)
		r.retire(ctx, ref)
	}
}

// retire records ref as a past incident message that may still show vote
// options.
func (r *Registry) retire(ctx context.Context, ref Reference) {
	g, err := r.cell.Write(ctx)
	if err != nil {
		r.logger.Warn(ctx, "failed to retire incident message", "message_id", ref.MessageID, "err", err)
		return
	}
	defer g.Release()
	g.Mut().retire(ref)
}

func (r *Registry) trigger(ctx context.Context, ev EscalationEvent) {
	if err := r.escalator.Trigger(ctx, ev); err != nil {
		r.logger.Error(ctx, err, "failed to page on-call", "incident_id", ev.DedupKey, "severity", ev.Severity)
		return
	}
	r.logger.Info(ctx, "paged on-call", "incident_id", ev.DedupKey, "severity", ev.Severity)
}

// Vote records a vote cast on the message messageID. It returns false when
// the message does not belong to the active incident. A stale message the
// registry posted earlier then has its vote options removed; unknown
// message ids are left alone.
func (r *Registry) Vote(ctx context.Context, messageID string, tier Tier, reporterID string, kind VoteKind) (bool, error) {
	ctx, span := tracer.Start(ctx, "incident.Vote", trace.WithAttributes(
		attribute.String("downtime.reporter.tier", string(tier)),
		attribute.String("downtime.vote.kind", string(kind)),
	))
	defer span.End()

	applied, edit, err := r.vote(ctx, messageID, tier, reporterID, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("downtime.vote.applied", applied))
	r.cfg.Hooks.vote(kind, applied)

	octx, cancel := r.detach(ctx)
	defer cancel()

	if !applied {
		if edit == nil {
			r.logger.Info(ctx, "vote on unknown message ignored", "message_id", messageID, "reporter", reporterID)
			return false, nil
		}
		r.logger.Info(ctx, "vote on retired incident message", "message_id", messageID, "reporter", reporterID)
		if err := r.notifier.EditMessage(octx, edit.ref, edit.msg); err != nil {
			r.logger.Warn(ctx, "failed to close stale incident message", "message_id", messageID, "err", err)
		}
		return false, nil
	}
	r.refresh(octx, edit)
	return true, nil
}

// vote applies the vote to the active incident. When the message is not the
// active one, the returned edit is non-nil only for retired messages.
func (r *Registry) vote(ctx context.Context, messageID string, tier Tier, reporterID string, kind VoteKind) (bool, *pendingEdit, error) {
	g, err := r.cell.Write(ctx)
	if err != nil {
		return false, nil, err
	}
	defer g.Release()

	slot := g.Value()
	if active := slot.Active; active == nil || active.Ref.MessageID != messageID {
		for _, ref := range slot.Retired {
			if ref.MessageID == messageID {
				return false, &pendingEdit{ref: ref, msg: closedMessage()}, nil
			}
		}
		return false, nil, nil
	}
	active := g.Mut().Active
	active.ApplyVote(tier, reporterID, kind)
	r.cfg.Hooks.score(active.TotalScore, true)
	return true, r.claimRefresh(active), nil
}

// claimRefresh reserves a message refresh if the last one is old enough.
// Must be called with the write guard held and the value marked dirty.
func (r *Registry) claimRefresh(in *Incident) *pendingEdit {
	if r.cfg.RefreshInterval <= 0 {
		return nil
	}
	now := r.cfg.Now().UnixMilli()
	if now-in.LastMessageUpdateMs < r.cfg.RefreshInterval.Milliseconds() {
		return nil
	}
	in.LastMessageUpdateMs = now
	return &pendingEdit{ref: in.Ref, msg: in.message()}
}

func (r *Registry) refresh(ctx context.Context, edit *pendingEdit) {
	if edit == nil {
		return
	}
	if err := r.notifier.EditMessage(ctx, edit.ref, edit.msg); err != nil {
		r.logger.Warn(ctx, "failed to refresh incident message", "message_id", edit.ref.MessageID, "err", err)
	}
}

// Active returns a copy of the active incident.
func (r *Registry) Active(ctx context.Context) (*Incident, bool, error) {
	g, err := r.cell.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	defer g.Release()

	active := g.Value().Active
	if active == nil {
		return nil, false, nil
	}
	return active.Clone(), true, nil
}

// Resolve clears the active incident. by names who resolved it.
// It returns false when there was nothing to resolve.
func (r *Registry) Resolve(ctx context.Context, by string) (bool, error) {
	ctx, span := tracer.Start(ctx, "incident.Resolve")
	defer span.End()

	in, err := r.take(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	if in == nil {
		return false, nil
	}
	span.SetAttributes(attribute.String("downtime.incident.id", in.ID))

	L := r.logger.With("incident_id", in.ID)
	L.Info(ctx, "incident resolved", "by", by, "total_score", in.TotalScore, "reporters", in.Reporters())

	octx, cancel := r.detach(ctx)
	defer cancel()

	if err := r.notifier.EditMessage(octx, in.Ref, resolvedMessage(in, by)); err != nil {
		L.Warn(ctx, "failed to mark incident message resolved", "err", err)
		r.retire(octx, in.Ref)
	}
	if r.escalator != nil {
		if err := r.escalator.Resolve(octx, in.ID); err != nil {
			L.Error(ctx, err, "failed to resolve page")
		}
	}
	return true, nil
}

func (r *Registry) take(ctx context.Context) (*Incident, error) {
	g, err := r.cell.Write(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	if g.Value().Active == nil {
		return nil, nil
	}
	slot := g.Mut()
	in := slot.Active
	slot.Active = nil
	r.cfg.Hooks.score(0, false)
	return in, nil
}
