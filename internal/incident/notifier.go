package incident

import (
	"context"
	"errors"
)

var (
	// ErrNoNotifier is returned by NewRegistry when no notifier is configured.
	ErrNoNotifier = errors.New("incident: notifier is required")

	// ErrPostIncident wraps failures to post a new incident message.
	ErrPostIncident = errors.New("incident: post incident message")
)

// Message is the platform-neutral content of an incident message. Options
// are rendered as interactive choices; a message without options is inert.
type Message struct {
	Title           string
	InitialReporter string
	Status          Status
	Reporters       int
	Score           int64
	Note            string
	Options         []VoteKind
}

// Notifier posts and maintains the incident message on the chat platform.
type Notifier interface {
	PostIncident(ctx context.Context, msg Message) (Reference, error)
	EditMessage(ctx context.Context, ref Reference, msg Message) error
	DeleteMessage(ctx context.Context, ref Reference) error
	OpenThread(ctx context.Context, ref Reference, title string) error
}

// Escalator pages on-call.
type Escalator interface {
	Trigger(ctx context.Context, ev EscalationEvent) error
	Resolve(ctx context.Context, dedupKey string) error
}

// TierResolver decides a reporter's trust tier.
type TierResolver interface {
	ResolveTier(ctx context.Context, reporterID string) (Tier, error)
}

const (
	messageTitle  = "Downtime Reported"
	threadTitle   = "Downtime Discussion"
	resolvedTitle = "Downtime Resolved"
	closedTitle   = "Downtime Report Closed"
	closedNote    = "This report is no longer active."
)

// message renders the live incident message with all vote options.
func (in *Incident) message() Message {
	return Message{
		Title:           messageTitle,
		InitialReporter: in.InitialReporter,
		Status:          in.Status,
		Reporters:       in.Reporters(),
		Score:           in.TotalScore,
		Options:         VoteKinds(),
	}
}

func resolvedMessage(in *Incident, by string) Message {
	note := "Marked resolved."
	if by != "" {
		note = "Marked resolved by " + by + "."
	}
	return Message{
		Title:           resolvedTitle,
		InitialReporter: in.InitialReporter,
		Status:          StatusResolved,
		Reporters:       in.Reporters(),
		Score:           in.TotalScore,
		Note:            note,
	}
}

func closedMessage() Message {
	return Message{Title: closedTitle, Note: closedNote}
}
