package incident

import (
	"maps"
	"slices"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusWaitingForInput   Status = "waiting_for_input"
	StatusSendingAlert      Status = "sending_alert"
	StatusAlertSent         Status = "alert_sent"
	StatusAlertAcknowledged Status = "alert_acknowledged"
	StatusResolved          Status = "resolved"
)

// Describe is the status line shown in the incident message.
func (s Status) Describe() string {
	switch s {
	case StatusWaitingForInput:
		return "Waiting for more reports before alerting on-call"
	case StatusSendingAlert:
		return "Alerting on-call"
	case StatusAlertSent:
		return "On-call has been alerted"
	case StatusAlertAcknowledged:
		return "On-call is looking into it"
	case StatusResolved:
		return "Resolved"
	default:
		return string(s)
	}
}

// InitialStatus is the status a new incident starts in when reporter tier t
// created it. A trusted reporter goes straight to paging.
func InitialStatus(t Tier) Status {
	if t == TierTrusted {
		return StatusSendingAlert
	}
	return StatusWaitingForInput
}

// Reference identifies the posted incident message on the chat platform.
type Reference struct {
	MessageID string `json:"message_id"`
	Link      string `json:"link"`
}

// Incident is the active downtime incident and its vote tally.
type Incident struct {
	ID                  string           `json:"id"`
	Ref                 Reference        `json:"ref"`
	InitialReporter     string           `json:"initial_reporter"`
	Status              Status           `json:"status"`
	CreatedAtMs         int64            `json:"created_at_ms"`
	LastMessageUpdateMs int64            `json:"last_message_update_ms"`
	PlainReporters      []string         `json:"plain_reporters"`
	LinkedReporters     []string         `json:"linked_reporters"`
	PatronReporters     []string         `json:"patron_reporters"`
	TrustedReporters    []string         `json:"trusted_reporters"`
	Votes               map[string]int64 `json:"votes"`
	TotalScore          int64            `json:"total_score"`
}

// ApplyVote records reporterID's vote of kind at tier. A later vote from the
// same reporter replaces their earlier score. It returns true the first time
// the reporter is added to a membership list.
//
// Blocked reporters share the linked list; their score is always 0.
func (in *Incident) ApplyVote(tier Tier, reporterID string, kind VoteKind) bool {
	score := tier.Weight() * kind.Multiplier()

	if in.Votes == nil {
		in.Votes = make(map[string]int64)
	}
	if prev, ok := in.Votes[reporterID]; ok {
		in.TotalScore -= prev
	}
	in.Votes[reporterID] = score
	in.TotalScore += score

	// first tier seen wins
	if in.isMember(reporterID) {
		return false
	}
	bucket := in.bucket(tier)
	*bucket = append(*bucket, reporterID)
	return true
}

func (in *Incident) bucket(t Tier) *[]string {
	switch t {
	case TierPlain:
		return &in.PlainReporters
	case TierPatron:
		return &in.PatronReporters
	case TierTrusted:
		return &in.TrustedReporters
	default:
		return &in.LinkedReporters
	}
}

func (in *Incident) isMember(reporterID string) bool {
	return slices.Contains(in.PlainReporters, reporterID) ||
		slices.Contains(in.LinkedReporters, reporterID) ||
		slices.Contains(in.PatronReporters, reporterID) ||
		slices.Contains(in.TrustedReporters, reporterID)
}

// Reporters is the number of distinct reporters that have voted.
func (in *Incident) Reporters() int {
	return len(in.Votes)
}

// Clone returns a deep copy.
func (in *Incident) Clone() *Incident {
	if in == nil {
		return nil
	}
	out := *in
	out.PlainReporters = slices.Clone(in.PlainReporters)
	out.LinkedReporters = slices.Clone(in.LinkedReporters)
	out.PatronReporters = slices.Clone(in.PatronReporters)
	out.TrustedReporters = slices.Clone(in.TrustedReporters)
	out.Votes = maps.Clone(in.Votes)
	return &out
}
