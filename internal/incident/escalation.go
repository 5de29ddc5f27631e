package incident

import "fmt"

// Severity is the paging severity of an escalation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Score thresholds for each severity. A single trusted "everything is
// broken" vote (600) pages as critical.
const (
	criticalScore = 600
	errorScore    = 200
	warningScore  = 30
)

// SeverityForScore maps a total score to a paging severity.
func SeverityForScore(score int64) Severity {
	switch {
	case score >= criticalScore:
		return SeverityCritical
	case score >= errorScore:
		return SeverityError
	case score >= warningScore:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// EscalationEvent is what the escalator receives when an incident pages.
type EscalationEvent struct {
	Summary  string
	Severity Severity
	Source   string
	DedupKey string
	Link     string
}

// Escalation builds the paging event for the incident. The incident id is
// the dedup key so a later resolve closes the same alert.
func (in *Incident) Escalation(source string) EscalationEvent {
	return EscalationEvent{
		Summary: fmt.Sprintf("Downtime reported by %d reporter(s), initial reporter %s (score %d)",
			in.Reporters(), in.InitialReporter, in.TotalScore),
		Severity: SeverityForScore(in.TotalScore),
		Source:   source,
		DedupKey: in.ID,
		Link:     in.Ref.Link,
	}
}
