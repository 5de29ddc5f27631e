package incident

import "fmt"

// VoteKind is the symptom a reporter is voting for.
type VoteKind string

const (
	VoteEverythingBroken VoteKind = "everything_broken"
	VoteWebsiteDown      VoteKind = "website_down"
	VoteTunnelsDown      VoteKind = "tunnels_down"
	VoteWorksFine        VoteKind = "works_fine"
)

// voteKinds is the order options are shown in.
var voteKinds = []VoteKind{
	VoteEverythingBroken,
	VoteWebsiteDown,
	VoteTunnelsDown,
	VoteWorksFine,
}

// VoteKinds returns every vote kind in display order.
func VoteKinds() []VoteKind {
	out := make([]VoteKind, len(voteKinds))
	copy(out, voteKinds)
	return out
}

// Multiplier is the signed factor applied to the voter's tier weight.
func (k VoteKind) Multiplier() int64 {
	switch k {
	case VoteEverythingBroken:
		return 3
	case VoteTunnelsDown:
		return 2
	case VoteWebsiteDown:
		return 1
	case VoteWorksFine:
		return -1
	default:
		return 0
	}
}

// OptionID is the identifier of the interactive option (button) for k.
func (k VoteKind) OptionID() string {
	switch k {
	case VoteEverythingBroken:
		return "not-sure"
	case VoteWebsiteDown:
		return "website"
	case VoteTunnelsDown:
		return "tunnels"
	case VoteWorksFine:
		return "no-issues"
	default:
		return ""
	}
}

// Label is the option text shown to reporters.
func (k VoteKind) Label() string {
	switch k {
	case VoteEverythingBroken:
		return "Not sure / Everything?!?!"
	case VoteWebsiteDown:
		return "Website not loading"
	case VoteTunnelsDown:
		return "Tunnels offline"
	case VoteWorksFine:
		return "Works fine for me"
	default:
		return string(k)
	}
}

// ParseVoteKind accepts a vote kind name or an option id.
func ParseVoteKind(s string) (VoteKind, error) {
	for _, k := range voteKinds {
		if s == string(k) || s == k.OptionID() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown vote %q", s)
}
